// Package client implements the caller side of the gateway protocol:
// authenticated synchronous calls over TLS, the transport text encoding,
// and the blocking delivery-confirmation poll.
package client

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/slavaboiko/smsgate/internal/models"
)

// TokenEnvVar names the environment variable consulted when no API token
// is passed explicitly.
const TokenEnvVar = "SMSGATE_APITOKEN"

// DefaultPollInterval is the fixed delay between delivery-status polls.
const DefaultPollInterval = 3 * time.Second

var (
	// ErrMissingToken is returned when neither the constructor nor the
	// environment supplies an API token.
	ErrMissingToken = errors.New("API token must be provided or set via " + TokenEnvVar)
	// ErrUnauthorized is returned when the gateway rejects the token.
	ErrUnauthorized = errors.New("invalid API token")
	// ErrNotEnabled is returned when the called API function is
	// disabled on the gateway.
	ErrNotEnabled = errors.New("API function is not enabled")
	// ErrDeliveryTimeout is returned by the bounded delivery wait when
	// the gateway does not confirm in time.
	ErrDeliveryTimeout = errors.New("delivery confirmation timed out")
)

// Options configures a Client.
type Options struct {
	Host string
	Port int
	// CAFile optionally adds a custom trust anchor on top of the
	// system roots.
	CAFile string
	// APIToken overrides the SMSGATE_APITOKEN environment variable.
	APIToken string
	// MaxWait bounds the delivery-confirmation wait in SendSMS. Zero
	// keeps the protocol's native behavior: block until delivered,
	// without timeout.
	MaxWait time.Duration
}

// Client is a synchronous gateway client. Every privileged call sends the
// bearer token as the first field of the request body. Calls block the
// caller until a reply or a transport error arrives.
type Client struct {
	baseURL      string
	apiToken     string
	maxWait      time.Duration
	pollInterval time.Duration
	httpClient   *http.Client

	// sleep is replaceable for tests of the poll loop.
	sleep func(time.Duration)
}

// New creates a gateway client. The API token falls back to the
// environment when not set in the options.
func New(opts Options) (*Client, error) {
	token := opts.APIToken
	if token == "" {
		token = os.Getenv(TokenEnvVar)
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	tlsConfig := &tls.Config{}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		roots, err := x509.SystemCertPool()
		if err != nil {
			roots = x509.NewCertPool()
		}
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		tlsConfig.RootCAs = roots
	}

	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 7000
	}

	return &Client{
		baseURL:      fmt.Sprintf("https://%s:%d", host, port),
		apiToken:     token,
		maxWait:      opts.MaxWait,
		pollInterval: DefaultPollInterval,
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		sleep: time.Sleep,
	}, nil
}

// call posts a request body to one protocol method and decodes the reply.
func (c *Client) call(method string, request, response interface{}) error {
	encoded, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/rpc/"+method, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", method, ErrUnauthorized)
	case http.StatusMethodNotAllowed:
		return fmt.Errorf("%s: %w", method, ErrNotEnabled)
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, body)
	}

	if response == nil {
		return nil
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// Ping checks that the gateway is reachable. It is the only
// unauthenticated call.
func (c *Client) Ping() (string, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/rpc/ping")
	if err != nil {
		return "", fmt.Errorf("call ping: %w", err)
	}
	defer resp.Body.Close()

	var result string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ping response: %w", err)
	}
	return result, nil
}

// GetStats returns the per-modem telemetry and health rows.
func (c *Client) GetStats() (map[string]map[string]interface{}, error) {
	var reply struct {
		Status string                            `json:"status"`
		Stats  map[string]map[string]interface{} `json:"stats"`
	}
	req := map[string]string{"token": c.apiToken}
	if err := c.call("get_stats", req, &reply); err != nil {
		return nil, err
	}
	return reply.Stats, nil
}

// GetSMS fetches buffered SMS for one phone number (or all, when empty).
// The transport-encoded text is decoded immediately so callers always see
// plaintext.
func (c *Client) GetSMS(phoneNumber string) ([]models.SMSPayload, error) {
	req := map[string]string{"token": c.apiToken, "phone_number": phoneNumber}
	var messages []models.SMSPayload
	if err := c.call("get_sms", req, &messages); err != nil {
		return nil, err
	}
	return decodeAll(messages)
}

// GetAllSMS fetches buffered SMS across all modems, decoded like GetSMS.
func (c *Client) GetAllSMS() ([]models.SMSPayload, error) {
	req := map[string]string{"token": c.apiToken}
	var messages []models.SMSPayload
	if err := c.call("get_all_sms", req, &messages); err != nil {
		return nil, err
	}
	return decodeAll(messages)
}

// ReadStoredSMS fetches SMS from modem-resident storage. Unlike GetSMS
// and GetAllSMS, the text field is returned as-is without a client-side
// decode. The asymmetry is inherited from the protocol.
func (c *Client) ReadStoredSMS() ([]models.SMSPayload, error) {
	req := map[string]string{"token": c.apiToken}
	var messages []models.SMSPayload
	if err := c.call("read_stored_sms", req, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func decodeAll(messages []models.SMSPayload) ([]models.SMSPayload, error) {
	for i := range messages {
		text, err := models.DecodePayloadText(messages[i].Text)
		if err != nil {
			return nil, err
		}
		messages[i].Text = text
	}
	return messages, nil
}

// SendUSSD runs a synchronous USSD exchange through the modem owning the
// sender number. It returns the operation status ("OK" or "ERROR") and
// the response text or error message.
func (c *Client) SendUSSD(sender, ussdCode string) (string, string, error) {
	req := map[string]string{
		"token":     c.apiToken,
		"sender":    sender,
		"ussd_code": ussdCode,
	}
	var reply struct {
		Status   string `json:"status"`
		Response string `json:"response"`
	}
	if err := c.call("send_ussd", req, &reply); err != nil {
		return "", "", err
	}
	return reply.Status, reply.Response, nil
}

// SendSMS submits an SMS and returns its id. With waitForDelivery the
// call polls GetDeliveryStatus every DefaultPollInterval until the
// gateway reports delivery. Unless Options.MaxWait is set, the wait has
// no timeout: a gateway that never confirms blocks the caller
// indefinitely, which is the protocol's native behavior.
func (c *Client) SendSMS(sender, recipient, text string, flash, waitForDelivery bool) (string, error) {
	req := map[string]interface{}{
		"token":     c.apiToken,
		"sender":    sender,
		"recipient": recipient,
		"text":      text,
		"flash":     flash,
	}
	var reply struct {
		SMSID string `json:"sms_id"`
	}
	if err := c.call("send_sms", req, &reply); err != nil {
		return "", err
	}

	if waitForDelivery {
		if err := c.waitForDelivery(reply.SMSID); err != nil {
			return reply.SMSID, err
		}
	}
	return reply.SMSID, nil
}

func (c *Client) waitForDelivery(smsID string) error {
	start := time.Now()
	for {
		delivered, err := c.GetDeliveryStatus(smsID)
		if err != nil {
			return err
		}
		if delivered {
			return nil
		}
		if c.maxWait > 0 && time.Since(start) >= c.maxWait {
			return fmt.Errorf("%w: sms %s after %s", ErrDeliveryTimeout, smsID, c.maxWait)
		}
		c.sleep(c.pollInterval)
	}
}

// GetDeliveryStatus reports whether an SMS has been delivered.
func (c *Client) GetDeliveryStatus(smsID string) (bool, error) {
	req := map[string]string{"token": c.apiToken, "sms_id": smsID}
	var reply struct {
		Delivered bool `json:"delivered"`
	}
	if err := c.call("get_delivery_status", req, &reply); err != nil {
		return false, err
	}
	return reply.Delivered, nil
}

// GetHealthState returns the gateway's aggregated health level ("OK",
// "WARNING" or "CRITICAL") and a concatenation of log messages.
func (c *Client) GetHealthState() (string, string, error) {
	req := map[string]string{"token": c.apiToken}
	var reply struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := c.call("get_health_state", req, &reply); err != nil {
		return "", "", err
	}
	return reply.Level, reply.Message, nil
}
