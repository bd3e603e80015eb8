package handlers

import (
	"net/http"
	"time"

	"github.com/slavaboiko/smsgate/internal/config"
	"github.com/slavaboiko/smsgate/internal/metrics"
	"github.com/slavaboiko/smsgate/internal/modem"
	"github.com/slavaboiko/smsgate/internal/models"
	"github.com/slavaboiko/smsgate/pkg/logger"
	"github.com/slavaboiko/smsgate/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GatewayService is the slice of the gateway the RPC surface needs.
type GatewayService interface {
	SendSMS(sms *models.SMS) (string, error)
	SendUSSD(modemID, code string) (string, error)
	DeliveryStatus(smsID string) bool
	BufferedSMS(modemID string) []*models.SMS
	ReadStoredSMS() ([]*models.SMS, error)
	IdentifiersForPhoneNumber(phoneNumber string) []string
}

// RPCHandler exposes the gateway protocol over HTTP. Every privileged
// request carries the caller's bearer token as the first body field.
type RPCHandler struct {
	cfg     *config.Config
	gateway GatewayService
	stats   func() map[string]modem.Stats
	health  func() (string, string)
}

// NewRPCHandler creates the protocol handler.
func NewRPCHandler(cfg *config.Config, gateway GatewayService, stats func() map[string]modem.Stats, health func() (string, string)) *RPCHandler {
	return &RPCHandler{
		cfg:     cfg,
		gateway: gateway,
		stats:   stats,
		health:  health,
	}
}

// RegisterRoutes wires the protocol methods onto the router.
func (h *RPCHandler) RegisterRoutes(router gin.IRouter) {
	rpc := router.Group("/rpc")
	rpc.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RPCRequestDuration.Observe(time.Since(start).Seconds())
	})
	{
		rpc.GET("/ping", h.Ping)
		rpc.POST("/get_stats", h.GetStats)
		rpc.POST("/get_sms", h.GetSMS)
		rpc.POST("/get_all_sms", h.GetAllSMS)
		rpc.POST("/read_stored_sms", h.ReadStoredSMS)
		rpc.POST("/send_ussd", h.SendUSSD)
		rpc.POST("/send_sms", h.SendSMS)
		rpc.POST("/get_delivery_status", h.GetDeliveryStatus)
		rpc.POST("/get_health_state", h.GetHealthState)
	}
}

// authorize verifies the token against the hash list for one method
// group. On failure it writes the 401 response and returns false.
func (h *RPCHandler) authorize(c *gin.Context, token string, hashes []string) bool {
	if utils.CheckTokenInList(token, hashes) {
		return true
	}
	metrics.RPCUnauthorizedTotal.Inc()
	logger.Error("Invalid API token",
		zap.String("client", c.ClientIP()),
		zap.String("path", c.FullPath()),
	)
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API token"})
	return false
}

// Ping is the unauthenticated liveness check.
func (h *RPCHandler) Ping(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("ping").Inc()
	c.JSON(http.StatusOK, "OK")
}

type tokenRequest struct {
	Token string `json:"token"`
}

// GetStats returns the telemetry and health row of every modem.
func (h *RPCHandler) GetStats(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("get_stats").Inc()

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensGetStats) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "OK", "stats": h.stats()})
}

type getSMSRequest struct {
	Token       string `json:"token"`
	PhoneNumber string `json:"phone_number"`
}

// GetSMS returns buffered SMS for one phone number, or for all modems
// when the phone number is empty.
func (h *RPCHandler) GetSMS(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("get_sms").Inc()

	var req getSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensGetSMS) {
		return
	}

	logger.Info("Fetching buffered SMS", zap.String("phone_number", req.PhoneNumber))
	c.JSON(http.StatusOK, h.collectBuffered(req.PhoneNumber))
}

// GetAllSMS returns buffered SMS across all modems.
func (h *RPCHandler) GetAllSMS(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("get_all_sms").Inc()

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensGetSMS) {
		return
	}

	logger.Info("Fetching all buffered SMS")
	c.JSON(http.StatusOK, h.collectBuffered(""))
}

func (h *RPCHandler) collectBuffered(phoneNumber string) []models.SMSPayload {
	payloads := make([]models.SMSPayload, 0)
	for _, modemID := range h.gateway.IdentifiersForPhoneNumber(phoneNumber) {
		for _, sms := range h.gateway.BufferedSMS(modemID) {
			if sms != nil {
				payloads = append(payloads, sms.Payload(true))
			}
		}
	}
	return payloads
}

// ReadStoredSMS returns SMS held in modem-resident storage.
func (h *RPCHandler) ReadStoredSMS(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("read_stored_sms").Inc()

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensGetStoredSMS) {
		return
	}

	logger.Info("Reading stored SMS from all modems")
	stored, err := h.gateway.ReadStoredSMS()
	if err != nil {
		logger.Error("Failed to read stored SMS", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	payloads := make([]models.SMSPayload, 0, len(stored))
	for _, sms := range stored {
		if sms != nil {
			payloads = append(payloads, sms.Payload(true))
		}
	}
	c.JSON(http.StatusOK, payloads)
}

type sendUSSDRequest struct {
	Token    string `json:"token"`
	Sender   string `json:"sender"`
	USSDCode string `json:"ussd_code"`
}

// SendUSSD forwards a USSD code to the modem owning the sender number and
// blocks until the response arrives.
func (h *RPCHandler) SendUSSD(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("send_ussd").Inc()

	if !h.cfg.API.EnableSendUSSD {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "This API function is not enabled"})
		return
	}

	var req sendUSSDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensSendUSSD) {
		return
	}

	logger.Info("Sending USSD code",
		zap.String("sender", req.Sender),
		zap.String("code", req.USSDCode),
	)

	modemIDs := h.gateway.IdentifiersForPhoneNumber(req.Sender)
	if len(modemIDs) == 0 {
		msg := "Modem could not be identified for phone number " + req.Sender
		logger.Error(msg)
		c.JSON(http.StatusOK, gin.H{"status": "ERROR", "response": msg})
		return
	}

	metrics.USSDSentTotal.Inc()
	response, err := h.gateway.SendUSSD(modemIDs[0], req.USSDCode)
	if err != nil {
		logger.Error("Failed to send USSD code", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ERROR", "response": "Failed to send USSD code."})
		return
	}

	logger.Debug("USSD response", zap.String("hexdump", utils.Hexdump([]byte(response))))
	c.JSON(http.StatusOK, gin.H{"status": "OK", "response": response})
}

type sendSMSRequest struct {
	Token     string `json:"token"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	Flash     bool   `json:"flash"`
}

// SendSMS accepts an SMS for transmission and returns its id. Delivery is
// confirmed separately through GetDeliveryStatus.
func (h *RPCHandler) SendSMS(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("send_sms").Inc()

	if !h.cfg.API.EnableSendSMS {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "This API function is not enabled"})
		return
	}

	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensSendSMS) {
		return
	}

	recipient := utils.CleanupPhoneNumber(req.Recipient)
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid recipient format"})
		return
	}

	sender := req.Sender
	if sender != "" {
		sender = utils.CleanupPhoneNumber(sender)
		if sender == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sender format"})
			return
		}
	}

	sms := models.NewSMS("", recipient, sender, req.Text, time.Time{})
	sms.Flash = req.Flash

	smsID, err := h.gateway.SendSMS(sms)
	if err != nil {
		logger.Error("Failed to send SMS",
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.SMSSentTotal.Inc()
	logger.Info("SMS accepted for sending",
		zap.String("sms_id", smsID),
		zap.String("recipient", recipient),
	)
	c.JSON(http.StatusOK, gin.H{"sms_id": smsID})
}

type deliveryStatusRequest struct {
	Token string `json:"token"`
	SMSID string `json:"sms_id"`
}

// GetDeliveryStatus reports whether an outgoing SMS has been delivered.
func (h *RPCHandler) GetDeliveryStatus(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("get_delivery_status").Inc()

	var req deliveryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensSendSMS) {
		return
	}

	logger.Info("Request delivery status", zap.String("sms_id", req.SMSID))
	c.JSON(http.StatusOK, gin.H{"delivered": h.gateway.DeliveryStatus(req.SMSID)})
}

// GetHealthState returns the aggregated health level and messages.
func (h *RPCHandler) GetHealthState(c *gin.Context) {
	metrics.RPCRequestsTotal.WithLabelValues("get_health_state").Inc()

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorize(c, req.Token, h.cfg.API.TokensGetHealthState) {
		return
	}

	level, message := h.health()
	c.JSON(http.StatusOK, gin.H{"level": level, "message": message})
}
