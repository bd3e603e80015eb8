package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPartNumber is returned when a multi-part index is below 1.
var ErrInvalidPartNumber = errors.New("part number must be positive")

// SMS represents a single SMS message, possibly assembled from multiple
// parts. ReceivingModem holds the identifier of the modem that received the
// message; it is a lookup key only, the modem itself lives in the pool.
type SMS struct {
	ID               string
	Recipient        string
	Sender           string
	Text             string
	Timestamp        time.Time // network-reported time
	CreatedTimestamp time.Time // local receipt time
	Flash            bool
	ReceivingModem   string

	MessageRef *int
	TotalParts int
	PartNumber *int
	parts      map[int]string
}

// SMSPayload is the caller-facing representation returned over RPC.
type SMSPayload struct {
	ID            string `json:"id"`
	Recipient     string `json:"recipient"`
	Text          string `json:"text"`
	Sender        string `json:"sender"`
	Timestamp     string `json:"timestamp"`
	Flash         bool   `json:"flash"`
	IsMultipart   bool   `json:"is_multipart"`
	TotalParts    int    `json:"total_parts"`
	ReceivedParts int    `json:"received_parts"`
	Modem         string `json:"modem,omitempty"`
}

// NewSMS creates an SMS. An empty id gets a fresh UUID. A zero timestamp
// defaults to the current time.
func NewSMS(id, recipient, sender, text string, timestamp time.Time) *SMS {
	if id == "" {
		id = uuid.NewString()
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return &SMS{
		ID:               id,
		Recipient:        recipient,
		Sender:           sender,
		Text:             text,
		Timestamp:        timestamp,
		CreatedTimestamp: time.Now(),
		TotalParts:       1,
		parts:            make(map[int]string),
	}
}

// Age returns how long ago the message was reported by the network.
func (s *SMS) Age() time.Duration {
	return time.Since(s.Timestamp)
}

// HasSender reports whether a sender is set.
func (s *SMS) HasSender() bool {
	return s.Sender != ""
}

// AddPart stores one part of a multi-part message. Part numbers are
// 1-based. A part number above the declared total raises the total, which
// covers modems that under-report the part count on the first segment.
// Part 1 also becomes the canonical text so a partially assembled message
// stays readable.
func (s *SMS) AddPart(partNumber int, text string) error {
	if partNumber < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPartNumber, partNumber)
	}
	if partNumber > s.TotalParts {
		s.TotalParts = partNumber
	}
	if s.parts == nil {
		s.parts = make(map[int]string)
	}
	s.parts[partNumber] = text
	if partNumber == 1 {
		s.Text = text
	}
	return nil
}

// IsMultipart reports whether this message spans multiple parts, either
// because more than one part is stored or because the total was declared
// greater than one. A message can be multipart before all parts arrive.
func (s *SMS) IsMultipart() bool {
	return len(s.parts) > 1 || s.TotalParts > 1
}

// IsPartComplete reports whether all declared parts have been received.
// Single-part messages are always complete.
func (s *SMS) IsPartComplete() bool {
	if !s.IsMultipart() {
		return true
	}
	return len(s.parts) == s.TotalParts
}

// ReceivedParts returns the number of stored parts, or 1 for a
// single-part message.
func (s *SMS) ReceivedParts() int {
	if !s.IsMultipart() {
		return 1
	}
	return len(s.parts)
}

// ConcatenatedText joins all parts in ascending part order. If any part is
// missing it falls back to the canonical text instead of failing.
func (s *SMS) ConcatenatedText() string {
	if !s.IsMultipart() {
		return s.Text
	}
	if !s.IsPartComplete() {
		return s.Text
	}
	var b strings.Builder
	for i := 1; i <= s.TotalParts; i++ {
		part, ok := s.parts[i]
		if !ok {
			return s.Text
		}
		b.WriteString(part)
	}
	return b.String()
}

// Payload converts the SMS into its RPC representation. The text is always
// base64 over the raw byte sequence so arbitrary scripts survive the
// transport unchanged. The modem identifier is included only when one is
// attached and the caller asks for it.
func (s *SMS) Payload(includeModem bool) SMSPayload {
	text := s.Text
	if s.IsMultipart() {
		text = s.ConcatenatedText()
	}
	p := SMSPayload{
		ID:            s.ID,
		Recipient:     s.Recipient,
		Text:          base64.StdEncoding.EncodeToString([]byte(text)),
		Sender:        s.Sender,
		Timestamp:     s.Timestamp.Format(time.RFC3339),
		Flash:         s.Flash,
		IsMultipart:   s.IsMultipart(),
		TotalParts:    s.TotalParts,
		ReceivedParts: s.ReceivedParts(),
	}
	if includeModem && s.ReceivingModem != "" {
		p.Modem = s.ReceivingModem
	}
	return p
}

// DecodePayloadText reverses the transport encoding applied by Payload.
func DecodePayloadText(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode sms text: %w", err)
	}
	return string(raw), nil
}

// String formats the message for logs and operator tooling.
func (s *SMS) String() string {
	const tsFmt = "2006-01-02 15:04:05 -0700"
	var b strings.Builder
	fmt.Fprintf(&b, "SMS ID            : %s\n", s.ID)
	fmt.Fprintf(&b, "Sender            : %s\n", s.Sender)
	fmt.Fprintf(&b, "Recipient         : %s\n", s.Recipient)
	fmt.Fprintf(&b, "Message timestamp : %s\n", s.Timestamp.Format(tsFmt))
	fmt.Fprintf(&b, "Created timestamp : %s\n", s.CreatedTimestamp.Format(tsFmt))
	fmt.Fprintf(&b, "Flash message     : %t\n", s.Flash)
	if s.ReceivingModem != "" {
		fmt.Fprintf(&b, "Receiving modem   : %s\n", s.ReceivingModem)
	}
	return b.String()
}

// PartNumbers returns the stored part indices in ascending order.
func (s *SMS) PartNumbers() []int {
	nums := make([]int, 0, len(s.parts))
	for n := range s.parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
