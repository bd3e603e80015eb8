package services

import (
	"fmt"
	"time"

	"github.com/slavaboiko/smsgate/internal/db"
	"github.com/slavaboiko/smsgate/internal/metrics"
	"github.com/slavaboiko/smsgate/internal/models"
	"github.com/slavaboiko/smsgate/pkg/logger"

	"go.uber.org/zap"
)

// Financial ledger event type tags.
const (
	ActivitySMSSent      = "sms_sent"
	ActivityBalanceCheck = "balance_check"
)

// ModemPool is the slice of the pool the gateway orchestrates. The full
// implementation lives in internal/modem.
type ModemPool interface {
	SendSMS(sms *models.SMS) (string, error)
	SendUSSD(modemID, code string) (string, error)
	DeliveryStatus(smsID string) bool
	Receive(modemID string, sms *models.SMS) (*models.SMS, bool, error)
	BufferedSMS(modemID string) []*models.SMS
	ReadStoredSMS() ([]*models.SMS, error)
	IdentifiersForPhoneNumber(phoneNumber string) []string
}

// Gateway ties the modem pool to the persistence layer: every inbound and
// outbound message becomes an event, telemetry becomes a state upsert, and
// billable actions land in the financial ledger.
type Gateway struct {
	pool      ModemPool
	events    db.EventRepository
	states    db.ModemStateRepository
	financial db.FinancialRepository
}

// NewGateway creates a new Gateway service.
func NewGateway(pool ModemPool, events db.EventRepository, states db.ModemStateRepository, financial db.FinancialRepository) *Gateway {
	return &Gateway{
		pool:      pool,
		events:    events,
		states:    states,
		financial: financial,
	}
}

// OnIncomingSMS handles one driver-produced SMS: it is merged into the
// modem's receive buffer, appended to the event store, and the modem is
// marked online. The returned event id identifies the stored fact.
func (g *Gateway) OnIncomingSMS(modemID string, sms *models.SMS) (int64, error) {
	canonical, _, err := g.pool.Receive(modemID, sms)
	if err != nil {
		return 0, fmt.Errorf("failed to buffer incoming SMS: %w", err)
	}
	metrics.SMSReceivedTotal.Inc()

	body := map[string]interface{}{
		"sms_id":         canonical.ID,
		"sender":         canonical.Sender,
		"recipient":      canonical.Recipient,
		"text":           canonical.ConcatenatedText(),
		"is_multipart":   canonical.IsMultipart(),
		"total_parts":    canonical.TotalParts,
		"received_parts": canonical.ReceivedParts(),
	}
	eventID, err := g.events.AddEvent(models.EventIncomingSMS, modemID, body)
	if err != nil {
		return 0, fmt.Errorf("failed to record incoming SMS event: %w", err)
	}
	metrics.EventsStoredTotal.WithLabelValues(string(models.EventIncomingSMS)).Inc()

	now := time.Now().UTC()
	online := true
	if err := g.states.UpdateModemState(modemID, models.StateUpdate{
		IsOnline:   &online,
		LastOnline: &now,
	}); err != nil {
		logger.Warn("Failed to mark modem online",
			zap.String("modem_id", modemID),
			zap.Error(err),
		)
	}

	if canonical.IsPartComplete() {
		if err := g.events.UpdateEventStatus(eventID, models.StatusProcessed, ""); err != nil {
			return eventID, err
		}
	}
	return eventID, nil
}

// OnIncomingCall records a received call as an event.
func (g *Gateway) OnIncomingCall(modemID, caller string) (int64, error) {
	body := map[string]interface{}{"caller": caller}
	eventID, err := g.events.AddEvent(models.EventIncomingCall, modemID, body)
	if err != nil {
		return 0, err
	}
	metrics.EventsStoredTotal.WithLabelValues(string(models.EventIncomingCall)).Inc()
	return eventID, nil
}

// SendSMS validates and transmits an outgoing SMS, records the outgoing
// event and a ledger row, and returns the SMS id for delivery polling.
func (g *Gateway) SendSMS(sms *models.SMS) (string, error) {
	smsID, err := g.pool.SendSMS(sms)
	if err != nil {
		return "", err
	}

	modemID := sms.ReceivingModem
	if modemID == "" {
		// Sending modem identity is resolved by the pool; fall back
		// to the sender number for the audit trail.
		if ids := g.pool.IdentifiersForPhoneNumber(sms.Sender); len(ids) > 0 {
			modemID = ids[0]
		} else {
			modemID = sms.Sender
		}
	}

	body := map[string]interface{}{
		"sms_id":    smsID,
		"recipient": sms.Recipient,
		"flash":     sms.Flash,
	}
	if _, err := g.events.AddEvent(models.EventOutgoingSMS, modemID, body); err != nil {
		logger.Error("Failed to record outgoing SMS event",
			zap.String("sms_id", smsID),
			zap.Error(err),
		)
	} else {
		metrics.EventsStoredTotal.WithLabelValues(string(models.EventOutgoingSMS)).Inc()
	}

	details := fmt.Sprintf("SMS to %s", sms.Recipient)
	if err := g.financial.AddFinancialActivity(modemID, ActivitySMSSent, nil, nil, &details); err != nil {
		logger.Error("Failed to record financial activity",
			zap.String("sms_id", smsID),
			zap.Error(err),
		)
	}

	return smsID, nil
}

// DeliveryStatus reports whether an outgoing SMS was confirmed delivered.
func (g *Gateway) DeliveryStatus(smsID string) bool {
	return g.pool.DeliveryStatus(smsID)
}

// SendUSSD runs a synchronous USSD exchange. Balance-style queries are
// billable lookups, so each exchange lands in the financial ledger.
func (g *Gateway) SendUSSD(modemID, code string) (string, error) {
	response, err := g.pool.SendUSSD(modemID, code)
	if err != nil {
		return "", err
	}

	details := fmt.Sprintf("USSD %s", code)
	if err := g.financial.AddFinancialActivity(modemID, ActivityBalanceCheck, nil, nil, &details); err != nil {
		logger.Error("Failed to record USSD financial activity",
			zap.String("modem_id", modemID),
			zap.Error(err),
		)
	}
	return response, nil
}

// UpdateTelemetry upserts the durable state row for a modem.
func (g *Gateway) UpdateTelemetry(modemID string, update models.StateUpdate) error {
	return g.states.UpdateModemState(modemID, update)
}

// ModemState is a point lookup of the latest-known state row.
func (g *Gateway) ModemState(modemID string) (*models.ModemState, error) {
	return g.states.GetModemState(modemID)
}

// BufferedSMS returns the live receive buffer of one modem.
func (g *Gateway) BufferedSMS(modemID string) []*models.SMS {
	return g.pool.BufferedSMS(modemID)
}

// ReadStoredSMS collects modem-resident SMS across the pool.
func (g *Gateway) ReadStoredSMS() ([]*models.SMS, error) {
	return g.pool.ReadStoredSMS()
}

// IdentifiersForPhoneNumber resolves modem identifiers for a phone
// number; an empty number matches all modems.
func (g *Gateway) IdentifiersForPhoneNumber(phoneNumber string) []string {
	return g.pool.IdentifiersForPhoneNumber(phoneNumber)
}

// Events queries the event store, newest-first.
func (g *Gateway) Events(filter db.EventFilter, limit int) ([]*models.Event, error) {
	return g.events.GetEvents(filter, limit)
}

// FinancialActivity returns the trailing ledger window for one modem.
func (g *Gateway) FinancialActivity(modemID string, days int) ([]*models.FinancialActivity, error) {
	return g.financial.GetFinancialActivityPeriod(modemID, days)
}
