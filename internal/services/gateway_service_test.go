package services

import (
	"errors"
	"testing"
	"time"

	"github.com/slavaboiko/smsgate/internal/db"
	"github.com/slavaboiko/smsgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPool struct {
	sendSMSFunc        func(*models.SMS) (string, error)
	sendUSSDFunc       func(string, string) (string, error)
	deliveryStatusFunc func(string) bool
	receiveFunc        func(string, *models.SMS) (*models.SMS, bool, error)
	bufferedSMSFunc    func(string) []*models.SMS
	readStoredSMSFunc  func() ([]*models.SMS, error)
	identifiersFunc    func(string) []string
}

func (m *mockPool) SendSMS(sms *models.SMS) (string, error) {
	return m.sendSMSFunc(sms)
}

func (m *mockPool) SendUSSD(modemID, code string) (string, error) {
	return m.sendUSSDFunc(modemID, code)
}

func (m *mockPool) DeliveryStatus(smsID string) bool {
	if m.deliveryStatusFunc != nil {
		return m.deliveryStatusFunc(smsID)
	}
	return false
}

func (m *mockPool) Receive(modemID string, sms *models.SMS) (*models.SMS, bool, error) {
	return m.receiveFunc(modemID, sms)
}

func (m *mockPool) BufferedSMS(modemID string) []*models.SMS {
	if m.bufferedSMSFunc != nil {
		return m.bufferedSMSFunc(modemID)
	}
	return nil
}

func (m *mockPool) ReadStoredSMS() ([]*models.SMS, error) {
	if m.readStoredSMSFunc != nil {
		return m.readStoredSMSFunc()
	}
	return nil, nil
}

func (m *mockPool) IdentifiersForPhoneNumber(phoneNumber string) []string {
	if m.identifiersFunc != nil {
		return m.identifiersFunc(phoneNumber)
	}
	return nil
}

type mockEventRepo struct {
	addEventFunc     func(models.EventType, string, map[string]interface{}) (int64, error)
	updateStatusFunc func(int64, models.EventStatus, string) error
	getEventsFunc    func(db.EventFilter, int) ([]*models.Event, error)
}

func (m *mockEventRepo) AddEvent(t models.EventType, modemID string, body map[string]interface{}) (int64, error) {
	return m.addEventFunc(t, modemID, body)
}

func (m *mockEventRepo) AddEventWithStatus(t models.EventType, modemID string, body map[string]interface{}, status models.EventStatus, errText string) (int64, error) {
	return m.addEventFunc(t, modemID, body)
}

func (m *mockEventRepo) UpdateEventStatus(id int64, status models.EventStatus, errText string) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(id, status, errText)
	}
	return nil
}

func (m *mockEventRepo) GetEvents(filter db.EventFilter, limit int) ([]*models.Event, error) {
	if m.getEventsFunc != nil {
		return m.getEventsFunc(filter, limit)
	}
	return nil, nil
}

type mockStateRepo struct {
	updateFunc func(string, models.StateUpdate) error
	getFunc    func(string) (*models.ModemState, error)
}

func (m *mockStateRepo) UpdateModemState(modemID string, update models.StateUpdate) error {
	if m.updateFunc != nil {
		return m.updateFunc(modemID, update)
	}
	return nil
}

func (m *mockStateRepo) GetModemState(modemID string) (*models.ModemState, error) {
	if m.getFunc != nil {
		return m.getFunc(modemID)
	}
	return nil, nil
}

type mockFinancialRepo struct {
	addFunc func(string, string, *float64, *string, *string) error
	getFunc func(string, int) ([]*models.FinancialActivity, error)
}

func (m *mockFinancialRepo) AddFinancialActivity(modemID, eventType string, amount *float64, currency, details *string) error {
	if m.addFunc != nil {
		return m.addFunc(modemID, eventType, amount, currency, details)
	}
	return nil
}

func (m *mockFinancialRepo) GetFinancialActivityPeriod(modemID string, days int) ([]*models.FinancialActivity, error) {
	if m.getFunc != nil {
		return m.getFunc(modemID, days)
	}
	return nil, nil
}

func TestOnIncomingSMSRecordsEventAndState(t *testing.T) {
	sms := models.NewSMS("", "+41790000001", "+41791111111", "hello", time.Time{})

	var recordedType models.EventType
	var recordedBody map[string]interface{}
	var stateUpdate *models.StateUpdate
	var statusUpdates []models.EventStatus

	gateway := NewGateway(
		&mockPool{
			receiveFunc: func(modemID string, in *models.SMS) (*models.SMS, bool, error) {
				assert.Equal(t, "modem-1", modemID)
				return in, true, nil
			},
		},
		&mockEventRepo{
			addEventFunc: func(eventType models.EventType, modemID string, body map[string]interface{}) (int64, error) {
				recordedType = eventType
				recordedBody = body
				return 7, nil
			},
			updateStatusFunc: func(id int64, status models.EventStatus, errText string) error {
				assert.Equal(t, int64(7), id)
				statusUpdates = append(statusUpdates, status)
				return nil
			},
		},
		&mockStateRepo{
			updateFunc: func(modemID string, update models.StateUpdate) error {
				stateUpdate = &update
				return nil
			},
		},
		&mockFinancialRepo{},
	)

	eventID, err := gateway.OnIncomingSMS("modem-1", sms)
	require.NoError(t, err)
	assert.Equal(t, int64(7), eventID)

	assert.Equal(t, models.EventIncomingSMS, recordedType)
	assert.Equal(t, "hello", recordedBody["text"])
	assert.Equal(t, false, recordedBody["is_multipart"])

	// The modem is marked online with a last-online timestamp.
	require.NotNil(t, stateUpdate)
	require.NotNil(t, stateUpdate.IsOnline)
	assert.True(t, *stateUpdate.IsOnline)
	require.NotNil(t, stateUpdate.LastOnline)

	// A complete message is immediately marked processed.
	assert.Equal(t, []models.EventStatus{models.StatusProcessed}, statusUpdates)
}

func TestOnIncomingSMSPartialStaysPending(t *testing.T) {
	ref := 9
	part := models.NewSMS("", "+41790000001", "+41791111111", "partial", time.Time{})
	part.MessageRef = &ref
	part.TotalParts = 2
	require.NoError(t, part.AddPart(1, "partial"))

	statusUpdated := false
	gateway := NewGateway(
		&mockPool{
			receiveFunc: func(modemID string, in *models.SMS) (*models.SMS, bool, error) {
				return in, true, nil
			},
		},
		&mockEventRepo{
			addEventFunc: func(models.EventType, string, map[string]interface{}) (int64, error) {
				return 1, nil
			},
			updateStatusFunc: func(int64, models.EventStatus, string) error {
				statusUpdated = true
				return nil
			},
		},
		&mockStateRepo{},
		&mockFinancialRepo{},
	)

	_, err := gateway.OnIncomingSMS("modem-1", part)
	require.NoError(t, err)
	assert.False(t, statusUpdated, "incomplete multipart must stay pending")
}

func TestOnIncomingSMSBufferFailure(t *testing.T) {
	gateway := NewGateway(
		&mockPool{
			receiveFunc: func(string, *models.SMS) (*models.SMS, bool, error) {
				return nil, false, errors.New("unknown modem")
			},
		},
		&mockEventRepo{
			addEventFunc: func(models.EventType, string, map[string]interface{}) (int64, error) {
				t.Fatal("no event must be recorded when buffering fails")
				return 0, nil
			},
		},
		&mockStateRepo{},
		&mockFinancialRepo{},
	)

	_, err := gateway.OnIncomingSMS("modem-1", models.NewSMS("", "", "", "x", time.Time{}))
	assert.Error(t, err)
}

func TestSendSMSRecordsEventAndLedger(t *testing.T) {
	var eventType models.EventType
	var ledgerType string
	var ledgerModem string

	gateway := NewGateway(
		&mockPool{
			sendSMSFunc: func(sms *models.SMS) (string, error) {
				return sms.ID, nil
			},
			identifiersFunc: func(phoneNumber string) []string {
				return []string{"modem-1"}
			},
		},
		&mockEventRepo{
			addEventFunc: func(et models.EventType, modemID string, body map[string]interface{}) (int64, error) {
				eventType = et
				return 1, nil
			},
		},
		&mockStateRepo{},
		&mockFinancialRepo{
			addFunc: func(modemID, et string, amount *float64, currency, details *string) error {
				ledgerModem = modemID
				ledgerType = et
				return nil
			},
		},
	)

	sms := models.NewSMS("", "+41799999999", "+41790000001", "hi", time.Time{})
	smsID, err := gateway.SendSMS(sms)
	require.NoError(t, err)
	assert.Equal(t, sms.ID, smsID)
	assert.Equal(t, models.EventOutgoingSMS, eventType)
	assert.Equal(t, ActivitySMSSent, ledgerType)
	assert.Equal(t, "modem-1", ledgerModem)
}

func TestSendSMSPoolFailure(t *testing.T) {
	gateway := NewGateway(
		&mockPool{
			sendSMSFunc: func(*models.SMS) (string, error) {
				return "", errors.New("no modem")
			},
		},
		&mockEventRepo{
			addEventFunc: func(models.EventType, string, map[string]interface{}) (int64, error) {
				t.Fatal("no event must be recorded when the send fails")
				return 0, nil
			},
		},
		&mockStateRepo{},
		&mockFinancialRepo{},
	)

	_, err := gateway.SendSMS(models.NewSMS("", "+41799999999", "", "hi", time.Time{}))
	assert.Error(t, err)
}

func TestSendUSSDRecordsLedger(t *testing.T) {
	var ledgerType string
	gateway := NewGateway(
		&mockPool{
			sendUSSDFunc: func(modemID, code string) (string, error) {
				return "Balance: 5.00", nil
			},
		},
		&mockEventRepo{},
		&mockStateRepo{},
		&mockFinancialRepo{
			addFunc: func(modemID, et string, amount *float64, currency, details *string) error {
				ledgerType = et
				return nil
			},
		},
	)

	response, err := gateway.SendUSSD("modem-1", "*101#")
	require.NoError(t, err)
	assert.Equal(t, "Balance: 5.00", response)
	assert.Equal(t, ActivityBalanceCheck, ledgerType)
}

func TestSendUSSDFailureSkipsLedger(t *testing.T) {
	gateway := NewGateway(
		&mockPool{
			sendUSSDFunc: func(string, string) (string, error) {
				return "", errors.New("timeout")
			},
		},
		&mockEventRepo{},
		&mockStateRepo{},
		&mockFinancialRepo{
			addFunc: func(string, string, *float64, *string, *string) error {
				t.Fatal("failed USSD must not be billed")
				return nil
			},
		},
	)

	_, err := gateway.SendUSSD("modem-1", "*101#")
	assert.Error(t, err)
}

func TestUpdateTelemetryDelegates(t *testing.T) {
	called := false
	gateway := NewGateway(
		&mockPool{},
		&mockEventRepo{},
		&mockStateRepo{
			updateFunc: func(modemID string, update models.StateUpdate) error {
				called = true
				assert.Equal(t, "modem-1", modemID)
				return nil
			},
		},
		&mockFinancialRepo{},
	)

	balance := 3.0
	require.NoError(t, gateway.UpdateTelemetry("modem-1", models.StateUpdate{Balance: &balance}))
	assert.True(t, called)
}
