package modem

import (
	"errors"
	"testing"
	"time"

	"github.com/slavaboiko/smsgate/internal/models"
	"github.com/slavaboiko/smsgate/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	sendSMSFunc       func(*models.SMS) error
	sendUSSDFunc      func(string) (string, error)
	readStoredSMSFunc func() ([]*models.SMS, error)
}

func (d *fakeDriver) SendSMS(sms *models.SMS) error {
	if d.sendSMSFunc != nil {
		return d.sendSMSFunc(sms)
	}
	return nil
}

func (d *fakeDriver) SendUSSD(code string) (string, error) {
	if d.sendUSSDFunc != nil {
		return d.sendUSSDFunc(code)
	}
	return "", nil
}

func (d *fakeDriver) ReadStoredSMS() ([]*models.SMS, error) {
	if d.readStoredSMSFunc != nil {
		return d.readStoredSMSFunc()
	}
	return nil, nil
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool := NewPool()
	pool.Register(NewModem("modem-1", "+41790000001", &fakeDriver{}))
	pool.Register(NewModem("modem-2", "+41790000002", &fakeDriver{}))
	return pool
}

func intPtr(v int) *int { return &v }

func TestIdentifiersForPhoneNumber(t *testing.T) {
	pool := newTestPool(t)

	assert.Equal(t, []string{"modem-1", "modem-2"}, pool.IdentifiersForPhoneNumber(""))
	assert.Equal(t, []string{"modem-2"}, pool.IdentifiersForPhoneNumber("+41790000002"))
	assert.Empty(t, pool.IdentifiersForPhoneNumber("+41999999999"))
}

func TestReceiveSinglePart(t *testing.T) {
	pool := newTestPool(t)

	sms := models.NewSMS("", "+41790000001", "+41791111111", "hello", time.Time{})
	canonical, isNew, err := pool.Receive("modem-1", sms)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "modem-1", canonical.ReceivingModem)

	buffered := pool.BufferedSMS("modem-1")
	require.Len(t, buffered, 1)
	assert.Equal(t, "hello", buffered[0].Text)
	assert.Empty(t, pool.BufferedSMS("modem-2"))
}

func TestReceiveUnknownModem(t *testing.T) {
	pool := newTestPool(t)

	sms := models.NewSMS("", "+41790000001", "", "hi", time.Time{})
	_, _, err := pool.Receive("modem-404", sms)
	assert.ErrorIs(t, err, ErrModemUnknown)
}

func TestReceiveMergesMultipartParts(t *testing.T) {
	pool := newTestPool(t)
	ref := 42

	// The driver produces one SMS instance per part; parts arrive out
	// of order.
	part2 := models.NewSMS("", "+41790000001", "+41791111111", "wn ", time.Time{})
	part2.MessageRef = &ref
	part2.TotalParts = 3
	part2.PartNumber = intPtr(2)

	canonical, isNew, err := pool.Receive("modem-1", part2)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.False(t, canonical.IsPartComplete())

	part1 := models.NewSMS("", "+41790000001", "+41791111111", "Bro", time.Time{})
	part1.MessageRef = &ref
	part1.TotalParts = 3
	part1.PartNumber = intPtr(1)

	merged, isNew, err := pool.Receive("modem-1", part1)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, canonical, merged)

	part3 := models.NewSMS("", "+41790000001", "+41791111111", "Fox", time.Time{})
	part3.MessageRef = &ref
	part3.TotalParts = 3
	part3.PartNumber = intPtr(3)

	merged, _, err = pool.Receive("modem-1", part3)
	require.NoError(t, err)
	assert.True(t, merged.IsPartComplete())
	assert.Equal(t, "Brown Fox", merged.ConcatenatedText())

	// Only the canonical instance is buffered.
	assert.Len(t, pool.BufferedSMS("modem-1"), 1)
}

func TestReceiveDistinctRefsStaySeparate(t *testing.T) {
	pool := newTestPool(t)
	ref1, ref2 := 1, 2

	a := models.NewSMS("", "+41790000001", "+41791111111", "a", time.Time{})
	a.MessageRef = &ref1
	a.TotalParts = 2
	a.PartNumber = intPtr(1)
	b := models.NewSMS("", "+41790000001", "+41791111111", "b", time.Time{})
	b.MessageRef = &ref2
	b.TotalParts = 2
	b.PartNumber = intPtr(1)

	_, _, err := pool.Receive("modem-1", a)
	require.NoError(t, err)
	_, _, err = pool.Receive("modem-1", b)
	require.NoError(t, err)

	assert.Len(t, pool.BufferedSMS("modem-1"), 2)
}

func TestClearBuffer(t *testing.T) {
	pool := newTestPool(t)

	_, _, err := pool.Receive("modem-1", models.NewSMS("", "+41790000001", "", "x", time.Time{}))
	require.NoError(t, err)
	require.Len(t, pool.BufferedSMS("modem-1"), 1)

	pool.ClearBuffer("modem-1")
	assert.Empty(t, pool.BufferedSMS("modem-1"))
}

func TestSendSMSSelectsModemBySender(t *testing.T) {
	pool := NewPool()
	var sentBy string
	pool.Register(NewModem("modem-1", "+41790000001", &fakeDriver{
		sendSMSFunc: func(*models.SMS) error { sentBy = "modem-1"; return nil },
	}))
	pool.Register(NewModem("modem-2", "+41790000002", &fakeDriver{
		sendSMSFunc: func(*models.SMS) error { sentBy = "modem-2"; return nil },
	}))

	sms := models.NewSMS("", "+41799999999", "+41790000002", "hi", time.Time{})
	smsID, err := pool.SendSMS(sms)
	require.NoError(t, err)
	assert.Equal(t, sms.ID, smsID)
	assert.Equal(t, "modem-2", sentBy)

	// Empty sender falls back to the first registered modem.
	anySender := models.NewSMS("", "+41799999999", "", "hi", time.Time{})
	_, err = pool.SendSMS(anySender)
	require.NoError(t, err)
	assert.Equal(t, "modem-1", sentBy)
}

func TestSendSMSNoModem(t *testing.T) {
	pool := newTestPool(t)

	sms := models.NewSMS("", "+41799999999", "+41000000000", "hi", time.Time{})
	_, err := pool.SendSMS(sms)
	assert.ErrorIs(t, err, ErrNoModem)
}

func TestSendSMSDriverFailure(t *testing.T) {
	pool := NewPool()
	pool.Register(NewModem("modem-1", "+41790000001", &fakeDriver{
		sendSMSFunc: func(*models.SMS) error { return errors.New("no carrier") },
	}))

	sms := models.NewSMS("", "+41799999999", "", "hi", time.Time{})
	_, err := pool.SendSMS(sms)
	assert.Error(t, err)
}

func TestDeliveryStatusLifecycle(t *testing.T) {
	pool := newTestPool(t)

	sms := models.NewSMS("", "+41799999999", "", "hi", time.Time{})
	smsID, err := pool.SendSMS(sms)
	require.NoError(t, err)

	assert.False(t, pool.DeliveryStatus(smsID))
	pool.MarkDelivered(smsID)
	assert.True(t, pool.DeliveryStatus(smsID))

	// Unknown IDs read as undelivered.
	assert.False(t, pool.DeliveryStatus("no-such-id"))
}

func TestSendUSSD(t *testing.T) {
	pool := NewPool()
	pool.Register(NewModem("modem-1", "+41790000001", &fakeDriver{
		sendUSSDFunc: func(code string) (string, error) {
			assert.Equal(t, "*101#", code)
			return "Your balance is 5.00 CHF", nil
		},
	}))

	response, err := pool.SendUSSD("modem-1", "*101#")
	require.NoError(t, err)
	assert.Equal(t, "Your balance is 5.00 CHF", response)

	_, err = pool.SendUSSD("modem-404", "*101#")
	assert.ErrorIs(t, err, ErrModemUnknown)
}

func TestReadStoredSMS(t *testing.T) {
	pool := NewPool()
	pool.Register(NewModem("modem-1", "+41790000001", &fakeDriver{
		readStoredSMSFunc: func() ([]*models.SMS, error) {
			return []*models.SMS{
				models.NewSMS("", "+41790000001", "+41791111111", "stored", time.Time{}),
				nil, // drivers may report gaps
			}, nil
		},
	}))

	stored, err := pool.ReadStoredSMS()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "stored", stored[0].Text)
	assert.Equal(t, "modem-1", stored[0].ReceivingModem)
}

func TestStatsAndTelemetry(t *testing.T) {
	pool := newTestPool(t)

	require.NoError(t, pool.UpdateTelemetry("modem-1", func(s *Stats) {
		s.CurrentNetwork = "Sunrise"
		s.CurrentSignal = -67
		s.Balance = 5.0
		s.Currency = "CHF"
	}))

	stats := pool.Stats()
	require.Contains(t, stats, "modem-1")
	assert.Equal(t, "Sunrise", stats["modem-1"].CurrentNetwork)
	assert.Equal(t, -67, stats["modem-1"].CurrentSignal)
	assert.Equal(t, "+41790000001", stats["modem-1"].PhoneNumber)

	assert.ErrorIs(t, pool.UpdateTelemetry("modem-404", func(*Stats) {}), ErrModemUnknown)
}

func TestHealthStateAggregation(t *testing.T) {
	pool := newTestPool(t)

	level, message := pool.HealthState()
	assert.Equal(t, utils.HealthOK, level)
	assert.Empty(t, message)

	require.NoError(t, pool.UpdateTelemetry("modem-1", func(s *Stats) {
		s.HealthStateShort = utils.HealthWarning
		s.HealthStateMessage = "low balance"
	}))
	level, message = pool.HealthState()
	assert.Equal(t, utils.HealthWarning, level)
	assert.Equal(t, "low balance", message)

	require.NoError(t, pool.UpdateTelemetry("modem-2", func(s *Stats) {
		s.HealthStateShort = utils.HealthCritical
		s.HealthStateMessage = "no network"
	}))
	level, message = pool.HealthState()
	assert.Equal(t, utils.HealthCritical, level)
	assert.Equal(t, "low balance; no network", message)
}
