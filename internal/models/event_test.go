package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeValid(t *testing.T) {
	assert.True(t, EventIncomingSMS.Valid())
	assert.True(t, EventIncomingCall.Valid())
	assert.True(t, EventOutgoingSMS.Valid())
	assert.False(t, EventType("").Valid())
	assert.False(t, EventType("incoming_fax").Valid())
}

func TestEventStatusValid(t *testing.T) {
	for _, s := range []EventStatus{StatusPending, StatusProcessed, StatusFailed, StatusError} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, EventStatus("").Valid())
	assert.False(t, EventStatus("done").Valid())
}

func TestEventStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusProcessed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusError.Terminal())
	// Unknown statuses are not terminal either.
	assert.False(t, EventStatus("done").Terminal())
}

func TestStateUpdateEmpty(t *testing.T) {
	assert.True(t, StateUpdate{}.Empty())

	online := true
	assert.False(t, StateUpdate{IsOnline: &online}.Empty())

	balance := 5.0
	assert.False(t, StateUpdate{Balance: &balance}.Empty())
}

func TestStateUpdateString(t *testing.T) {
	assert.Equal(t, "StateUpdate{}", StateUpdate{}.String())

	balance := 5.0
	currency := "CHF"
	update := StateUpdate{Balance: &balance, Currency: &currency}
	assert.Equal(t, "StateUpdate{balance,currency}", update.String())
}
