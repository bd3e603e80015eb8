package models

import (
	"fmt"
	"time"
)

// EventType classifies a gateway event.
type EventType string

const (
	EventIncomingSMS  EventType = "incoming_sms"
	EventIncomingCall EventType = "incoming_call"
	EventOutgoingSMS  EventType = "outgoing_sms"
)

// Valid reports whether the type is one of the known variants.
func (t EventType) Valid() bool {
	switch t {
	case EventIncomingSMS, EventIncomingCall, EventOutgoingSMS:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of a stored event. Pending is the
// only mutable state; the other three are terminal.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusProcessed EventStatus = "processed"
	StatusFailed    EventStatus = "failed"
	StatusError     EventStatus = "error"
)

// Valid reports whether the status is one of the known variants.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transition.
func (s EventStatus) Terminal() bool {
	return s.Valid() && s != StatusPending
}

// Event is one append-only record in the event store. Only Status and
// Error change after insertion.
type Event struct {
	ID        int64                  `json:"id"`
	Type      EventType              `json:"type"`
	Status    EventStatus            `json:"status"`
	ModemID   string                 `json:"modem_id"`
	Timestamp time.Time              `json:"timestamp"`
	Body      map[string]interface{} `json:"body"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// FinancialActivity is one write-once row in the billing ledger.
type FinancialActivity struct {
	ID        int64     `json:"id"`
	ModemID   string    `json:"modem_id"`
	EventType string    `json:"event_type"`
	Amount    *float64  `json:"amount,omitempty"`
	Currency  *string   `json:"currency,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Details   *string   `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ModemState is the latest-known telemetry row for one modem.
type ModemState struct {
	ModemID          string     `json:"modem_id"`
	Balance          *float64   `json:"balance,omitempty"`
	Currency         *string    `json:"currency,omitempty"`
	Network          *string    `json:"network,omitempty"`
	SignalStrength   *int       `json:"signal_strength,omitempty"`
	LastBalanceCheck *time.Time `json:"last_balance_check,omitempty"`
	LastNetworkCheck *time.Time `json:"last_network_check,omitempty"`
	LastSignalCheck  *time.Time `json:"last_signal_check,omitempty"`
	IsOnline         bool       `json:"is_online"`
	LastOnline       *time.Time `json:"last_online,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// StateUpdate carries a partial modem state update. Only non-nil fields
// are applied, so disjoint updates to the same modem never clobber each
// other.
type StateUpdate struct {
	Balance          *float64
	Currency         *string
	Network          *string
	SignalStrength   *int
	LastBalanceCheck *time.Time
	LastNetworkCheck *time.Time
	LastSignalCheck  *time.Time
	IsOnline         *bool
	LastOnline       *time.Time
}

// Empty reports whether the update names no fields at all.
func (u StateUpdate) Empty() bool {
	return u.Balance == nil && u.Currency == nil && u.Network == nil &&
		u.SignalStrength == nil && u.LastBalanceCheck == nil &&
		u.LastNetworkCheck == nil && u.LastSignalCheck == nil &&
		u.IsOnline == nil && u.LastOnline == nil
}

// String summarises the update for logs.
func (u StateUpdate) String() string {
	fields := ""
	add := func(name string, set bool) {
		if set {
			if fields != "" {
				fields += ","
			}
			fields += name
		}
	}
	add("balance", u.Balance != nil)
	add("currency", u.Currency != nil)
	add("network", u.Network != nil)
	add("signal_strength", u.SignalStrength != nil)
	add("last_balance_check", u.LastBalanceCheck != nil)
	add("last_network_check", u.LastNetworkCheck != nil)
	add("last_signal_check", u.LastSignalCheck != nil)
	add("is_online", u.IsOnline != nil)
	add("last_online", u.LastOnline != nil)
	return fmt.Sprintf("StateUpdate{%s}", fields)
}
