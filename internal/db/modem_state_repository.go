package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slavaboiko/smsgate/internal/models"
)

// ModemStateRepository tracks the latest-known telemetry per modem.
type ModemStateRepository interface {
	UpdateModemState(modemID string, update models.StateUpdate) error
	GetModemState(modemID string) (*models.ModemState, error)
}

type modemStateRepository struct {
	db *sql.DB
}

// NewModemStateRepository creates a new ModemStateRepository.
func NewModemStateRepository(db *sql.DB) ModemStateRepository {
	return &modemStateRepository{db: db}
}

// columnsOf expands the update into column/value pairs, in a fixed order.
func columnsOf(update models.StateUpdate) ([]string, []interface{}) {
	var cols []string
	var vals []interface{}
	add := func(col string, set bool, val interface{}) {
		if set {
			cols = append(cols, col)
			vals = append(vals, val)
		}
	}
	add("balance", update.Balance != nil, deref(update.Balance))
	add("currency", update.Currency != nil, deref(update.Currency))
	add("network", update.Network != nil, deref(update.Network))
	add("signal_strength", update.SignalStrength != nil, deref(update.SignalStrength))
	add("last_balance_check", update.LastBalanceCheck != nil, deref(update.LastBalanceCheck))
	add("last_network_check", update.LastNetworkCheck != nil, deref(update.LastNetworkCheck))
	add("last_signal_check", update.LastSignalCheck != nil, deref(update.LastSignalCheck))
	add("is_online", update.IsOnline != nil, deref(update.IsOnline))
	add("last_online", update.LastOnline != nil, deref(update.LastOnline))
	return cols, vals
}

func deref[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// UpdateModemState upserts the state row for a modem, touching only the
// fields the update names. Absent fields keep their stored values.
func (r *modemStateRepository) UpdateModemState(modemID string, update models.StateUpdate) error {
	if modemID == "" {
		return errors.New("modem ID is required")
	}
	if update.Empty() {
		return errors.New("state update names no fields")
	}

	cols, vals := columnsOf(update)

	var exists int
	err := r.db.QueryRow(`SELECT 1 FROM modem_state WHERE modem_id = ?`, modemID).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		fields := append([]string{"modem_id"}, cols...)
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", ")
		query := fmt.Sprintf(
			`INSERT INTO modem_state (%s) VALUES (%s)`,
			strings.Join(fields, ", "), placeholders,
		)
		args := append([]interface{}{modemID}, vals...)
		if _, err := r.db.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to insert modem state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to check modem state: %w", err)
	default:
		setClauses := make([]string, len(cols))
		for i, col := range cols {
			setClauses[i] = col + " = ?"
		}
		query := fmt.Sprintf(
			`UPDATE modem_state SET %s, updated_at = CURRENT_TIMESTAMP WHERE modem_id = ?`,
			strings.Join(setClauses, ", "),
		)
		args := append(vals, modemID)
		if _, err := r.db.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to update modem state: %w", err)
		}
	}
	return nil
}

// GetModemState returns the state row for a modem, or nil if the modem has
// never reported telemetry.
func (r *modemStateRepository) GetModemState(modemID string) (*models.ModemState, error) {
	if modemID == "" {
		return nil, errors.New("modem ID is required")
	}

	state := &models.ModemState{}
	err := r.db.QueryRow(
		`SELECT modem_id, balance, currency, network, signal_strength,
			last_balance_check, last_network_check, last_signal_check,
			is_online, last_online, created_at, updated_at
		FROM modem_state WHERE modem_id = ?`,
		modemID,
	).Scan(
		&state.ModemID,
		&state.Balance,
		&state.Currency,
		&state.Network,
		&state.SignalStrength,
		&state.LastBalanceCheck,
		&state.LastNetworkCheck,
		&state.LastSignalCheck,
		&state.IsOnline,
		&state.LastOnline,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get modem state: %w", err)
	}
	return state, nil
}
