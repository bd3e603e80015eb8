package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/slavaboiko/smsgate/internal/models"
)

// FinancialRepository is the append-only ledger of billable activity.
// Rows are write-once; there is no update path.
type FinancialRepository interface {
	AddFinancialActivity(modemID, eventType string, amount *float64, currency, details *string) error
	GetFinancialActivityPeriod(modemID string, days int) ([]*models.FinancialActivity, error)
}

type financialRepository struct {
	db *sql.DB
}

// NewFinancialRepository creates a new FinancialRepository.
func NewFinancialRepository(db *sql.DB) FinancialRepository {
	return &financialRepository{db: db}
}

// AddFinancialActivity inserts one ledger row with a server-assigned
// timestamp.
func (r *financialRepository) AddFinancialActivity(modemID, eventType string, amount *float64, currency, details *string) error {
	if modemID == "" {
		return errors.New("modem ID is required")
	}
	if eventType == "" {
		return errors.New("event type is required")
	}

	_, err := r.db.Exec(
		`INSERT INTO financial_activity (modem_id, event_type, amount, currency, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		modemID,
		eventType,
		deref(amount),
		deref(currency),
		time.Now().UTC(),
		deref(details),
	)
	if err != nil {
		return fmt.Errorf("failed to add financial activity: %w", err)
	}
	return nil
}

// GetFinancialActivityPeriod returns the ledger rows for a modem within
// the trailing window, newest-first. A non-positive window defaults to 30
// days.
func (r *financialRepository) GetFinancialActivityPeriod(modemID string, days int) ([]*models.FinancialActivity, error) {
	if modemID == "" {
		return nil, errors.New("modem ID is required")
	}
	if days <= 0 {
		days = 30
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.db.Query(
		`SELECT id, modem_id, event_type, amount, currency, timestamp, details, created_at
		FROM financial_activity
		WHERE modem_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC`,
		modemID,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query financial activity: %w", err)
	}
	defer rows.Close()

	var activities []*models.FinancialActivity
	for rows.Next() {
		activity := &models.FinancialActivity{}
		if err := rows.Scan(
			&activity.ID,
			&activity.ModemID,
			&activity.EventType,
			&activity.Amount,
			&activity.Currency,
			&activity.Timestamp,
			&activity.Details,
			&activity.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan financial activity: %w", err)
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activities, nil
}
