package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/slavaboiko/smsgate/internal/models"
)

var (
	// ErrEventNotFound is returned when a status update names an
	// unknown event id.
	ErrEventNotFound = errors.New("event not found")
	// ErrStatusFinal is returned when a status update would move an
	// event out of a terminal state.
	ErrStatusFinal = errors.New("event status is final")
)

// EventFilter narrows a GetEvents query. Zero values mean "any".
type EventFilter struct {
	ModemID string
	Type    models.EventType
	Status  models.EventStatus
}

// EventRepository defines the event store data access.
type EventRepository interface {
	AddEvent(eventType models.EventType, modemID string, body map[string]interface{}) (int64, error)
	AddEventWithStatus(eventType models.EventType, modemID string, body map[string]interface{}, status models.EventStatus, errText string) (int64, error)
	UpdateEventStatus(eventID int64, status models.EventStatus, errText string) error
	GetEvents(filter EventFilter, limit int) ([]*models.Event, error)
}

type eventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

// AddEvent appends a pending event. The timestamp is assigned here, not by
// the caller, so replays reflect actual processing order.
func (r *eventRepository) AddEvent(eventType models.EventType, modemID string, body map[string]interface{}) (int64, error) {
	return r.AddEventWithStatus(eventType, modemID, body, models.StatusPending, "")
}

// AddEventWithStatus appends an event with an explicit initial status.
func (r *eventRepository) AddEventWithStatus(eventType models.EventType, modemID string, body map[string]interface{}, status models.EventStatus, errText string) (int64, error) {
	if !eventType.Valid() {
		return 0, fmt.Errorf("invalid event type %q", eventType)
	}
	if !status.Valid() {
		return 0, fmt.Errorf("invalid event status %q", status)
	}
	if modemID == "" {
		return 0, errors.New("modem ID is required")
	}
	if errText != "" && status != models.StatusFailed && status != models.StatusError {
		return 0, fmt.Errorf("error text requires failed or error status, got %q", status)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event body: %w", err)
	}

	res, err := r.db.Exec(
		`INSERT INTO events (type, status, modem_id, timestamp, body, error) VALUES (?, ?, ?, ?, ?, ?)`,
		string(eventType),
		string(status),
		modemID,
		time.Now().UTC(),
		string(encoded),
		nullString(errText),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add event: %w", err)
	}
	return res.LastInsertId()
}

// UpdateEventStatus moves an event forward in its lifecycle. Pending is
// the only state that can transition; moving back to pending or updating a
// terminal event fails.
func (r *eventRepository) UpdateEventStatus(eventID int64, status models.EventStatus, errText string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid event status %q", status)
	}
	if status == models.StatusPending {
		return fmt.Errorf("%w: cannot transition back to %q", ErrStatusFinal, status)
	}
	if errText != "" && status != models.StatusFailed && status != models.StatusError {
		return fmt.Errorf("error text requires failed or error status, got %q", status)
	}

	res, err := r.db.Exec(
		`UPDATE events SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		string(status),
		nullString(errText),
		eventID,
		string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := r.db.QueryRow(`SELECT status FROM events WHERE id = ?`, eventID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: id %d", ErrEventNotFound, eventID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: event %d is %s", ErrStatusFinal, eventID, current)
	}
	return nil
}

// GetEvents returns events newest-first. Filters combine conjunctively.
func (r *eventRepository) GetEvents(filter EventFilter, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, type, status, modem_id, timestamp, body, error, created_at, updated_at FROM events WHERE 1=1`
	var params []interface{}

	if filter.ModemID != "" {
		query += ` AND modem_id = ?`
		params = append(params, filter.ModemID)
	}
	if filter.Type != "" {
		if !filter.Type.Valid() {
			return nil, fmt.Errorf("invalid event type %q", filter.Type)
		}
		query += ` AND type = ?`
		params = append(params, string(filter.Type))
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("invalid event status %q", filter.Status)
		}
		query += ` AND status = ?`
		params = append(params, string(filter.Status))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	params = append(params, limit)

	rows, err := r.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var body string
		var errText sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Status,
			&event.ModemID,
			&event.Timestamp,
			&body,
			&errText,
			&event.CreatedAt,
			&event.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &event.Body); err != nil {
			return nil, fmt.Errorf("failed to decode body of event %d: %w", event.ID, err)
		}
		if errText.Valid {
			event.Error = errText.String
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
