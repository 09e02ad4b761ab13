// Package audit provides significant-event logging for the settlement
// engine: settlement failures, compensation requirements, large wins
// and RNG health results.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/domain"
)

// Event types
const (
	EventBetSettled           = "bet_settled"
	EventLargeWin             = "large_win"
	EventSettlementFailed     = "settlement_failed"
	EventCompensationRequired = "compensation_required"
	EventGamingDisabled       = "gaming_disabled"
	EventGamingEnabled        = "gaming_enabled"
	EventRoundCrashed         = "round_crashed"
	EventRNGHealthCheck       = "rng_health_check"
	EventSystemError          = "system_error"
)

// Service provides audit logging. Every event goes to the structured
// log; when a database handle is present the event is also appended to
// the audit_events table.
type Service struct {
	db  *sql.DB
	log *logrus.Logger
}

// New creates a new audit service. db may be nil, in which case events
// are only written to the structured log.
func New(db *sql.DB, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, log: log}
}

// LogEvent records a significant event
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	entry := s.log.WithFields(logrus.Fields{
		"audit_event": event.Type,
		"severity":    event.Severity,
		"component":   event.Component,
	})
	if event.AccountID != nil {
		entry = entry.WithField("account_id", *event.AccountID)
	}
	if event.BetID != nil {
		entry = entry.WithField("bet_id", *event.BetID)
	}
	switch event.Severity {
	case domain.SeverityError, domain.SeverityCritical:
		entry.Error(event.Description)
	case domain.SeverityWarning:
		entry.Warn(event.Description)
	default:
		entry.Info(event.Description)
	}

	if s.db == nil {
		return nil
	}

	dataJSON, _ := json.Marshal(event.Data)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, severity, timestamp, account_id, bet_id, description, data, component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.Type, event.Severity, event.Timestamp, event.AccountID, event.BetID,
		event.Description, string(dataJSON), event.Component)

	return err
}

// Log is a convenience method for logging events
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	event := &domain.AuditEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   "settlement",
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err == nil {
			event.Data = jsonData
		}
	}

	for _, opt := range opts {
		opt(event)
	}

	return s.LogEvent(ctx, event)
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithAccount sets the account ID for the event
func WithAccount(accountID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.AccountID = &accountID
	}
}

// WithBet sets the bet ID for the event
func WithBet(betID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.BetID = &betID
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}

// GetEvents retrieves audit events with optional filtering
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*domain.AuditEvent, error) {
	if s.db == nil {
		return nil, nil
	}

	query := `SELECT id, type, severity, timestamp, account_id, bet_id, description, data, component
			  FROM audit_events WHERE 1=1`
	args := []interface{}{}
	paramIdx := 1

	if filter != nil {
		if filter.AccountID != "" {
			query += fmt.Sprintf(" AND account_id = $%d", paramIdx)
			args = append(args, filter.AccountID)
			paramIdx++
		}
		if filter.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", paramIdx)
			args = append(args, filter.Type)
			paramIdx++
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND timestamp >= $%d", paramIdx)
			args = append(args, filter.From)
			paramIdx++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND timestamp <= $%d", paramIdx)
			args = append(args, filter.To)
			paramIdx++
		}
	}

	query += " ORDER BY timestamp DESC"

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", paramIdx)
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var accountID, betID sql.NullString
		var data string

		err := rows.Scan(&event.ID, &event.Type, &event.Severity, &event.Timestamp,
			&accountID, &betID, &event.Description, &data, &event.Component)
		if err != nil {
			return nil, err
		}

		if accountID.Valid {
			event.AccountID = &accountID.String
		}
		if betID.Valid {
			event.BetID = &betID.String
		}
		if data != "" {
			event.Data = json.RawMessage(data)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	AccountID string
	Type      string
	From      time.Time
	To        time.Time
	Limit     int
}
