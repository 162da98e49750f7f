package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. The sequence read and the insert share one transaction; with a
// single open connection no other writer can interleave.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, event_type, payload, timestamp, sequence) VALUES (?, ?, ?, ?, ?)`,
		event.ExecutionID, event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByType returns events of one type, oldest first.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	query := `SELECT id, execution_id, event_type, payload, timestamp, sequence FROM events WHERE event_type = ?`
	args := []any{eventType}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	query += " ORDER BY timestamp ASC, id ASC"
	query += limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventLog reads an execution's lifecycle back out of the append-only log.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide replay.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Replay returns the execution's events and the status they imply.
// A sequence gap means the log was tampered with and is reported as a store error.
func (el *EventLog) Replay(ctx context.Context, executionID string) ([]*Event, schema.ExecutionStatus, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, "", fmt.Errorf("get events for replay: %w", err)
	}

	status := schema.ExecutionPending
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, "", schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
		switch e.Type {
		case schema.EventExecutionStarted:
			status = schema.ExecutionRunning
		case schema.EventExecutionSucceeded:
			status = schema.ExecutionSuccess
		case schema.EventExecutionFailed:
			status = schema.ExecutionFailed
		}
	}
	return events, status, nil
}
