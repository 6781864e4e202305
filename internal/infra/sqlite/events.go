package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Event Log ──────────────────────────────────────────────────────────────

// InsertEvent appends a lifecycle event.
func (t *Tx) InsertEvent(e domain.Event) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}
	var taskID sql.NullInt64
	if e.TaskID != nil {
		taskID = sql.NullInt64{Int64: int64(*e.TaskID), Valid: true}
	}
	_, err = t.tx.Exec(
		`INSERT INTO events (id, task_id, type, actor, timestamp, fields) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, taskID, string(e.Type), e.Actor.String(), e.Timestamp.Unix(), string(fields),
	)
	return err
}

// AppendEvent stamps a new event with a fresh id and inserts it. taskID may
// be nil for registry events.
func (t *Tx) AppendEvent(typ domain.EventType, taskID *uint64, actor domain.Address, at time.Time, fields map[string]string) (domain.Event, error) {
	e := domain.Event{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      typ,
		Actor:     actor,
		Timestamp: at,
		Fields:    fields,
	}
	if err := t.InsertEvent(e); err != nil {
		return domain.Event{}, fmt.Errorf("append %s event: %w", typ, err)
	}
	return e, nil
}

// TaskEvents returns the events of one task in the order they happened.
func (t *Tx) TaskEvents(taskID uint64) ([]domain.Event, error) {
	return t.queryEvents(
		`SELECT id, task_id, type, actor, timestamp, fields FROM events WHERE task_id = ? ORDER BY seq ASC`,
		int64(taskID),
	)
}

// RecentEvents returns the latest events across all tasks, newest first.
func (t *Tx) RecentEvents(limit int) ([]domain.Event, error) {
	return t.queryEvents(
		`SELECT id, task_id, type, actor, timestamp, fields FROM events ORDER BY seq DESC LIMIT ?`,
		sqlLimit(limit),
	)
}

func (t *Tx) queryEvents(query string, args ...any) ([]domain.Event, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e          domain.Event
			taskID     sql.NullInt64
			typ, actor string
			ts         int64
			fields     string
		)
		if err := rows.Scan(&e.ID, &taskID, &typ, &actor, &ts, &fields); err != nil {
			return nil, err
		}
		if taskID.Valid {
			id := uint64(taskID.Int64)
			e.TaskID = &id
		}
		e.Type = domain.EventType(typ)
		if e.Actor, err = domain.ParseAddress(actor); err != nil {
			return nil, err
		}
		e.Timestamp = fromNullableUnix(sql.NullInt64{Int64: ts, Valid: true})
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, fmt.Errorf("decode event %s fields: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
