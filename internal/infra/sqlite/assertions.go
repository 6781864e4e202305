package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Oracle Assertions ──────────────────────────────────────────────────────

// InsertAssertion records a new assertion handle. A handle that already
// exists, or a task that already has one, yields domain.ErrAssertionReused.
func (t *Tx) InsertAssertion(a domain.Assertion) error {
	var n int
	err := t.tx.QueryRow(
		`SELECT COUNT(*) FROM assertions WHERE assertion_id = ? OR task_id = ?`,
		a.ID, int64(a.TaskID),
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ErrAssertionReused
	}

	_, err = t.tx.Exec(
		`INSERT INTO assertions (assertion_id, task_id, claim, payload_hash, bond, created_at, resolved, truth, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, int64(a.TaskID), a.Claim, a.PayloadHash.String(), formatAmount(a.Bond),
		a.CreatedAt.Unix(), a.Resolved, a.Truth, nullableUnix(a.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert assertion %s: %w", a.ID, err)
	}
	return nil
}

// GetAssertion looks up a handle. Returns (nil, nil) if unknown.
func (t *Tx) GetAssertion(id string) (*domain.Assertion, error) {
	row := t.tx.QueryRow(
		`SELECT assertion_id, task_id, claim, payload_hash, bond, created_at, resolved, truth, resolved_at
		 FROM assertions WHERE assertion_id = ?`, id,
	)
	return scanAssertion(row)
}

// MarkAssertionResolved records the verdict for a handle.
func (t *Tx) MarkAssertionResolved(id string, truth bool, at time.Time) error {
	res, err := t.tx.Exec(
		`UPDATE assertions SET resolved = 1, truth = ?, resolved_at = ? WHERE assertion_id = ? AND resolved = 0`,
		truth, at.Unix(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUnknownAssertion
	}
	return nil
}

// ListAssertions returns handles oldest first, optionally only unresolved ones.
func (t *Tx) ListAssertions(pendingOnly bool, limit int) ([]domain.Assertion, error) {
	query := `SELECT assertion_id, task_id, claim, payload_hash, bond, created_at, resolved, truth, resolved_at
		 FROM assertions`
	if pendingOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at ASC, task_id ASC LIMIT ?`

	rows, err := t.tx.Query(query, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Assertion
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAssertion(s scanner) (*domain.Assertion, error) {
	var (
		a                 domain.Assertion
		taskID, createdAt int64
		hash, bond        string
		resolvedAt        sql.NullInt64
	)
	err := s.Scan(&a.ID, &taskID, &a.Claim, &hash, &bond, &createdAt, &a.Resolved, &a.Truth, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.TaskID = uint64(taskID)
	a.CreatedAt = fromNullableUnix(sql.NullInt64{Int64: createdAt, Valid: true})
	a.ResolvedAt = fromNullableUnix(resolvedAt)
	if a.PayloadHash, err = domain.ParseHash(hash); err != nil {
		return nil, err
	}
	if a.Bond, err = parseAmount(bond); err != nil {
		return nil, err
	}
	return &a, nil
}
