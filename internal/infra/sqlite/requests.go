package sqlite

import (
	"fmt"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Request Log ────────────────────────────────────────────────────────────

// RecordRequest logs a signed request digest. It reports false when the
// digest was already logged. Entries signed before cutoff can no longer
// pass the timestamp check and are pruned first.
func (t *Tx) RecordRequest(caller domain.Address, digest domain.Hash, signedAt, cutoff time.Time) (bool, error) {
	if _, err := t.tx.Exec(`DELETE FROM request_log WHERE signed_at < ?`, cutoff.Unix()); err != nil {
		return false, fmt.Errorf("prune request log: %w", err)
	}
	res, err := t.tx.Exec(
		`INSERT OR IGNORE INTO request_log (digest, caller, signed_at) VALUES (?, ?, ?)`,
		digest.String(), caller.String(), signedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("record request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RequestLogSize returns the number of logged request digests.
func (t *Tx) RequestLogSize() (int, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM request_log`).Scan(&n)
	return n, err
}
