package sqlite

import (
	"database/sql"
	"time"
)

// ─── Evidence Blobs ─────────────────────────────────────────────────────────

// PutEvidence stores content under its digest. Storing the same digest twice
// is a no-op.
func (d *DB) PutEvidence(digest string, content []byte, at time.Time) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO evidence (digest, content, size_bytes, created_at) VALUES (?, ?, ?, ?)`,
		digest, content, len(content), at.Unix(),
	)
	return err
}

// GetEvidence returns the content stored under digest, or (nil, nil).
func (d *DB) GetEvidence(digest string) ([]byte, error) {
	var content []byte
	err := d.db.QueryRow(`SELECT content FROM evidence WHERE digest = ?`, digest).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// EvidenceStats returns the number of stored blobs and their total size.
func (d *DB) EvidenceStats() (count int, bytes int64, err error) {
	err = d.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM evidence`).Scan(&count, &bytes)
	return count, bytes, err
}
