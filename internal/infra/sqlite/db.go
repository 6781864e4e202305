// Package sqlite provides SQLite-based persistent storage for the escrow.
// Uses WAL mode for concurrent reads and crash-safe writes. Every state
// change runs inside one transaction so a transition either fully applies
// (task row + ledger postings + events) or not at all.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Tx is one atomic unit of work. All repository methods live on Tx.
type Tx struct {
	tx *sql.Tx
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; one connection also serializes every
	// escrow operation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// Update runs fn in a read-write transaction. Any error from fn rolls the
// transaction back and is returned unchanged.
func (d *DB) Update(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (d *DB) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&Tx{tx: sqlTx})
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Task records. Rows are never deleted; id starts at zero.
		`CREATE TABLE IF NOT EXISTS tasks (
			id                    INTEGER PRIMARY KEY,
			client                TEXT NOT NULL,
			agent                 TEXT NOT NULL DEFAULT '',
			description_uri       TEXT NOT NULL DEFAULT '',
			payment_token         TEXT NOT NULL,
			payment_amount        TEXT NOT NULL,
			stake_token           TEXT NOT NULL,
			agent_stake           TEXT NOT NULL DEFAULT '0',
			created_at            INTEGER NOT NULL,
			deadline              INTEGER NOT NULL,
			cooldown_ends_at      INTEGER,
			status                TEXT NOT NULL,
			result_hash           TEXT NOT NULL DEFAULT '',
			agent_signature       TEXT NOT NULL DEFAULT '',
			client_dispute_bond   TEXT NOT NULL DEFAULT '0',
			agent_escalation_bond TEXT NOT NULL DEFAULT '0',
			client_evidence_uri   TEXT NOT NULL DEFAULT '',
			agent_evidence_uri    TEXT NOT NULL DEFAULT '',
			result_uri            TEXT NOT NULL DEFAULT '',
			assertion_id          TEXT NOT NULL DEFAULT '',
			oracle_truth          BOOLEAN DEFAULT 0,
			payment_deposited     BOOLEAN DEFAULT 0,
			outcome               TEXT NOT NULL DEFAULT 'None',
			resolved_at           INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_client ON tasks(client)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,

		// Config registry singleton and token whitelist.
		`CREATE TABLE IF NOT EXISTS registry (
			id                       INTEGER PRIMARY KEY CHECK (id = 1),
			owner                    TEXT NOT NULL,
			cooldown_seconds         INTEGER NOT NULL,
			response_window_seconds  INTEGER NOT NULL,
			dispute_bond_bps         INTEGER NOT NULL,
			escalation_bond_bps      INTEGER NOT NULL,
			market_maker_fee_bps     INTEGER NOT NULL,
			market_maker_address     TEXT NOT NULL DEFAULT '',
			oracle_address           TEXT NOT NULL DEFAULT '',
			oracle_liveness_seconds  INTEGER NOT NULL,
			oracle_minimum_bond      TEXT NOT NULL DEFAULT '0',
			updated_at               INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS allowed_tokens (
			token    TEXT PRIMARY KEY,
			added_at INTEGER NOT NULL
		)`,

		// Oracle assertion handles, one-to-one with tasks.
		`CREATE TABLE IF NOT EXISTS assertions (
			assertion_id TEXT PRIMARY KEY,
			task_id      INTEGER NOT NULL UNIQUE REFERENCES tasks(id),
			claim        TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			bond         TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			resolved     BOOLEAN DEFAULT 0,
			truth        BOOLEAN DEFAULT 0,
			resolved_at  INTEGER
		)`,

		// Token ledger (double-entry bookkeeping, running balance per
		// token/account pair).
		`CREATE TABLE IF NOT EXISTS token_ledger (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			transfer_id TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			type        TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			token       TEXT NOT NULL,
			account     TEXT NOT NULL,
			amount      TEXT NOT NULL,
			task_id     INTEGER,
			description TEXT,
			balance     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON token_ledger(token, account)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_task ON token_ledger(task_id)`,

		// Lifecycle events.
		`CREATE TABLE IF NOT EXISTS events (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT NOT NULL UNIQUE,
			task_id   INTEGER,
			type      TEXT NOT NULL,
			actor     TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			fields    TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id)`,

		// Content-addressed evidence blobs.
		`CREATE TABLE IF NOT EXISTS evidence (
			digest     TEXT PRIMARY KEY,
			content    BLOB NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		// Signed request digests seen inside the timestamp window.
		`CREATE TABLE IF NOT EXISTS request_log (
			digest    TEXT PRIMARY KEY,
			caller    TEXT NOT NULL,
			signed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_log_signed ON request_log(signed_at)`,

		// Programmable wallets.
		`CREATE TABLE IF NOT EXISTS wallets (
			address    TEXT PRIMARY KEY,
			owners     TEXT NOT NULL,
			threshold  INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullableUnix(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", s)
	}
	return v, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
