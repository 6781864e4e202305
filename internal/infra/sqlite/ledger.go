package sqlite

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Token Ledger ───────────────────────────────────────────────────────────

const ledgerColumns = `id, transfer_id, timestamp, type, entry_type, token, account,
	amount, task_id, description, balance`

// InsertLedgerEntry adds one side of a token movement.
func (t *Tx) InsertLedgerEntry(entry domain.LedgerEntry) (int64, error) {
	var taskID sql.NullInt64
	if entry.TaskID != nil {
		taskID = sql.NullInt64{Int64: int64(*entry.TaskID), Valid: true}
	}
	result, err := t.tx.Exec(
		`INSERT INTO token_ledger (transfer_id, timestamp, type, entry_type, token, account, amount, task_id, description, balance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TransferID, entry.Timestamp.Unix(), string(entry.Type), string(entry.EntryType),
		entry.Token.String(), entry.Account, formatAmount(entry.Amount), taskID,
		nullStr(entry.Description), formatAmount(entry.Balance),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// TokenBalance returns the current balance of account in token.
func (t *Tx) TokenBalance(token domain.Address, account string) (*big.Int, error) {
	var balance string
	err := t.tx.QueryRow(
		`SELECT balance FROM token_ledger WHERE token = ? AND account = ? ORDER BY id DESC LIMIT 1`,
		token.String(), account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(balance)
}

// AccountBalances returns every token balance held by account.
func (t *Tx) AccountBalances(account string) (map[domain.Address]*big.Int, error) {
	rows, err := t.tx.Query(
		`SELECT token, balance FROM token_ledger
		 WHERE id IN (SELECT MAX(id) FROM token_ledger WHERE account = ? GROUP BY token)`,
		account,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Address]*big.Int)
	for rows.Next() {
		var tok, bal string
		if err := rows.Scan(&tok, &bal); err != nil {
			return nil, err
		}
		addr, err := domain.ParseAddress(tok)
		if err != nil {
			return nil, err
		}
		if out[addr], err = parseAmount(bal); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

// LedgerEntries returns recent ledger entries for an account, newest first.
func (t *Tx) LedgerEntries(account string, limit int) ([]domain.LedgerEntry, error) {
	return t.queryLedger(
		`SELECT `+ledgerColumns+` FROM token_ledger WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account, sqlLimit(limit),
	)
}

// TaskLedgerEntries returns every posting tagged with taskID, oldest first.
func (t *Tx) TaskLedgerEntries(taskID uint64) ([]domain.LedgerEntry, error) {
	return t.queryLedger(
		`SELECT `+ledgerColumns+` FROM token_ledger WHERE task_id = ? ORDER BY id ASC`,
		int64(taskID),
	)
}

func (t *Tx) queryLedger(query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e                  domain.LedgerEntry
			ts                 int64
			typ, entryType     string
			token, amount, bal string
			taskID             sql.NullInt64
			desc               sql.NullString
		)
		err := rows.Scan(&e.ID, &e.TransferID, &ts, &typ, &entryType, &token, &e.Account,
			&amount, &taskID, &desc, &bal)
		if err != nil {
			return nil, err
		}
		e.Timestamp = fromNullableUnix(sql.NullInt64{Int64: ts, Valid: true})
		e.Type = domain.TxType(typ)
		e.EntryType = domain.EntryType(entryType)
		if e.Token, err = domain.ParseAddress(token); err != nil {
			return nil, err
		}
		if e.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if e.Balance, err = parseAmount(bal); err != nil {
			return nil, err
		}
		if taskID.Valid {
			id := uint64(taskID.Int64)
			e.TaskID = &id
		}
		if desc.Valid {
			e.Description = desc.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return entries, nil
}
