package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Wallets ────────────────────────────────────────────────────────────────

// InsertWallet registers a programmable wallet.
func (t *Tx) InsertWallet(w domain.Wallet) error {
	owners := make([]string, len(w.Owners))
	for i, o := range w.Owners {
		owners[i] = o.String()
	}
	_, err := t.tx.Exec(
		`INSERT INTO wallets (address, owners, threshold, created_at) VALUES (?, ?, ?, ?)`,
		w.Address.String(), strings.Join(owners, ","), w.Threshold, w.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert wallet %s: %w", w.Address, err)
	}
	return nil
}

// Wallet returns the wallet registered at addr, or (nil, nil) if addr is a
// plain key.
func (t *Tx) Wallet(addr domain.Address) (*domain.Wallet, error) {
	var (
		owners    string
		createdAt int64
		w         = domain.Wallet{Address: addr}
	)
	err := t.tx.QueryRow(
		`SELECT owners, threshold, created_at FROM wallets WHERE address = ?`, addr.String(),
	).Scan(&owners, &w.Threshold, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, s := range strings.Split(owners, ",") {
		o, err := domain.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("wallet %s owner: %w", addr, err)
		}
		w.Owners = append(w.Owners, o)
	}
	w.CreatedAt = fromNullableUnix(sql.NullInt64{Int64: createdAt, Valid: true})
	return &w, nil
}
