package escrow

import (
	"context"
	"fmt"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// ─── Programmable Wallets ───────────────────────────────────────────────────

// RegisterWallet creates an m-of-n wallet. Once registered, signatures
// claimed for the wallet address are validated by its owner policy
// instead of key recovery.
func (e *Engine) RegisterWallet(ctx context.Context, owners []domain.Address, threshold int, salt uint64) (domain.Wallet, error) {
	w, err := security.NewWallet(owners, threshold, salt)
	if err != nil {
		return domain.Wallet{}, err
	}
	w.CreatedAt = e.Now()

	err = e.db.Update(ctx, func(tx *sqlite.Tx) error {
		existing, err := tx.Wallet(w.Address)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s already registered", domain.ErrInvalidWallet, w.Address)
		}
		return tx.InsertWallet(w)
	})
	if err != nil {
		return domain.Wallet{}, err
	}
	e.logger.Info("wallet registered", "address", w.Address, "owners", len(w.Owners), "threshold", w.Threshold)
	return w, nil
}

// Wallet returns the wallet at addr, or nil when addr is a plain key.
func (e *Engine) Wallet(ctx context.Context, addr domain.Address) (*domain.Wallet, error) {
	var w *domain.Wallet
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		w, err = tx.Wallet(addr)
		return err
	})
	return w, err
}
