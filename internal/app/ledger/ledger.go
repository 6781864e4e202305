// Package ledger implements the token vault as a double-entry ledger.
// Every movement creates a matched DEBIT/CREDIT pair sharing a transfer id,
// so per token SUM(debits) == SUM(credits) always holds.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

// Vault moves tokens between accounts. Transfer methods take the caller's
// transaction so they commit or roll back together with the state change
// that caused them.
type Vault struct {
	db    *sqlite.DB
	clock domain.Clock
}

// NewVault creates a vault over db.
func NewVault(db *sqlite.DB, clock domain.Clock) *Vault {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Vault{db: db, clock: clock}
}

// Posting describes one movement.
type Posting struct {
	Token  domain.Address
	From   string
	To     string
	Amount *big.Int
	TaskID *uint64
	Type   domain.TxType
	Memo   string
}

// Transfer records p inside tx. A zero amount is a no-op. The source must
// hold at least p.Amount unless it is the system pool.
func (v *Vault) Transfer(tx *sqlite.Tx, p Posting) error {
	if p.Amount == nil || p.Amount.Sign() == 0 {
		return nil
	}
	if p.Amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", domain.ErrNegativeAmount, p.Amount)
	}

	fromBal, err := tx.TokenBalance(p.Token, p.From)
	if err != nil {
		return fmt.Errorf("get %s balance: %w", p.From, err)
	}
	if p.From != domain.AccountSystemPool && fromBal.Cmp(p.Amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s",
			domain.ErrInsufficientBalance, p.From, fromBal, p.Token, p.Amount)
	}
	toBal, err := tx.TokenBalance(p.Token, p.To)
	if err != nil {
		return fmt.Errorf("get %s balance: %w", p.To, err)
	}

	transferID := uuid.NewString()
	now := v.clock.Now()

	// DEBIT source
	_, err = tx.InsertLedgerEntry(domain.LedgerEntry{
		TransferID:  transferID,
		Timestamp:   now,
		Type:        p.Type,
		EntryType:   domain.EntryDebit,
		Token:       p.Token,
		Account:     p.From,
		Amount:      p.Amount,
		TaskID:      p.TaskID,
		Description: p.Memo,
		Balance:     new(big.Int).Sub(fromBal, p.Amount),
	})
	if err != nil {
		return fmt.Errorf("debit %s: %w", p.From, err)
	}

	// CREDIT destination
	_, err = tx.InsertLedgerEntry(domain.LedgerEntry{
		TransferID:  transferID,
		Timestamp:   now,
		Type:        p.Type,
		EntryType:   domain.EntryCredit,
		Token:       p.Token,
		Account:     p.To,
		Amount:      p.Amount,
		TaskID:      p.TaskID,
		Description: p.Memo,
		Balance:     new(big.Int).Add(toBal, p.Amount),
	})
	if err != nil {
		return fmt.Errorf("credit %s: %w", p.To, err)
	}
	return nil
}

// Lock moves amount from a party into escrow custody for a task.
func (v *Vault) Lock(tx *sqlite.Tx, token domain.Address, from domain.Address, amount *big.Int, taskID uint64, memo string) error {
	return v.Transfer(tx, Posting{
		Token: token, From: from.String(), To: domain.AccountEscrow,
		Amount: amount, TaskID: &taskID, Type: domain.TxDeposit, Memo: memo,
	})
}

// Release pays amount out of escrow custody to a party.
func (v *Vault) Release(tx *sqlite.Tx, token domain.Address, to domain.Address, amount *big.Int, taskID uint64, memo string) error {
	return v.Transfer(tx, Posting{
		Token: token, From: domain.AccountEscrow, To: to.String(),
		Amount: amount, TaskID: &taskID, Type: domain.TxPayout, Memo: memo,
	})
}

// Mint issues amount of token to an account. Only the registry owner may
// mint; the faucet exists for local deployments.
func (v *Vault) Mint(ctx context.Context, caller domain.Address, token domain.Address, to domain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	return v.db.Update(ctx, func(tx *sqlite.Tx) error {
		cfg, err := tx.LoadConfig()
		if err != nil {
			return err
		}
		if cfg == nil || cfg.Owner != caller {
			return domain.ErrNotOwner
		}
		return v.Transfer(tx, Posting{
			Token: token, From: domain.AccountSystemPool, To: to.String(),
			Amount: amount, Type: domain.TxMint, Memo: "mint",
		})
	})
}

// Send moves caller's own tokens to another address.
func (v *Vault) Send(ctx context.Context, caller domain.Address, token domain.Address, to domain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	if to.IsZero() {
		return domain.ErrInvalidAddress
	}
	return v.db.Update(ctx, func(tx *sqlite.Tx) error {
		return v.Transfer(tx, Posting{
			Token: token, From: caller.String(), To: to.String(),
			Amount: amount, Type: domain.TxTransfer, Memo: "transfer",
		})
	})
}

// Balance returns how much of token account holds.
func (v *Vault) Balance(ctx context.Context, token domain.Address, account string) (*big.Int, error) {
	var bal *big.Int
	err := v.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		bal, err = tx.TokenBalance(token, account)
		return err
	})
	return bal, err
}

// Balances returns every token balance account holds.
func (v *Vault) Balances(ctx context.Context, account string) (map[domain.Address]*big.Int, error) {
	var out map[domain.Address]*big.Int
	err := v.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		out, err = tx.AccountBalances(account)
		return err
	})
	return out, err
}

// History returns recent ledger entries for account.
func (v *Vault) History(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := v.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		out, err = tx.LedgerEntries(account, limit)
		return err
	})
	return out, err
}

// ─── Per-Task Flows ─────────────────────────────────────────────────────────

// Flows sums what went into and came out of escrow for one task, per token.
type Flows struct {
	Deposits map[domain.Address]*big.Int `json:"deposits"`
	Payouts  map[domain.Address]*big.Int `json:"payouts"`
}

// Held returns deposits minus payouts for token.
func (f Flows) Held(token domain.Address) *big.Int {
	out := new(big.Int)
	if d, ok := f.Deposits[token]; ok {
		out.Add(out, d)
	}
	if p, ok := f.Payouts[token]; ok {
		out.Sub(out, p)
	}
	return out
}

// Balanced reports whether every token deposited for the task has been paid out.
func (f Flows) Balanced() bool {
	for tok := range f.Deposits {
		if f.Held(tok).Sign() != 0 {
			return false
		}
	}
	for tok := range f.Payouts {
		if f.Held(tok).Sign() != 0 {
			return false
		}
	}
	return true
}

// TaskFlows computes Flows from the escrow side of the task's postings.
func TaskFlows(tx *sqlite.Tx, taskID uint64) (Flows, error) {
	entries, err := tx.TaskLedgerEntries(taskID)
	if err != nil {
		return Flows{}, err
	}
	f := Flows{
		Deposits: make(map[domain.Address]*big.Int),
		Payouts:  make(map[domain.Address]*big.Int),
	}
	for _, e := range entries {
		if e.Account != domain.AccountEscrow {
			continue
		}
		bucket := f.Payouts
		if e.EntryType == domain.EntryCredit {
			bucket = f.Deposits
		}
		if bucket[e.Token] == nil {
			bucket[e.Token] = new(big.Int)
		}
		bucket[e.Token].Add(bucket[e.Token], e.Amount)
	}
	return f, nil
}

// Flows is the read-only form of TaskFlows.
func (v *Vault) Flows(ctx context.Context, taskID uint64) (Flows, error) {
	var f Flows
	err := v.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		f, err = TaskFlows(tx, taskID)
		return err
	})
	return f, err
}

// EscrowHoldings returns the escrow account's balance per token.
func (v *Vault) EscrowHoldings(ctx context.Context) (map[domain.Address]*big.Int, error) {
	return v.Balances(ctx, domain.AccountEscrow)
}
