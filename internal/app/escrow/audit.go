package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

// ─── Conservation Audit ─────────────────────────────────────────────────────

// openStatuses are the statuses in which a task can hold funds.
var openStatuses = []domain.TaskStatus{
	domain.StatusAccepted,
	domain.StatusResultAsserted,
	domain.StatusDisputedAwaitingAgent,
	domain.StatusEscalatedToUMA,
}

// Expected returns what escrow should hold for t, per token.
func Expected(t domain.Task) map[domain.Address]*big.Int {
	out := make(map[domain.Address]*big.Int)
	add := func(tok domain.Address, v *big.Int) {
		if v == nil || v.Sign() == 0 {
			return
		}
		if out[tok] == nil {
			out[tok] = new(big.Int)
		}
		out[tok].Add(out[tok], v)
	}
	if t.IsTerminal() {
		return out
	}
	if t.PaymentDeposited {
		add(t.PaymentToken, t.PaymentAmount)
	}
	add(t.PaymentToken, t.ClientDisputeBond)
	add(t.PaymentToken, t.AgentEscalationBond)
	add(t.StakeToken, t.AgentStake)
	return out
}

// CheckConservation compares the escrow account's balances against the
// amounts recorded on every open task. Any difference means funds were
// created or lost.
func (e *Engine) CheckConservation(ctx context.Context) error {
	return e.db.View(ctx, func(tx *sqlite.Tx) error {
		want := make(map[domain.Address]*big.Int)
		for _, status := range openStatuses {
			tasks, err := tx.ListTasksByStatus(status, 0) // all
			if err != nil {
				return err
			}
			for _, t := range tasks {
				for tok, v := range Expected(t) {
					if want[tok] == nil {
						want[tok] = new(big.Int)
					}
					want[tok].Add(want[tok], v)
				}
			}
		}

		held, err := tx.AccountBalances(domain.AccountEscrow)
		if err != nil {
			return err
		}
		for tok, v := range held {
			w := want[tok]
			if w == nil {
				w = new(big.Int)
			}
			if v.Cmp(w) != 0 {
				return fmt.Errorf("escrow holds %s of %s, open tasks account for %s", v, tok, w)
			}
		}
		for tok, w := range want {
			if _, ok := held[tok]; !ok && w.Sign() != 0 {
				return fmt.Errorf("escrow holds no %s, open tasks account for %s", tok, w)
			}
		}
		return nil
	})
}
