package escrow

import (
	"fmt"
	"math/big"
	"time"

	"github.com/tutu-network/escrow/internal/app/bond"
	"github.com/tutu-network/escrow/internal/app/ledger"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/metrics"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

// ─── Settlement Engine ──────────────────────────────────────────────────────
// Payouts depend only on the terminal outcome and the amounts recorded on
// the task; nothing else feeds the math.

// Payout recipient roles.
const (
	RoleClient      = "client"
	RoleAgent       = "agent"
	RoleMarketMaker = "market_maker"
)

// Payout is one transfer out of escrow.
type Payout struct {
	Role   string         `json:"role"`
	To     domain.Address `json:"to"`
	Token  domain.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Payouts computes the transfers that settle t with outcome o. fee is the
// market-maker fee on the payment amount and only applies to
// AgentWinsNoContest. Zero amounts are omitted.
func Payouts(t domain.Task, o domain.Outcome, fee *big.Int, marketMaker domain.Address) []Payout {
	var out []Payout
	add := func(role string, to, token domain.Address, parts ...*big.Int) {
		sum := new(big.Int)
		for _, p := range parts {
			if p != nil {
				sum.Add(sum, p)
			}
		}
		if sum.Sign() > 0 {
			out = append(out, Payout{Role: role, To: to, Token: token, Amount: sum})
		}
	}

	pot := []*big.Int{t.PaymentAmount, t.ClientDisputeBond, t.AgentEscalationBond}
	deposited := new(big.Int)
	if t.PaymentDeposited {
		deposited.Set(t.PaymentAmount)
	}

	switch o {
	case domain.OutcomeAgentWinsNoContest:
		if fee == nil {
			fee = new(big.Int)
		}
		add(RoleAgent, t.Agent, t.PaymentToken, new(big.Int).Sub(t.PaymentAmount, fee))
		add(RoleAgent, t.Agent, t.StakeToken, t.AgentStake)
		add(RoleMarketMaker, marketMaker, t.PaymentToken, fee)
	case domain.OutcomeClientWinsConcede:
		add(RoleClient, t.Client, t.PaymentToken, t.PaymentAmount, t.ClientDisputeBond)
		add(RoleClient, t.Client, t.StakeToken, t.AgentStake)
	case domain.OutcomeAgentWinsOracle:
		add(RoleAgent, t.Agent, t.PaymentToken, pot...)
		add(RoleAgent, t.Agent, t.StakeToken, t.AgentStake)
	case domain.OutcomeClientWinsOracle:
		add(RoleClient, t.Client, t.PaymentToken, pot...)
		add(RoleClient, t.Client, t.StakeToken, t.AgentStake)
	case domain.OutcomeClientWinsTimeout:
		add(RoleClient, t.Client, t.PaymentToken, deposited)
		add(RoleClient, t.Client, t.StakeToken, t.AgentStake)
	case domain.OutcomeCooperativeFailure:
		add(RoleClient, t.Client, t.PaymentToken, deposited)
		add(RoleAgent, t.Agent, t.StakeToken, t.AgentStake)
	}
	return out
}

// settle pays out t for outcome o inside tx and marks it terminal. It
// fails if anything deposited for the task would remain in escrow.
func (e *Engine) settle(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, o domain.Outcome, now time.Time) ([]Payout, error) {
	var fee *big.Int
	if o == domain.OutcomeAgentWinsNoContest {
		fee = bond.New(cfg).MarketMakerFee(t.PaymentAmount)
	}
	payouts := Payouts(*t, o, fee, cfg.MarketMakerAddress)

	for _, p := range payouts {
		if err := e.vault.Release(tx, p.Token, p.To, p.Amount, t.ID, fmt.Sprintf("%s payout (%s)", p.Role, o)); err != nil {
			return nil, fmt.Errorf("pay %s: %w", p.Role, err)
		}
	}

	flows, err := ledger.TaskFlows(tx, t.ID)
	if err != nil {
		return nil, err
	}
	if !flows.Balanced() {
		return nil, fmt.Errorf("settlement of task %d as %s leaves funds in escrow", t.ID, o)
	}

	t.Status = o.TerminalStatus()
	t.Outcome = o
	t.ResolvedAt = now
	return payouts, nil
}

func recordPayouts(o domain.Outcome, payouts []Payout) {
	metrics.Settlements.WithLabelValues(o.String()).Inc()
	for _, p := range payouts {
		metrics.Payouts.WithLabelValues(p.Role).Inc()
	}
}

func payoutFields(o domain.Outcome, payouts []Payout) map[string]string {
	fields := map[string]string{"outcome": o.String()}
	for i, p := range payouts {
		fields[fmt.Sprintf("payout.%d", i)] = fmt.Sprintf("%s %s %s to %s", p.Amount, p.Token, p.Role, p.To)
	}
	return fields
}
