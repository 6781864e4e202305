// Package bond derives dispute bonds, escalation bonds and the market-maker
// fee from a payment amount and a config snapshot.
// All divisions truncate toward zero; payouts depend on that exact rounding.
package bond

import (
	"math/big"

	"github.com/tutu-network/escrow/internal/domain"
)

var bpsDenominator = big.NewInt(domain.MaxBps)

// Calculator is bound to one config snapshot. It has no side effects.
type Calculator struct {
	cfg domain.Config
}

// New returns a calculator for cfg.
func New(cfg domain.Config) Calculator {
	return Calculator{cfg: cfg}
}

// DisputeBond = amount * disputeBondBps / 10000.
func (c Calculator) DisputeBond(amount *big.Int) *big.Int {
	return bps(amount, c.cfg.DisputeBondBps)
}

// EscalationBond = max(amount * escalationBondBps / 10000, oracleMinimumBond).
func (c Calculator) EscalationBond(amount *big.Int) *big.Int {
	b := bps(amount, c.cfg.EscalationBondBps)
	if c.cfg.OracleMinimumBond != nil && b.Cmp(c.cfg.OracleMinimumBond) < 0 {
		return new(big.Int).Set(c.cfg.OracleMinimumBond)
	}
	return b
}

// MarketMakerFee = amount * marketMakerFeeBps / 10000.
func (c Calculator) MarketMakerFee(amount *big.Int) *big.Int {
	return bps(amount, c.cfg.MarketMakerFeeBps)
}

// Quote bundles every bond figure for an amount (used for off-chain
// pre-computation by clients).
type Quote struct {
	Amount         *big.Int `json:"amount"`
	DisputeBond    *big.Int `json:"dispute_bond"`
	EscalationBond *big.Int `json:"escalation_bond"`
	MarketMakerFee *big.Int `json:"market_maker_fee"`
}

// Quote computes all derived figures for amount.
func (c Calculator) Quote(amount *big.Int) Quote {
	return Quote{
		Amount:         new(big.Int).Set(amount),
		DisputeBond:    c.DisputeBond(amount),
		EscalationBond: c.EscalationBond(amount),
		MarketMakerFee: c.MarketMakerFee(amount),
	}
}

// bps returns amount*points/10000. Quo truncates toward zero.
func bps(amount *big.Int, points uint32) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(points)))
	return out.Quo(out, bpsDenominator)
}
