package domain

import (
	"fmt"
	"math/big"
	"sort"
	"time"
)

// MaxBps is the basis-point denominator; every bps parameter is bounded by it.
const MaxBps = 10000

// Config is a snapshot of the global protocol parameters held by the
// config registry. Operations receive it explicitly; there is no global.
type Config struct {
	Owner               Address       `json:"owner"`
	CooldownPeriod      time.Duration `json:"cooldown_period"`
	AgentResponseWindow time.Duration `json:"agent_response_window"`
	DisputeBondBps      uint32        `json:"dispute_bond_bps"`
	EscalationBondBps   uint32        `json:"escalation_bond_bps"`
	MarketMakerFeeBps   uint32        `json:"market_maker_fee_bps"`
	MarketMakerAddress  Address       `json:"market_maker_address"`
	OracleAddress       Address       `json:"oracle_address"`
	OracleLiveness      time.Duration `json:"oracle_liveness"`
	OracleMinimumBond   *big.Int      `json:"oracle_minimum_bond"`
	AllowedTokens       []Address     `json:"allowed_tokens"`
}

// Clone returns a deep copy safe to mutate.
func (c Config) Clone() Config {
	out := c
	out.OracleMinimumBond = new(big.Int)
	if c.OracleMinimumBond != nil {
		out.OracleMinimumBond.Set(c.OracleMinimumBond)
	}
	out.AllowedTokens = append([]Address(nil), c.AllowedTokens...)
	return out
}

// IsTokenAllowed reports whether token is on the whitelist.
func (c *Config) IsTokenAllowed(token Address) bool {
	for _, t := range c.AllowedTokens {
		if t == token {
			return true
		}
	}
	return false
}

// SortTokens orders the whitelist deterministically.
func (c *Config) SortTokens() {
	sort.Slice(c.AllowedTokens, func(i, j int) bool {
		return c.AllowedTokens[i].String() < c.AllowedTokens[j].String()
	})
}

// Validate checks the registry invariants.
func (c *Config) Validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner must be set", ErrInvalidConfig)
	}
	for name, bps := range map[string]uint32{
		"dispute_bond_bps":     c.DisputeBondBps,
		"escalation_bond_bps":  c.EscalationBondBps,
		"market_maker_fee_bps": c.MarketMakerFeeBps,
	} {
		if bps > MaxBps {
			return fmt.Errorf("%w: %s %d exceeds %d", ErrBpsOutOfRange, name, bps, MaxBps)
		}
	}
	if c.MarketMakerFeeBps > 0 && c.MarketMakerAddress.IsZero() {
		return fmt.Errorf("%w: market maker address required when fee > 0", ErrInvalidConfig)
	}
	if c.CooldownPeriod < 0 || c.AgentResponseWindow < 0 || c.OracleLiveness < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.OracleMinimumBond != nil && c.OracleMinimumBond.Sign() < 0 {
		return fmt.Errorf("%w: oracle minimum bond must not be negative", ErrInvalidConfig)
	}
	return nil
}
