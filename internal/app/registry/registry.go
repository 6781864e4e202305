// Package registry implements the config registry: the owner-controlled
// global protocol parameters and the token whitelist. Every setter is
// owner-gated and records a ConfigUpdated event.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

// Service owns the registry singleton.
type Service struct {
	db     *sqlite.DB
	clock  domain.Clock
	logger *slog.Logger
}

// New creates a registry service.
func New(db *sqlite.DB, clock domain.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, clock: clock, logger: logger.With("component", "registry")}
}

// Current loads the registry inside tx. Operations call this once per
// transaction and pass the snapshot down explicitly.
func Current(tx *sqlite.Tx) (domain.Config, error) {
	cfg, err := tx.LoadConfig()
	if err != nil {
		return domain.Config{}, err
	}
	if cfg == nil {
		return domain.Config{}, fmt.Errorf("%w: registry not initialized", domain.ErrInvalidConfig)
	}
	return *cfg, nil
}

// Genesis seeds the registry from file config. It does nothing when the
// registry already exists, so restarting with an edited file never
// overrides owner changes. Returns true if it seeded.
func (s *Service) Genesis(ctx context.Context, cfg domain.Config) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	seeded := false
	err := s.db.Update(ctx, func(tx *sqlite.Tx) error {
		existing, err := tx.LoadConfig()
		if err != nil || existing != nil {
			return err
		}
		cfg = cfg.Clone()
		cfg.SortTokens()
		now := s.clock.Now()
		if err := tx.SaveConfig(cfg, now); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(domain.EventConfigUpdated, nil, cfg.Owner, now,
			map[string]string{"param": "genesis"}); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if seeded {
		s.logger.Info("registry seeded", "owner", cfg.Owner, "tokens", len(cfg.AllowedTokens))
	}
	return seeded, err
}

// Config returns the current registry snapshot.
func (s *Service) Config(ctx context.Context) (domain.Config, error) {
	var cfg domain.Config
	err := s.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		cfg, err = Current(tx)
		return err
	})
	return cfg, err
}

// ─── Owner-Gated Setters ────────────────────────────────────────────────────

// SetCooldownPeriod changes how long the client may dispute an asserted result.
func (s *Service) SetCooldownPeriod(ctx context.Context, caller domain.Address, d time.Duration) error {
	return s.mutate(ctx, caller, "cooldown_period", d.String(), func(c *domain.Config) error {
		c.CooldownPeriod = d.Truncate(time.Second)
		return nil
	})
}

// SetAgentResponseWindow changes how long the agent may escalate after a dispute.
func (s *Service) SetAgentResponseWindow(ctx context.Context, caller domain.Address, d time.Duration) error {
	return s.mutate(ctx, caller, "agent_response_window", d.String(), func(c *domain.Config) error {
		c.AgentResponseWindow = d.Truncate(time.Second)
		return nil
	})
}

// SetDisputeBondBps changes the client dispute bond rate.
func (s *Service) SetDisputeBondBps(ctx context.Context, caller domain.Address, bps uint32) error {
	return s.mutate(ctx, caller, "dispute_bond_bps", strconv.Itoa(int(bps)), func(c *domain.Config) error {
		c.DisputeBondBps = bps
		return nil
	})
}

// SetEscalationBondBps changes the agent escalation bond rate.
func (s *Service) SetEscalationBondBps(ctx context.Context, caller domain.Address, bps uint32) error {
	return s.mutate(ctx, caller, "escalation_bond_bps", strconv.Itoa(int(bps)), func(c *domain.Config) error {
		c.EscalationBondBps = bps
		return nil
	})
}

// SetMarketMakerFee changes the no-contest fee and its recipient.
func (s *Service) SetMarketMakerFee(ctx context.Context, caller domain.Address, bps uint32, recipient domain.Address) error {
	value := fmt.Sprintf("%d@%s", bps, recipient)
	return s.mutate(ctx, caller, "market_maker_fee", value, func(c *domain.Config) error {
		c.MarketMakerFeeBps = bps
		c.MarketMakerAddress = recipient
		return nil
	})
}

// SetOracle changes the arbitrator identity and its assertion parameters.
func (s *Service) SetOracle(ctx context.Context, caller domain.Address, oracle domain.Address, liveness time.Duration, minBond *big.Int) error {
	if minBond == nil {
		minBond = new(big.Int)
	}
	value := fmt.Sprintf("%s liveness=%s min_bond=%s", oracle, liveness, minBond)
	return s.mutate(ctx, caller, "oracle", value, func(c *domain.Config) error {
		c.OracleAddress = oracle
		c.OracleLiveness = liveness.Truncate(time.Second)
		c.OracleMinimumBond = new(big.Int).Set(minBond)
		return nil
	})
}

// AddToken whitelists a token. Adding a listed token is a no-op change.
func (s *Service) AddToken(ctx context.Context, caller domain.Address, token domain.Address) error {
	if token.IsZero() {
		return domain.ErrInvalidAddress
	}
	return s.mutate(ctx, caller, "allowed_tokens.add", token.String(), func(c *domain.Config) error {
		if !c.IsTokenAllowed(token) {
			c.AllowedTokens = append(c.AllowedTokens, token)
		}
		return nil
	})
}

// RemoveToken delists a token. Tasks already created with it are unaffected.
func (s *Service) RemoveToken(ctx context.Context, caller domain.Address, token domain.Address) error {
	return s.mutate(ctx, caller, "allowed_tokens.remove", token.String(), func(c *domain.Config) error {
		kept := c.AllowedTokens[:0]
		for _, t := range c.AllowedTokens {
			if t != token {
				kept = append(kept, t)
			}
		}
		c.AllowedTokens = kept
		return nil
	})
}

// TransferOwnership hands the registry to a new owner.
func (s *Service) TransferOwnership(ctx context.Context, caller domain.Address, newOwner domain.Address) error {
	if newOwner.IsZero() {
		return domain.ErrInvalidAddress
	}
	return s.mutate(ctx, caller, "owner", newOwner.String(), func(c *domain.Config) error {
		c.Owner = newOwner
		return nil
	})
}

// mutate applies fn to a copy of the registry if caller is the owner and
// the result still validates.
func (s *Service) mutate(ctx context.Context, caller domain.Address, param, value string, fn func(*domain.Config) error) error {
	err := s.db.Update(ctx, func(tx *sqlite.Tx) error {
		current, err := Current(tx)
		if err != nil {
			return err
		}
		if current.Owner != caller {
			return domain.ErrNotOwner
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		next.SortTokens()
		if err := next.Validate(); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.SaveConfig(next, now); err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.EventConfigUpdated, nil, caller, now,
			map[string]string{"param": param, "value": value})
		return err
	})
	if err != nil {
		s.logger.Debug("config update rejected", "param", param, "caller", caller, "kind", domain.KindOf(err), "error", err)
		return err
	}
	s.logger.Info("config updated", "param", param, "value", value, "caller", caller)
	return nil
}
