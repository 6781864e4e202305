package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Config Registry ────────────────────────────────────────────────────────

// LoadConfig reads the registry singleton. Returns (nil, nil) before the
// registry has been seeded.
func (t *Tx) LoadConfig() (*domain.Config, error) {
	var (
		cfg                                   domain.Config
		owner, mmAddr, oracleAddr, minBond    string
		cooldown, window, liveness, updatedAt int64
	)
	err := t.tx.QueryRow(
		`SELECT owner, cooldown_seconds, response_window_seconds, dispute_bond_bps,
			escalation_bond_bps, market_maker_fee_bps, market_maker_address,
			oracle_address, oracle_liveness_seconds, oracle_minimum_bond, updated_at
		 FROM registry WHERE id = 1`,
	).Scan(&owner, &cooldown, &window, &cfg.DisputeBondBps, &cfg.EscalationBondBps,
		&cfg.MarketMakerFeeBps, &mmAddr, &oracleAddr, &liveness, &minBond, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	if cfg.Owner, err = domain.ParseAddress(owner); err != nil {
		return nil, fmt.Errorf("registry owner: %w", err)
	}
	if mmAddr != "" {
		if cfg.MarketMakerAddress, err = domain.ParseAddress(mmAddr); err != nil {
			return nil, fmt.Errorf("registry market maker: %w", err)
		}
	}
	if oracleAddr != "" {
		if cfg.OracleAddress, err = domain.ParseAddress(oracleAddr); err != nil {
			return nil, fmt.Errorf("registry oracle: %w", err)
		}
	}
	if cfg.OracleMinimumBond, err = parseAmount(minBond); err != nil {
		return nil, err
	}
	cfg.CooldownPeriod = time.Duration(cooldown) * time.Second
	cfg.AgentResponseWindow = time.Duration(window) * time.Second
	cfg.OracleLiveness = time.Duration(liveness) * time.Second

	rows, err := t.tx.Query(`SELECT token FROM allowed_tokens ORDER BY token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		addr, err := domain.ParseAddress(tok)
		if err != nil {
			return nil, err
		}
		cfg.AllowedTokens = append(cfg.AllowedTokens, addr)
	}
	return &cfg, rows.Err()
}

// SaveConfig writes the registry singleton and replaces the whitelist.
func (t *Tx) SaveConfig(cfg domain.Config, at time.Time) error {
	mmAddr := ""
	if !cfg.MarketMakerAddress.IsZero() {
		mmAddr = cfg.MarketMakerAddress.String()
	}
	oracleAddr := ""
	if !cfg.OracleAddress.IsZero() {
		oracleAddr = cfg.OracleAddress.String()
	}

	_, err := t.tx.Exec(
		`INSERT INTO registry (id, owner, cooldown_seconds, response_window_seconds,
			dispute_bond_bps, escalation_bond_bps, market_maker_fee_bps, market_maker_address,
			oracle_address, oracle_liveness_seconds, oracle_minimum_bond, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			cooldown_seconds = excluded.cooldown_seconds,
			response_window_seconds = excluded.response_window_seconds,
			dispute_bond_bps = excluded.dispute_bond_bps,
			escalation_bond_bps = excluded.escalation_bond_bps,
			market_maker_fee_bps = excluded.market_maker_fee_bps,
			market_maker_address = excluded.market_maker_address,
			oracle_address = excluded.oracle_address,
			oracle_liveness_seconds = excluded.oracle_liveness_seconds,
			oracle_minimum_bond = excluded.oracle_minimum_bond,
			updated_at = excluded.updated_at`,
		cfg.Owner.String(), int64(cfg.CooldownPeriod/time.Second), int64(cfg.AgentResponseWindow/time.Second),
		cfg.DisputeBondBps, cfg.EscalationBondBps, cfg.MarketMakerFeeBps, mmAddr,
		oracleAddr, int64(cfg.OracleLiveness/time.Second), formatAmount(cfg.OracleMinimumBond), at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}

	if _, err := t.tx.Exec(`DELETE FROM allowed_tokens`); err != nil {
		return err
	}
	for _, tok := range cfg.AllowedTokens {
		if _, err := t.tx.Exec(
			`INSERT OR IGNORE INTO allowed_tokens (token, added_at) VALUES (?, ?)`,
			tok.String(), at.Unix(),
		); err != nil {
			return fmt.Errorf("save token %s: %w", tok, err)
		}
	}
	return nil
}
