// Package daemon manages the escrow node's configuration, wiring and
// serve loop.
package daemon

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/escrow/internal/app/keeper"
	"github.com/tutu-network/escrow/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Oracle    OracleConfig    `toml:"oracle"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Evidence  EvidenceConfig  `toml:"evidence"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	RequestSkew string `toml:"request_skew"`
}

// ProtocolConfig seeds the config registry the first time the store is
// opened. Later edits have no effect; use the owner-gated setters instead.
type ProtocolConfig struct {
	Owner               string   `toml:"owner"` // empty = this node's key
	CooldownPeriod      string   `toml:"cooldown_period"`
	AgentResponseWindow string   `toml:"agent_response_window"`
	DisputeBondBps      uint32   `toml:"dispute_bond_bps"`
	EscalationBondBps   uint32   `toml:"escalation_bond_bps"`
	MarketMakerFeeBps   uint32   `toml:"market_maker_fee_bps"`
	MarketMakerAddress  string   `toml:"market_maker_address"`
	OracleLiveness      string   `toml:"oracle_liveness"`
	OracleMinimumBond   string   `toml:"oracle_minimum_bond"`
	AllowedTokens       []string `toml:"allowed_tokens"`
}

// OracleConfig selects the arbitrator backend.
type OracleConfig struct {
	Mode    string `toml:"mode"`    // local | http
	Address string `toml:"address"` // empty in local mode = the "oracle" key
	URL     string `toml:"url"`
	Timeout string `toml:"timeout"`
}

// KeeperConfig controls the background finalizer.
type KeeperConfig struct {
	Enabled   bool   `toml:"enabled"`
	Schedule  string `toml:"schedule"`
	BatchSize int    `toml:"batch_size"`
}

// EvidenceConfig controls the evidence store.
type EvidenceConfig struct {
	CacheSize    int `toml:"cache_size"`
	MaxSizeBytes int `toml:"max_size_bytes"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// Default token addresses of a fresh local deployment.
const (
	DefaultPaymentToken = "0x00000000000000000000000000000000000000c1"
	DefaultStakeToken   = "0x00000000000000000000000000000000000000c2"
)

// DefaultConfig returns a configuration suitable for a local node.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8545,
			RequestSkew: "5m",
		},
		Protocol: ProtocolConfig{
			CooldownPeriod:      "24h",
			AgentResponseWindow: "48h",
			DisputeBondBps:      500,
			EscalationBondBps:   1000,
			MarketMakerFeeBps:   0,
			OracleLiveness:      "2h",
			OracleMinimumBond:   "0",
			AllowedTokens:       []string{DefaultPaymentToken, DefaultStakeToken},
		},
		Oracle: OracleConfig{
			Mode:    "local",
			Timeout: "10s",
		},
		Keeper: KeeperConfig{
			Enabled:   true,
			Schedule:  "@every 1m",
			BatchSize: 100,
		},
		Evidence: EvidenceConfig{
			CacheSize:    256,
			MaxSizeBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads $ESCROW_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(filepath.Join(EscrowHome(), "config.toml"))
}

// LoadConfigFrom reads the config at path, falling back to defaults when
// the file does not exist.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $ESCROW_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(EscrowHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Genesis converts the [protocol] section into the initial registry.
func (p ProtocolConfig) Genesis(nodeOwner, oracle domain.Address) (domain.Config, error) {
	cfg := domain.Config{
		Owner:             nodeOwner,
		OracleAddress:     oracle,
		DisputeBondBps:    p.DisputeBondBps,
		EscalationBondBps: p.EscalationBondBps,
		MarketMakerFeeBps: p.MarketMakerFeeBps,
	}
	var err error
	if p.Owner != "" {
		if cfg.Owner, err = domain.ParseAddress(p.Owner); err != nil {
			return cfg, fmt.Errorf("protocol.owner: %w", err)
		}
	}
	if p.MarketMakerAddress != "" {
		if cfg.MarketMakerAddress, err = domain.ParseAddress(p.MarketMakerAddress); err != nil {
			return cfg, fmt.Errorf("protocol.market_maker_address: %w", err)
		}
	}
	for name, dst := range map[string]struct {
		src string
		out *time.Duration
	}{
		"cooldown_period":       {p.CooldownPeriod, &cfg.CooldownPeriod},
		"agent_response_window": {p.AgentResponseWindow, &cfg.AgentResponseWindow},
		"oracle_liveness":       {p.OracleLiveness, &cfg.OracleLiveness},
	} {
		if *dst.out, err = time.ParseDuration(dst.src); err != nil {
			return cfg, fmt.Errorf("protocol.%s: %w", name, err)
		}
	}
	cfg.OracleMinimumBond = new(big.Int)
	if p.OracleMinimumBond != "" {
		if _, ok := cfg.OracleMinimumBond.SetString(p.OracleMinimumBond, 10); !ok {
			return cfg, fmt.Errorf("protocol.oracle_minimum_bond: invalid amount %q", p.OracleMinimumBond)
		}
	}
	for _, s := range p.AllowedTokens {
		tok, err := domain.ParseAddress(s)
		if err != nil {
			return cfg, fmt.Errorf("protocol.allowed_tokens: %w", err)
		}
		if !cfg.IsTokenAllowed(tok) {
			cfg.AllowedTokens = append(cfg.AllowedTokens, tok)
		}
	}
	cfg.SortTokens()
	return cfg, cfg.Validate()
}

// KeeperConfig converts the [keeper] section.
func (k KeeperConfig) KeeperConfig() keeper.Config {
	return keeper.Config{Schedule: k.Schedule, BatchSize: k.BatchSize}
}

// EscrowHome returns the data directory.
func EscrowHome() string {
	if env := os.Getenv("ESCROW_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".escrow")
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
