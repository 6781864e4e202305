package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
)

var (
	nodeAddr   = domain.MustParseAddress("0x0000000000000000000000000000000000000a11")
	oracleAddr = domain.MustParseAddress("0x00000000000000000000000000000000000000aa")
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.Oracle.Mode != "local" {
		t.Errorf("Oracle.Mode = %q, want local", cfg.Oracle.Mode)
	}
	if !cfg.Keeper.Enabled {
		t.Error("Keeper.Enabled = false, want true")
	}

	gen, err := cfg.Protocol.Genesis(nodeAddr, oracleAddr)
	if err != nil {
		t.Fatalf("Genesis() error: %v", err)
	}
	if gen.Owner != nodeAddr || gen.OracleAddress != oracleAddr {
		t.Errorf("owner/oracle = %s/%s", gen.Owner, gen.OracleAddress)
	}
	if gen.CooldownPeriod != 24*time.Hour || gen.AgentResponseWindow != 48*time.Hour {
		t.Errorf("windows = %v/%v", gen.CooldownPeriod, gen.AgentResponseWindow)
	}
	if len(gen.AllowedTokens) != 2 {
		t.Errorf("AllowedTokens = %v", gen.AllowedTokens)
	}
}

func TestProtocolGenesis_Errors(t *testing.T) {
	tests := []struct {
		name string
		edit func(p *ProtocolConfig)
	}{
		{"bad duration", func(p *ProtocolConfig) { p.CooldownPeriod = "soon" }},
		{"bad owner", func(p *ProtocolConfig) { p.Owner = "0x12" }},
		{"bad bond", func(p *ProtocolConfig) { p.OracleMinimumBond = "-x" }},
		{"bps too large", func(p *ProtocolConfig) { p.DisputeBondBps = 10001 }},
		{"fee without recipient", func(p *ProtocolConfig) { p.MarketMakerFeeBps = 10 }},
		{"bad token", func(p *ProtocolConfig) { p.AllowedTokens = []string{"usdc"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultConfig().Protocol
			tt.edit(&p)
			if _, err := p.Genesis(nodeAddr, oracleAddr); err == nil {
				t.Error("Genesis() accepted an invalid protocol section")
			}
		})
	}
}

func TestLoadConfigFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom(missing) error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("missing file should yield defaults")
	}

	os.WriteFile(path, []byte(`
[api]
port = 9000

[protocol]
cooldown_period = "10m"

[keeper]
enabled = false
`), 0600)
	cfg, err = LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if cfg.API.Port != 9000 || cfg.Protocol.CooldownPeriod != "10m" || cfg.Keeper.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Error("unset keys should keep their defaults")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("ESCROW_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Oracle.Mode = "http"
	cfg.Oracle.URL = "http://arbiter.local"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.Oracle.URL != cfg.Oracle.URL {
		t.Errorf("Oracle.URL = %q", got.Oracle.URL)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"90s", 90 * time.Second},
		{"", time.Minute},
		{"garbage", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
