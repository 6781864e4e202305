package registry

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

var (
	owner    = domain.MustParseAddress("0x0000000000000000000000000000000000000a11")
	stranger = domain.MustParseAddress("0x0000000000000000000000000000000000000bad")
	usdc     = domain.MustParseAddress("0x00000000000000000000000000000000000000c1")
	weth     = domain.MustParseAddress("0x00000000000000000000000000000000000000c2")
)

func genesisConfig() domain.Config {
	return domain.Config{
		Owner:               owner,
		CooldownPeriod:      time.Hour,
		AgentResponseWindow: 2 * time.Hour,
		DisputeBondBps:      100,
		EscalationBondBps:   100,
		OracleLiveness:      time.Hour,
		OracleMinimumBond:   big.NewInt(5),
		AllowedTokens:       []domain.Address{usdc},
	}
}

func newTestService(t *testing.T) (*Service, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := New(db, nil, nil)
	if _, err := svc.Genesis(context.Background(), genesisConfig()); err != nil {
		t.Fatalf("Genesis() error: %v", err)
	}
	return svc, db
}

func TestGenesis_OnlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	other := genesisConfig()
	other.CooldownPeriod = time.Minute
	seeded, err := svc.Genesis(ctx, other)
	if err != nil {
		t.Fatalf("second Genesis() error: %v", err)
	}
	if seeded {
		t.Error("second Genesis() should not reseed")
	}
	cfg, _ := svc.Config(ctx)
	if cfg.CooldownPeriod != time.Hour {
		t.Errorf("CooldownPeriod = %v, want 1h", cfg.CooldownPeriod)
	}
}

func TestGenesis_RejectsInvalid(t *testing.T) {
	db, _ := sqlite.Open(t.TempDir())
	defer db.Close()
	bad := genesisConfig()
	bad.DisputeBondBps = domain.MaxBps + 1
	if _, err := New(db, nil, nil).Genesis(context.Background(), bad); !errors.Is(err, domain.ErrBpsOutOfRange) {
		t.Errorf("Genesis() error = %v, want ErrBpsOutOfRange", err)
	}
}

func TestSetters_OwnerGated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	calls := map[string]func(domain.Address) error{
		"cooldown": func(c domain.Address) error { return svc.SetCooldownPeriod(ctx, c, time.Minute) },
		"window":   func(c domain.Address) error { return svc.SetAgentResponseWindow(ctx, c, time.Minute) },
		"dispute":  func(c domain.Address) error { return svc.SetDisputeBondBps(ctx, c, 200) },
		"escalate": func(c domain.Address) error { return svc.SetEscalationBondBps(ctx, c, 300) },
		"fee":      func(c domain.Address) error { return svc.SetMarketMakerFee(ctx, c, 250, weth) },
		"oracle":   func(c domain.Address) error { return svc.SetOracle(ctx, c, weth, time.Hour, big.NewInt(9)) },
		"add":      func(c domain.Address) error { return svc.AddToken(ctx, c, weth) },
		"remove":   func(c domain.Address) error { return svc.RemoveToken(ctx, c, usdc) },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			before, _ := svc.Config(ctx)
			if err := call(stranger); !errors.Is(err, domain.ErrNotOwner) {
				t.Fatalf("non-owner error = %v, want ErrNotOwner", err)
			}
			if domain.KindOf(domain.ErrNotOwner) != domain.KindAuthorization {
				t.Fatal("ErrNotOwner should be an authorization error")
			}
			after, _ := svc.Config(ctx)
			if after.CooldownPeriod != before.CooldownPeriod || len(after.AllowedTokens) != len(before.AllowedTokens) {
				t.Error("rejected setter changed state")
			}
			if err := call(owner); err != nil {
				t.Fatalf("owner error: %v", err)
			}
		})
	}

	cfg, _ := svc.Config(ctx)
	if cfg.CooldownPeriod != time.Minute || cfg.DisputeBondBps != 200 || cfg.EscalationBondBps != 300 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.MarketMakerFeeBps != 250 || cfg.MarketMakerAddress != weth {
		t.Errorf("fee = %d to %s", cfg.MarketMakerFeeBps, cfg.MarketMakerAddress)
	}
	if cfg.OracleAddress != weth || cfg.OracleMinimumBond.Int64() != 9 {
		t.Errorf("oracle = %s min %s", cfg.OracleAddress, cfg.OracleMinimumBond)
	}
	if cfg.IsTokenAllowed(usdc) || !cfg.IsTokenAllowed(weth) {
		t.Errorf("tokens = %v", cfg.AllowedTokens)
	}
}

func TestSetBps_Bounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.SetDisputeBondBps(ctx, owner, domain.MaxBps); err != nil {
		t.Errorf("SetDisputeBondBps(MaxBps) error: %v", err)
	}
	if err := svc.SetDisputeBondBps(ctx, owner, domain.MaxBps+1); !errors.Is(err, domain.ErrBpsOutOfRange) {
		t.Errorf("SetDisputeBondBps(MaxBps+1) error = %v, want ErrBpsOutOfRange", err)
	}
}

func TestSetMarketMakerFee_RequiresRecipient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.SetMarketMakerFee(ctx, owner, 100, domain.ZeroAddress); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
	if err := svc.SetMarketMakerFee(ctx, owner, 0, domain.ZeroAddress); err != nil {
		t.Errorf("zero fee without recipient error: %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	if err := svc.TransferOwnership(ctx, owner, stranger); err != nil {
		t.Fatalf("TransferOwnership() error: %v", err)
	}
	if err := svc.AddToken(ctx, owner, weth); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("old owner error = %v, want ErrNotOwner", err)
	}
	if err := svc.AddToken(ctx, stranger, weth); err != nil {
		t.Errorf("new owner error: %v", err)
	}

	db.View(ctx, func(tx *sqlite.Tx) error {
		evs, _ := tx.RecentEvents(10)
		// genesis + transfer + add
		if len(evs) != 3 {
			t.Errorf("events = %d, want 3", len(evs))
		}
		for _, e := range evs {
			if e.Type != domain.EventConfigUpdated {
				t.Errorf("event type = %s", e.Type)
			}
		}
		return nil
	})
}
