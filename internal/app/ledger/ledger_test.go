package ledger

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
	owner = domain.MustParseAddress("0x0000000000000000000000000000000000000a11")
	alice = domain.MustParseAddress("0x00000000000000000000000000000000000a1ce0")
	bob   = domain.MustParseAddress("0x0000000000000000000000000000000000000b0b")
	usdc  = domain.MustParseAddress("0x00000000000000000000000000000000000000c1")
)

func newTestVault(t *testing.T) (*Vault, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = db.Update(context.Background(), func(tx *sqlite.Tx) error {
		return tx.SaveConfig(domain.Config{Owner: owner, OracleMinimumBond: new(big.Int)}, time.Now())
	})
	if err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	return NewVault(db, nil), db
}

// ─── Vault Tests ────────────────────────────────────────────────────────────

func TestVault_InitialBalance(t *testing.T) {
	v, _ := newTestVault(t)
	bal, err := v.Balance(context.Background(), usdc, alice.String())
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("initial balance = %s, want 0", bal)
	}
}

func TestVault_Mint(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Mint(ctx, owner, usdc, alice, big.NewInt(500)); err != nil {
		t.Fatalf("Mint() error: %v", err)
	}
	bal, _ := v.Balance(ctx, usdc, alice.String())
	if bal.Int64() != 500 {
		t.Errorf("balance = %s, want 500", bal)
	}
	pool, _ := v.Balance(ctx, usdc, domain.AccountSystemPool)
	if pool.Int64() != -500 {
		t.Errorf("system pool = %s, want -500", pool)
	}
}

func TestVault_MintRequiresOwner(t *testing.T) {
	v, _ := newTestVault(t)
	err := v.Mint(context.Background(), alice, usdc, alice, big.NewInt(1))
	if !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("Mint() by non-owner error = %v, want ErrNotOwner", err)
	}
}

func TestVault_MintZero(t *testing.T) {
	v, _ := newTestVault(t)
	if err := v.Mint(context.Background(), owner, usdc, alice, big.NewInt(0)); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("Mint(0) error = %v, want ErrZeroAmount", err)
	}
}

func TestVault_SendInsufficient(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	v.Mint(ctx, owner, usdc, alice, big.NewInt(10))

	err := v.Send(ctx, alice, usdc, bob, big.NewInt(11))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("Send() error = %v, want ErrInsufficientBalance", err)
	}
	if err := v.Send(ctx, alice, usdc, bob, big.NewInt(10)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	bal, _ := v.Balance(ctx, usdc, bob.String())
	if bal.Int64() != 10 {
		t.Errorf("bob balance = %s, want 10", bal)
	}
}

func TestVault_DoubleEntry(t *testing.T) {
	v, db := newTestVault(t)
	ctx := context.Background()
	v.Mint(ctx, owner, usdc, alice, big.NewInt(100))
	v.Send(ctx, alice, usdc, bob, big.NewInt(40))

	entries, _ := v.History(ctx, alice.String(), 10)
	if len(entries) != 2 {
		t.Fatalf("alice entries = %d, want 2", len(entries))
	}

	// Every transfer id appears once as DEBIT and once as CREDIT.
	db.View(ctx, func(tx *sqlite.Tx) error {
		for _, acct := range []string{alice.String(), bob.String(), domain.AccountSystemPool} {
			es, _ := tx.LedgerEntries(acct, 100)
			for _, e := range es {
				if e.TransferID == "" {
					t.Errorf("entry %d has no transfer id", e.ID)
				}
			}
		}
		return nil
	})
}

// ─── Escrow Custody ─────────────────────────────────────────────────────────

func TestVault_LockReleaseFlows(t *testing.T) {
	v, db := newTestVault(t)
	ctx := context.Background()
	v.Mint(ctx, owner, usdc, alice, big.NewInt(100))

	err := db.Update(ctx, func(tx *sqlite.Tx) error {
		if err := v.Lock(tx, usdc, alice, big.NewInt(100), 7, "payment"); err != nil {
			return err
		}
		f, err := TaskFlows(tx, 7)
		if err != nil {
			return err
		}
		if f.Held(usdc).Int64() != 100 {
			t.Errorf("held = %s, want 100", f.Held(usdc))
		}
		if f.Balanced() {
			t.Error("flows should not balance while funds are held")
		}
		if err := v.Release(tx, usdc, bob, big.NewInt(60), 7, "payout"); err != nil {
			return err
		}
		return v.Release(tx, usdc, alice, big.NewInt(40), 7, "refund")
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	f, err := v.Flows(ctx, 7)
	if err != nil {
		t.Fatalf("Flows() error: %v", err)
	}
	if !f.Balanced() {
		t.Errorf("flows = %+v, want balanced", f)
	}
	held, _ := v.EscrowHoldings(ctx)
	if held[usdc].Sign() != 0 {
		t.Errorf("escrow holds %s, want 0", held[usdc])
	}
}

func TestVault_ZeroTransferSkipped(t *testing.T) {
	v, db := newTestVault(t)
	err := db.Update(context.Background(), func(tx *sqlite.Tx) error {
		return v.Lock(tx, usdc, alice, big.NewInt(0), 1, "stake")
	})
	if err != nil {
		t.Fatalf("zero Lock() error: %v", err)
	}
	entries, _ := v.History(context.Background(), alice.String(), 10)
	if len(entries) != 0 {
		t.Errorf("zero transfer wrote %d entries", len(entries))
	}
}
