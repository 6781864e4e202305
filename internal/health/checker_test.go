package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

func newTestDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dir
}

type auditFunc func(ctx context.Context) error

func (f auditFunc) CheckConservation(ctx context.Context) error { return f(ctx) }

func statusOf(t *testing.T, c *Checker, name string) Status {
	t.Helper()
	for _, s := range c.Statuses() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("check %q not found", name)
	return Status{}
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil, nil)
	if len(c.checks) != 4 {
		t.Errorf("checks = %d, want 4", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, auditFunc(func(context.Context) error { return nil }), nil)
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil, nil)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_ConservationFailure(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, auditFunc(func(context.Context) error {
		return errors.New("escrow holds 5 of 0xc1, open tasks account for 0")
	}), nil)
	c.runAll(context.Background())

	s := statusOf(t, c, "escrow_conservation")
	if s.Healthy || s.Error == "" {
		t.Errorf("escrow_conservation = %+v, want failure", s)
	}
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false")
	}
}

func TestChecker_DataDirRecovery(t *testing.T) {
	db, _ := newTestDB(t)
	dataDir := filepath.Join(t.TempDir(), "missing")

	c := NewChecker(db, dataDir, nil, nil)
	c.runAll(context.Background())
	if statusOf(t, c, "data_dir").Healthy {
		t.Fatal("data_dir should fail when the directory is missing")
	}

	// The recovery created it; the next run passes.
	c.runAll(context.Background())
	if !statusOf(t, c, "data_dir").Healthy {
		t.Error("data_dir should pass after recovery")
	}
}

func TestChecker_DataDirIsFile(t *testing.T) {
	db, _ := newTestDB(t)
	path := filepath.Join(t.TempDir(), "data")
	os.WriteFile(path, []byte("not a dir"), 0644)

	c := NewChecker(db, path, nil, nil)
	c.runAll(context.Background())
	if statusOf(t, c, "data_dir").Healthy {
		t.Error("data_dir should fail when path is a file")
	}
}

func TestChecker_SQLiteClosed(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil, nil)
	db.Close()
	c.runAll(context.Background())
	if statusOf(t, c, "sqlite").Healthy {
		t.Error("sqlite should fail on a closed database")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil, nil)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()
	s1[0].Healthy = false
	if !s2[0].Healthy {
		t.Error("Statuses() should return a copy, not a reference")
	}
}
