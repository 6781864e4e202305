package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

var (
	owner      = domain.MustParseAddress("0x0000000000000000000000000000000000000a11")
	oracleAddr = domain.MustParseAddress("0x00000000000000000000000000000000000000aa")
	agent      = domain.MustParseAddress("0x0000000000000000000000000000000000000002")
)

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  200 * time.Millisecond,
		Multiplier:      2,
	}
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = db.Update(context.Background(), func(tx *sqlite.Tx) error {
		if err := tx.SaveConfig(domain.Config{
			Owner:             owner,
			OracleAddress:     oracleAddr,
			OracleLiveness:    time.Hour,
			OracleMinimumBond: big.NewInt(5),
		}, time.Now()); err != nil {
			return err
		}
		task := domain.EmptyTask(0)
		task.Status = domain.StatusEscalatedToUMA
		task.Agent = agent
		task.CreatedAt = time.Unix(1_700_000_000, 0).UTC()
		task.Deadline = task.CreatedAt.Add(time.Hour)
		return tx.InsertTask(task)
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}
	return db
}

// ─── Arbitrators ────────────────────────────────────────────────────────────

type stubArbitrator struct {
	id  string
	err error
}

func (s stubArbitrator) Assert(context.Context, domain.AssertionRequest) (string, error) {
	return s.id, s.err
}

type recordingResolver struct {
	calls int
	truth bool
	err   error
}

func (r *recordingResolver) ResolveFromOracle(_ context.Context, _ *sqlite.Tx, _ domain.Address, taskID uint64, _ string, truth bool) (domain.Task, error) {
	r.calls++
	r.truth = truth
	if r.err != nil {
		return domain.Task{}, r.err
	}
	task := domain.EmptyTask(taskID)
	task.Status = domain.StatusResolved
	return task, nil
}

func TestLocal_UniqueHandles(t *testing.T) {
	l := NewLocal()
	req := domain.AssertionRequest{TaskID: 3}
	a, _ := l.Assert(context.Background(), req)
	b, _ := l.Assert(context.Background(), req)
	if a == b {
		t.Fatalf("Assert() returned the same handle twice: %s", a)
	}
	if got, ok := l.Request(a); !ok || got.TaskID != 3 {
		t.Errorf("Request(%s) = %+v, %v", a, got, ok)
	}
	if _, ok := l.Request("nope"); ok {
		t.Error("Request() found an unknown handle")
	}
}

func TestPayloadHash_CoversEvidence(t *testing.T) {
	task := domain.EmptyTask(1)
	task.ClientEvidenceURI = "cas:sha256:aa"
	base := PayloadHash(task)

	changed := task
	changed.AgentEvidenceURI = "cas:sha256:bb"
	if PayloadHash(changed) == base {
		t.Error("payload hash ignores agent evidence")
	}
	other := task
	other.ID = 2
	if PayloadHash(other) == base {
		t.Error("payload hash ignores task id")
	}
	if PayloadHash(task) != base {
		t.Error("payload hash is not deterministic")
	}
}

func TestHTTPArbitrator_Success(t *testing.T) {
	var got domain.AssertionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/assertions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]string{"assertion_id": "0xabc"})
	}))
	defer srv.Close()

	arb := NewHTTPArbitrator(srv.URL+"/", time.Second, fastRetry(), nil)
	id, err := arb.Assert(context.Background(), domain.AssertionRequest{TaskID: 9, Bond: big.NewInt(5)})
	if err != nil {
		t.Fatalf("Assert() error: %v", err)
	}
	if id != "0xabc" {
		t.Errorf("id = %q, want 0xabc", id)
	}
	if got.TaskID != 9 || got.Bond.Int64() != 5 {
		t.Errorf("server saw %+v", got)
	}
}

func TestHTTPArbitrator_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"assertion_id": "0x1"})
	}))
	defer srv.Close()

	arb := NewHTTPArbitrator(srv.URL, time.Second, fastRetry(), nil)
	if _, err := arb.Assert(context.Background(), domain.AssertionRequest{}); err != nil {
		t.Fatalf("Assert() error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPArbitrator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		retryable bool
		maxCalls  int32
	}{
		{"rejected", http.StatusUnprocessableEntity, `{"error":"bond too low"}`, domain.ErrOracleRejected, false, 1},
		{"no id", http.StatusOK, `{}`, domain.ErrOracleRejected, false, 1},
		{"down", http.StatusServiceUnavailable, ``, domain.ErrOracleUnavailable, true, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			arb := NewHTTPArbitrator(srv.URL, time.Second, fastRetry(), nil)
			_, err := arb.Assert(context.Background(), domain.AssertionRequest{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Assert() error = %v, want %v", err, tt.want)
			}
			if got := domain.KindOf(err).Retryable(); got != tt.retryable {
				t.Errorf("kind = %s retryable = %v, want %v", domain.KindOf(err), got, tt.retryable)
			}
			if calls.Load() > tt.maxCalls {
				t.Errorf("calls = %d, want at most %d", calls.Load(), tt.maxCalls)
			}
		})
	}
}

// ─── Gateway ────────────────────────────────────────────────────────────────

func openAssertion(t *testing.T, g *Gateway, db *sqlite.DB) (string, error) {
	t.Helper()
	var (
		cfg  *domain.Config
		task *domain.Task
	)
	err := db.View(context.Background(), func(tx *sqlite.Tx) error {
		var err error
		if cfg, err = tx.LoadConfig(); err != nil {
			return err
		}
		task, err = tx.GetTask(0)
		return err
	})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	id, req, err := g.Submit(context.Background(), *cfg, *task, big.NewInt(5))
	if err != nil {
		return "", err
	}
	err = db.Update(context.Background(), func(tx *sqlite.Tx) error {
		return g.Record(tx, id, req)
	})
	return id, err
}

func TestGateway_Submit(t *testing.T) {
	tests := []struct {
		name string
		arb  domain.Arbitrator
		want error
	}{
		{"plain error", stubArbitrator{err: errors.New("dial tcp: refused")}, domain.ErrOracleUnavailable},
		{"empty id", stubArbitrator{}, domain.ErrOracleRejected},
		{"kinded error", stubArbitrator{err: domain.ErrOracleRejected}, domain.ErrOracleRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			g := New(db, tt.arb, nil, nil)
			_, err := openAssertion(t, g, db)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.want)
			}
			pending, _ := g.Pending(context.Background(), 10)
			if len(pending) != 0 {
				t.Errorf("failed Submit() left %d assertions", len(pending))
			}
		})
	}

	t.Run("recorded", func(t *testing.T) {
		db := newTestDB(t)
		g := New(db, NewLocal(), nil, nil)
		id, err := openAssertion(t, g, db)
		if err != nil {
			t.Fatalf("openAssertion() error: %v", err)
		}
		a, err := g.Assertion(context.Background(), id)
		if err != nil || a == nil {
			t.Fatalf("Assertion() = %v, %v", a, err)
		}
		if a.TaskID != 0 || a.Bond.Int64() != 5 || a.Resolved {
			t.Errorf("assertion = %+v", a)
		}

		// One task, one handle.
		_, err = openAssertion(t, g, db)
		if !errors.Is(err, domain.ErrAssertionReused) {
			t.Errorf("second Record() error = %v, want ErrAssertionReused", err)
		}
	})
}

func TestGateway_OnVerdict(t *testing.T) {
	db := newTestDB(t)
	g := New(db, NewLocal(), nil, nil)
	ctx := context.Background()

	if _, err := g.OnVerdict(ctx, oracleAddr, "x", true); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("OnVerdict() without resolver error = %v", err)
	}

	res := &recordingResolver{}
	g.SetResolver(res)
	id, err := openAssertion(t, g, db)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if _, err := g.OnVerdict(ctx, agent, id, true); !errors.Is(err, domain.ErrNotOracle) {
		t.Errorf("OnVerdict() from agent error = %v, want ErrNotOracle", err)
	}
	if _, err := g.OnVerdict(ctx, oracleAddr, "0xmissing", true); !errors.Is(err, domain.ErrUnknownAssertion) {
		t.Errorf("OnVerdict() unknown error = %v, want ErrUnknownAssertion", err)
	}
	if res.calls != 0 {
		t.Fatalf("resolver called %d times for rejected verdicts", res.calls)
	}

	// A failing resolver rolls the assertion back to pending.
	res.err = domain.ErrWrongStatus
	if _, err := g.OnVerdict(ctx, oracleAddr, id, true); !errors.Is(err, domain.ErrWrongStatus) {
		t.Fatalf("OnVerdict() error = %v, want ErrWrongStatus", err)
	}
	pending, _ := g.Pending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d after rolled back verdict, want 1", len(pending))
	}

	res.err = nil
	task, err := g.OnVerdict(ctx, oracleAddr, id, false)
	if err != nil {
		t.Fatalf("OnVerdict() error: %v", err)
	}
	if task.Status != domain.StatusResolved || res.truth {
		t.Errorf("task = %s, resolver truth = %v", task.Status, res.truth)
	}
	if _, err := g.OnVerdict(ctx, oracleAddr, id, true); !errors.Is(err, domain.ErrUnknownAssertion) {
		t.Errorf("replayed OnVerdict() error = %v, want ErrUnknownAssertion", err)
	}
	a, _ := g.Assertion(ctx, id)
	if !a.Resolved || a.Truth {
		t.Errorf("assertion = %+v, want resolved false", a)
	}
}
