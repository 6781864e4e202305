package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/escrow/internal/app/escrow"
	"github.com/tutu-network/escrow/internal/app/evidence"
	"github.com/tutu-network/escrow/internal/app/ledger"
	"github.com/tutu-network/escrow/internal/app/oracle"
	"github.com/tutu-network/escrow/internal/app/registry"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// ─── Test Harness ───────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	usdc = domain.MustParseAddress("0x00000000000000000000000000000000000000c1")
	stk  = domain.MustParseAddress("0x00000000000000000000000000000000000000c2")
	mm   = domain.MustParseAddress("0x00000000000000000000000000000000000000ee")
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	clock   *fakeClock
	vault   *ledger.Vault
	owner   *security.Keypair
	client  *security.Keypair
	agent   *security.Keypair
	oracle  *security.Keypair
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ts := &testServer{t: t, clock: &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}}
	ts.owner, _ = security.GenerateKeypair()
	ts.client, _ = security.GenerateKeypair()
	ts.agent, _ = security.GenerateKeypair()
	ts.oracle, _ = security.GenerateKeypair()

	reg := registry.New(db, ts.clock, nil)
	_, err = reg.Genesis(ctx, domain.Config{
		Owner:               ts.owner.Address(),
		CooldownPeriod:      time.Hour,
		AgentResponseWindow: 2 * time.Hour,
		DisputeBondBps:      100,
		EscalationBondBps:   100,
		MarketMakerFeeBps:   250,
		MarketMakerAddress:  mm,
		OracleAddress:       ts.oracle.Address(),
		OracleLiveness:      time.Hour,
		OracleMinimumBond:   big.NewInt(5),
		AllowedTokens:       []domain.Address{usdc, stk},
	})
	if err != nil {
		t.Fatalf("Genesis() error: %v", err)
	}

	ts.vault = ledger.NewVault(db, ts.clock)
	gw := oracle.New(db, oracle.NewLocal(), ts.clock, nil)
	eng := escrow.New(db, ts.vault, gw, ts.clock, nil)
	gw.SetResolver(eng)
	store, err := evidence.New(db, ts.clock, 16, 1024)
	if err != nil {
		t.Fatalf("evidence.New() error: %v", err)
	}

	srv := NewServer(Deps{
		DB:       db,
		Engine:   eng,
		Registry: reg,
		Vault:    ts.vault,
		Gateway:  gw,
		Evidence: store,
		Clock:    ts.clock,
		Skew:     security.DefaultRequestSkew,
	})
	ts.handler = srv.Handler()
	return ts
}

// do sends a request; a non-nil signer signs it as its own address.
func (ts *testServer) do(method, path string, body any, signer *security.Keypair) *httptest.ResponseRecorder {
	ts.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			ts.t.Fatalf("Marshal() error: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		security.SignRequest(req, raw, signer.Address(), ts.clock.Now(), signer)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

// ok sends a request and decodes a 2xx response into out.
func (ts *testServer) ok(method, path string, body any, signer *security.Keypair, out any) {
	ts.t.Helper()
	w := ts.do(method, path, body, signer)
	if w.Code < 200 || w.Code > 299 {
		ts.t.Fatalf("%s %s status = %d, body = %s", method, path, w.Code, w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			ts.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

func (ts *testServer) mint(token domain.Address, to *security.Keypair, amount string) {
	ts.t.Helper()
	ts.ok("POST", "/v1/tokens/mint", tokenRequest{Token: token, To: to.Address(), Amount: amount}, ts.owner, nil)
}

var resultHash = security.Keccak256([]byte("the result"))

// asserted drives a fresh task to ResultAsserted through the API.
func (ts *testServer) asserted() uint64 {
	ts.t.Helper()
	ts.mint(usdc, ts.client, "1000")
	ts.mint(usdc, ts.agent, "1000")
	ts.mint(stk, ts.agent, "1000")

	var task domain.Task
	ts.ok("POST", "/v1/tasks", createTaskRequest{
		DescriptionURI: "cas:sha256:desc",
		PaymentToken:   usdc,
		PaymentAmount:  "100",
		Deadline:       ts.clock.Now().Add(24 * time.Hour),
		StakeToken:     stk,
	}, ts.client, &task)
	id := task.ID
	base := fmt.Sprintf("/v1/tasks/%d", id)

	ts.ok("POST", base+"/accept", acceptRequest{StakeAmount: "10"}, ts.agent, nil)
	ts.ok("POST", base+"/deposit", nil, ts.client, nil)
	ts.ok("POST", base+"/assert", assertRequest{
		ResultHash: resultHash,
		Signature:  ts.agent.SignResult(id, resultHash),
		ResultURI:  "cas:sha256:result",
	}, ts.agent, &task)
	if task.Status != domain.StatusResultAsserted {
		ts.t.Fatalf("status = %s, want ResultAsserted", task.Status)
	}
	return id
}

func (ts *testServer) balance(token domain.Address, who *security.Keypair) string {
	ts.t.Helper()
	var out struct {
		Balances map[string]json.Number `json:"balances"`
	}
	ts.ok("GET", "/v1/accounts/"+who.Address().String()+"/balances", nil, nil, &out)
	return out.Balances[token.String()].String()
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestLifecycle_NoContest(t *testing.T) {
	ts := newTestServer(t)
	id := ts.asserted()
	path := fmt.Sprintf("/v1/tasks/%d/settle", id)

	w := ts.do("POST", path, nil, ts.client)
	if w.Code != http.StatusTooEarly {
		t.Fatalf("settle during cooldown status = %d, want %d", w.Code, http.StatusTooEarly)
	}
	var body map[string]errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if e := body["error"]; e.Kind != "timing" || !e.Retryable {
		t.Errorf("error = %+v, want retryable timing", e)
	}

	ts.clock.Advance(time.Hour)
	var task domain.Task
	ts.ok("POST", path, nil, ts.client, &task)
	if task.Status != domain.StatusResolved || task.Outcome != domain.OutcomeAgentWinsNoContest {
		t.Errorf("status/outcome = %s/%s", task.Status, task.Outcome)
	}
	if got := ts.balance(usdc, ts.agent); got != "1098" {
		t.Errorf("agent usdc = %s, want 1098", got)
	}

	var flows struct {
		Balanced bool `json:"balanced"`
	}
	ts.ok("GET", fmt.Sprintf("/v1/tasks/%d/flows", id), nil, nil, &flows)
	if !flows.Balanced {
		t.Error("flows not balanced after settlement")
	}

	var events struct {
		Events []domain.Event `json:"events"`
	}
	ts.ok("GET", fmt.Sprintf("/v1/tasks/%d/events", id), nil, nil, &events)
	if len(events.Events) < 5 {
		t.Errorf("events = %d, want at least 5", len(events.Events))
	}
}

func TestLifecycle_OracleVerdict(t *testing.T) {
	ts := newTestServer(t)
	id := ts.asserted()
	base := fmt.Sprintf("/v1/tasks/%d", id)

	ts.ok("POST", base+"/dispute", evidenceRequest{EvidenceURI: "cas:sha256:client"}, ts.client, nil)
	var task domain.Task
	ts.ok("POST", base+"/escalate", evidenceRequest{EvidenceURI: "cas:sha256:agent"}, ts.agent, &task)
	if task.AssertionID == "" {
		t.Fatal("escalation did not record an assertion id")
	}

	var pending struct {
		Assertions []domain.Assertion `json:"assertions"`
	}
	ts.ok("GET", "/v1/oracle/assertions", nil, nil, &pending)
	if len(pending.Assertions) != 1 || pending.Assertions[0].ID != task.AssertionID {
		t.Fatalf("pending = %+v, want %s", pending.Assertions, task.AssertionID)
	}

	verdict := verdictRequest{AssertionID: task.AssertionID, Truth: false}
	if w := ts.do("POST", "/v1/oracle/verdict", verdict, ts.client); w.Code != http.StatusForbidden {
		t.Fatalf("verdict from client status = %d, want 403", w.Code)
	}
	ts.ok("POST", "/v1/oracle/verdict", verdict, ts.oracle, &task)
	if task.Outcome != domain.OutcomeClientWinsOracle {
		t.Errorf("outcome = %s, want ClientWinsOracle", task.Outcome)
	}
	if w := ts.do("POST", "/v1/oracle/verdict", verdict, ts.oracle); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("replayed verdict status = %d, want 422", w.Code)
	}
}

func TestAuthenticate(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"token":"` + usdc.String() + `","to":"` + mm.String() + `","amount":"1"}`)

	tests := []struct {
		name string
		sign func(r *http.Request)
		want int
	}{
		{"unsigned", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong key", func(r *http.Request) {
			security.SignRequest(r, body, ts.owner.Address(), ts.clock.Now(), ts.client)
		}, http.StatusUnauthorized},
		{"stale timestamp", func(r *http.Request) {
			security.SignRequest(r, body, ts.owner.Address(), ts.clock.Now().Add(-time.Hour), ts.owner)
		}, http.StatusUnauthorized},
		{"tampered body", func(r *http.Request) {
			security.SignRequest(r, []byte(`{}`), ts.owner.Address(), ts.clock.Now(), ts.owner)
		}, http.StatusUnauthorized},
		{"not owner", func(r *http.Request) {
			security.SignRequest(r, body, ts.client.Address(), ts.clock.Now(), ts.client)
		}, http.StatusForbidden},
		{"owner", func(r *http.Request) {
			security.SignRequest(r, body, ts.owner.Address(), ts.clock.Now(), ts.owner)
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/tokens/mint", bytes.NewReader(body))
			tt.sign(req)
			w := httptest.NewRecorder()
			ts.handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuthenticate_ReplayRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.mint(usdc, ts.client, "100")

	body := []byte(`{"token":"` + usdc.String() + `","to":"` + ts.agent.Address().String() + `","amount":"40"}`)
	signed := httptest.NewRequest("POST", "/v1/tokens/send", bytes.NewReader(body))
	security.SignRequest(signed, body, ts.client.Address(), ts.clock.Now(), ts.client)

	send := func() int {
		req := httptest.NewRequest("POST", "/v1/tokens/send", bytes.NewReader(body))
		req.Header = signed.Header.Clone()
		w := httptest.NewRecorder()
		ts.handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first send status = %d, want 200", code)
	}
	if code := send(); code != http.StatusUnauthorized {
		t.Errorf("replayed send status = %d, want 401", code)
	}
	if got := ts.balance(usdc, ts.agent); got != "40" {
		t.Errorf("agent balance = %s, want 40", got)
	}

	// The same payload signed afresh goes through.
	ts.ok("POST", "/v1/tokens/send", tokenRequest{Token: usdc, To: ts.agent.Address(), Amount: "40"}, ts.client, nil)
	if got := ts.balance(usdc, ts.agent); got != "80" {
		t.Errorf("agent balance = %s, want 80", got)
	}
}

func TestWalletCaller(t *testing.T) {
	ts := newTestServer(t)
	other, _ := security.GenerateKeypair()

	var wallet domain.Wallet
	ts.ok("POST", "/v1/wallets", walletRequest{
		Owners:    []domain.Address{ts.client.Address(), other.Address()},
		Threshold: 2,
		Salt:      7,
	}, nil, &wallet)
	ts.ok("GET", "/v1/wallets/"+wallet.Address.String(), nil, nil, nil)

	ts.ok("POST", "/v1/tokens/mint", tokenRequest{Token: usdc, To: wallet.Address, Amount: "50"}, ts.owner, nil)

	raw, _ := json.Marshal(tokenRequest{Token: usdc, To: mm, Amount: "20"})
	send := func(keys ...*security.Keypair) int {
		req := httptest.NewRequest("POST", "/v1/tokens/send", bytes.NewReader(raw))
		security.SignRequest(req, raw, wallet.Address, ts.clock.Now(), keys...)
		w := httptest.NewRecorder()
		ts.handler.ServeHTTP(w, req)
		return w.Code
	}
	if code := send(ts.client); code != http.StatusUnauthorized {
		t.Errorf("one of two owners status = %d, want 401", code)
	}
	if code := send(ts.client, other); code != http.StatusOK {
		t.Errorf("both owners status = %d, want 200", code)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		signer *security.Keypair
		want   int
	}{
		{"unknown task", "GET", "/v1/tasks/42", nil, nil, http.StatusNotFound},
		{"bad task id", "GET", "/v1/tasks/abc", nil, nil, http.StatusBadRequest},
		{"list without filter", "GET", "/v1/tasks", nil, nil, http.StatusBadRequest},
		{"bad address", "GET", "/v1/accounts/0x12/balances", nil, nil, http.StatusUnprocessableEntity},
		{"unknown wallet", "GET", "/v1/wallets/" + mm.String(), nil, nil, http.StatusNotFound},
		{"unknown assertion", "GET", "/v1/oracle/assertions/0xdead", nil, nil, http.StatusNotFound},
		{"token not allowed", "POST", "/v1/tasks", createTaskRequest{
			PaymentToken: mm, PaymentAmount: "10", StakeToken: stk,
			Deadline: time.Unix(1_800_000_000, 0),
		}, nil, http.StatusUnprocessableEntity},
		{"bad amount", "POST", "/v1/tokens/mint", tokenRequest{Token: usdc, To: mm, Amount: "ten"}, nil, http.StatusUnprocessableEntity},
		{"unknown param", "POST", "/v1/config/nonsense", configRequest{}, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := tt.signer
			if signer == nil && tt.method == "POST" {
				signer = ts.owner
			}
			if tt.method == "GET" {
				signer = nil
			}
			w := ts.do(tt.method, tt.path, tt.body, signer)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSetConfig(t *testing.T) {
	ts := newTestServer(t)

	var cfg domain.Config
	ts.ok("POST", "/v1/config/cooldown_period", configRequest{Duration: "30m"}, ts.owner, &cfg)
	if cfg.CooldownPeriod != 30*time.Minute {
		t.Errorf("cooldown = %s, want 30m", cfg.CooldownPeriod)
	}
	ts.ok("POST", "/v1/config/dispute_bond_bps", configRequest{Bps: 500}, ts.owner, &cfg)
	if cfg.DisputeBondBps != 500 {
		t.Errorf("dispute bps = %d, want 500", cfg.DisputeBondBps)
	}
	ts.ok("POST", "/v1/config/tokens_remove", configRequest{Token: stk}, ts.owner, &cfg)
	if cfg.IsTokenAllowed(stk) {
		t.Error("stk still allowed after removal")
	}

	if w := ts.do("POST", "/v1/config/dispute_bond_bps", configRequest{Bps: 10001}, ts.owner); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("out of range bps status = %d, want 422", w.Code)
	}
	if w := ts.do("POST", "/v1/config/dispute_bond_bps", configRequest{Bps: 1}, ts.client); w.Code != http.StatusForbidden {
		t.Errorf("non-owner status = %d, want 403", w.Code)
	}

	var quote struct {
		DisputeBond json.Number `json:"dispute_bond"`
	}
	ts.ok("GET", "/v1/quote?amount=1000", nil, nil, &quote)
	if quote.DisputeBond.String() != "50" {
		t.Errorf("dispute bond = %s, want 50", quote.DisputeBond)
	}
}

func TestEvidence(t *testing.T) {
	ts := newTestServer(t)
	content := []byte("screenshot of the delivered work")

	req := httptest.NewRequest("POST", "/v1/evidence", bytes.NewReader(content))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("store status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["uri"] != evidence.URIFor(content) {
		t.Errorf("uri = %s, want %s", out["uri"], evidence.URIFor(content))
	}

	w = ts.do("GET", "/v1/evidence/"+out["uri"], nil, nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), content) {
		t.Errorf("fetch status = %d, body = %q", w.Code, w.Body.String())
	}

	missing := evidence.URIFor([]byte("never stored"))
	if w := ts.do("GET", "/v1/evidence/"+missing, nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}

	oversized := httptest.NewRequest("POST", "/v1/evidence", bytes.NewReader(make([]byte, 2048)))
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, oversized)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("oversized status = %d, want 422", w.Code)
	}
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)
	id := ts.asserted()

	var out struct {
		Tasks []domain.Task `json:"tasks"`
	}
	ts.ok("GET", "/v1/tasks?party="+ts.agent.Address().String(), nil, nil, &out)
	if len(out.Tasks) != 1 || out.Tasks[0].ID != id {
		t.Errorf("by party = %+v", out.Tasks)
	}
	ts.ok("GET", "/v1/tasks?status=resultasserted", nil, nil, &out)
	if len(out.Tasks) != 1 {
		t.Errorf("by status = %d tasks, want 1", len(out.Tasks))
	}

	var next map[string]uint64
	ts.ok("GET", "/v1/tasks/next-id", nil, nil, &next)
	if next["next_task_id"] != id+1 {
		t.Errorf("next id = %d, want %d", next["next_task_id"], id+1)
	}
}
