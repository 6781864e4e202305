// Package oracle is the bridge between escalated tasks and the external
// arbitrator. Open submits an assertion and records its handle; OnVerdict
// is the single authenticated callback that settles the task. The gateway
// never decides truth itself.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/tutu-network/escrow/internal/app/registry"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/metrics"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// Resolver settles a task once its verdict is known.
type Resolver interface {
	ResolveFromOracle(ctx context.Context, tx *sqlite.Tx, caller domain.Address, taskID uint64, assertionID string, truth bool) (domain.Task, error)
}

// Gateway manages assertion handles, one per escalated task.
type Gateway struct {
	db         *sqlite.DB
	arbitrator domain.Arbitrator
	resolver   Resolver
	clock      domain.Clock
	logger     *slog.Logger
}

// New creates a gateway that submits to arb.
func New(db *sqlite.DB, arb domain.Arbitrator, clock domain.Clock, logger *slog.Logger) *Gateway {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{db: db, arbitrator: arb, clock: clock, logger: logger.With("component", "oracle")}
}

// SetResolver attaches the task store that verdicts are forwarded to.
func (g *Gateway) SetResolver(r Resolver) { g.resolver = r }

// PayloadHash commits to the dispute context the arbitrator judges: the
// task, the asserted result and every evidence reference.
func PayloadHash(t domain.Task) domain.Hash {
	client := security.Keccak256([]byte(t.ClientEvidenceURI))
	agent := security.Keccak256([]byte(t.AgentEvidenceURI))
	result := security.Keccak256([]byte(t.ResultURI))
	return security.Keccak256(
		security.Uint256(t.ID), t.ResultHash[:], client[:], agent[:], result[:],
	)
}

// Claim is the human-readable statement the agent asserts.
func Claim(t domain.Task) string {
	return fmt.Sprintf(
		"Agent %s delivered task %d as specified by %q with result %s (%s). Client evidence: %q. Agent evidence: %q.",
		t.Agent, t.ID, t.DescriptionURI, t.ResultHash, t.ResultURI, t.ClientEvidenceURI, t.AgentEvidenceURI,
	)
}

// Submit sends the escalated task to the arbitrator and returns the handle
// with the request it answers. It holds no transaction: the remote call may
// take seconds and must not block the store. The handle is bound to the
// task only once Record commits.
func (g *Gateway) Submit(ctx context.Context, cfg domain.Config, task domain.Task, bond *big.Int) (string, domain.AssertionRequest, error) {
	req := domain.AssertionRequest{
		TaskID:      task.ID,
		Asserter:    task.Agent,
		Claim:       Claim(task),
		PayloadHash: PayloadHash(task),
		Bond:        new(big.Int).Set(bond),
		MinimumBond: cfg.OracleMinimumBond,
		Liveness:    cfg.OracleLiveness,
	}

	start := time.Now()
	id, err := g.arbitrator.Assert(ctx, req)
	metrics.OracleLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleAssertions.WithLabelValues("error").Inc()
		if domain.KindOf(err) == domain.KindInternal {
			err = fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
		}
		return "", req, err
	}
	if id == "" {
		metrics.OracleAssertions.WithLabelValues("rejected").Inc()
		return "", req, fmt.Errorf("%w: empty assertion id", domain.ErrOracleRejected)
	}
	return id, req, nil
}

// Record binds a submitted handle to its task inside tx. A handle is never
// reused.
func (g *Gateway) Record(tx *sqlite.Tx, id string, req domain.AssertionRequest) error {
	err := tx.InsertAssertion(domain.Assertion{
		ID:          id,
		TaskID:      req.TaskID,
		Claim:       req.Claim,
		PayloadHash: req.PayloadHash,
		Bond:        req.Bond,
		CreatedAt:   g.clock.Now(),
	})
	if err != nil {
		metrics.OracleAssertions.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.OracleAssertions.WithLabelValues("ok").Inc()
	g.logger.Info("assertion opened", "task_id", req.TaskID, "assertion_id", id, "bond", req.Bond)
	return nil
}

// Orphaned notes a handle the arbitrator issued whose escalation did not
// commit. Verdicts for it are rejected as unknown.
func (g *Gateway) Orphaned(id string, req domain.AssertionRequest, cause error) {
	metrics.OracleAssertions.WithLabelValues("orphaned").Inc()
	g.logger.Warn("assertion orphaned", "task_id", req.TaskID, "assertion_id", id, "error", cause)
}

// OnVerdict accepts the arbitrator's verdict for assertionID. Only the
// configured oracle may call it; unknown or already-resolved handles are
// rejected without side effects.
func (g *Gateway) OnVerdict(ctx context.Context, caller domain.Address, assertionID string, truth bool) (domain.Task, error) {
	if g.resolver == nil {
		return domain.Task{}, fmt.Errorf("%w: no resolver attached", domain.ErrOracleUnavailable)
	}
	var task domain.Task
	err := g.db.Update(ctx, func(tx *sqlite.Tx) error {
		cfg, err := registry.Current(tx)
		if err != nil {
			return err
		}
		if cfg.OracleAddress.IsZero() || caller != cfg.OracleAddress {
			return domain.ErrNotOracle
		}
		a, err := tx.GetAssertion(assertionID)
		if err != nil {
			return err
		}
		if a == nil {
			return domain.ErrUnknownAssertion
		}
		if a.Resolved {
			return fmt.Errorf("%w: %s already resolved", domain.ErrUnknownAssertion, assertionID)
		}
		if err := tx.MarkAssertionResolved(assertionID, truth, g.clock.Now()); err != nil {
			return err
		}
		task, err = g.resolver.ResolveFromOracle(ctx, tx, caller, a.TaskID, assertionID, truth)
		return err
	})
	if err != nil {
		metrics.OracleVerdicts.WithLabelValues("rejected").Inc()
		g.logger.Warn("verdict rejected", "assertion_id", assertionID, "caller", caller, "kind", domain.KindOf(err), "error", err)
		return domain.Task{}, err
	}
	metrics.OracleVerdicts.WithLabelValues(fmt.Sprint(truth)).Inc()
	g.logger.Info("verdict applied", "assertion_id", assertionID, "task_id", task.ID, "truth", truth, "outcome", task.Outcome)
	return task, nil
}

// Pending lists assertions still waiting for a verdict, oldest first.
func (g *Gateway) Pending(ctx context.Context, limit int) ([]domain.Assertion, error) {
	var out []domain.Assertion
	err := g.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		out, err = tx.ListAssertions(true, limit)
		return err
	})
	return out, err
}

// Assertion returns one assertion record, or nil if unknown.
func (g *Gateway) Assertion(ctx context.Context, id string) (*domain.Assertion, error) {
	var out *domain.Assertion
	err := g.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		out, err = tx.GetAssertion(id)
		return err
	})
	return out, err
}
