// Package escrow is the task store and settlement engine: the sole authority
// over task state. Every state change commits in one SQLite transaction, so a
// transition, its token movements and its event either all commit or leave
// state untouched.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/tutu-network/escrow/internal/app/bond"
	"github.com/tutu-network/escrow/internal/app/ledger"
	"github.com/tutu-network/escrow/internal/app/registry"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/metrics"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// Gateway opens an escalation with the external arbitrator. Submit makes
// the remote call outside any transaction; Record binds the returned
// handle to the task inside the escalation's transaction; Orphaned is told
// about handles whose escalation then failed to commit.
type Gateway interface {
	Submit(ctx context.Context, cfg domain.Config, task domain.Task, bond *big.Int) (string, domain.AssertionRequest, error)
	Record(tx *sqlite.Tx, id string, req domain.AssertionRequest) error
	Orphaned(id string, req domain.AssertionRequest, cause error)
}

// Engine implements the task lifecycle.
type Engine struct {
	db      *sqlite.DB
	vault   *ledger.Vault
	gateway Gateway
	clock   domain.Clock
	logger  *slog.Logger
}

// New creates an engine. gateway may be nil, in which case escalation
// fails with ErrOracleUnavailable.
func New(db *sqlite.DB, vault *ledger.Vault, gateway Gateway, clock domain.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:      db,
		vault:   vault,
		gateway: gateway,
		clock:   clock,
		logger:  logger.With("component", "escrow"),
	}
}

// SetGateway attaches the oracle gateway after construction.
func (e *Engine) SetGateway(g Gateway) { e.gateway = g }

// Now is the engine's second-granular clock reading.
func (e *Engine) Now() time.Time { return e.clock.Now().UTC().Truncate(time.Second) }

// ─── Creation ───────────────────────────────────────────────────────────────

// CreateParams are the client's terms for a new task.
type CreateParams struct {
	DescriptionURI string
	PaymentToken   domain.Address
	PaymentAmount  *big.Int
	Deadline       time.Time
	StakeToken     domain.Address
}

// CreateTask opens a new task with caller as client.
func (e *Engine) CreateTask(ctx context.Context, caller domain.Address, p CreateParams) (domain.Task, error) {
	var task domain.Task
	err := e.db.Update(ctx, func(tx *sqlite.Tx) error {
		cfg, err := registry.Current(tx)
		if err != nil {
			return err
		}
		now := e.Now()

		if caller.IsZero() {
			return domain.ErrInvalidAddress
		}
		if p.PaymentAmount == nil || p.PaymentAmount.Sign() <= 0 {
			return domain.ErrZeroAmount
		}
		if !p.Deadline.After(now) {
			return domain.ErrDeadlineNotFuture
		}
		if !cfg.IsTokenAllowed(p.PaymentToken) {
			return fmt.Errorf("%w: payment token %s", domain.ErrTokenNotAllowed, p.PaymentToken)
		}
		if !cfg.IsTokenAllowed(p.StakeToken) {
			return fmt.Errorf("%w: stake token %s", domain.ErrTokenNotAllowed, p.StakeToken)
		}

		id, err := tx.NextTaskID()
		if err != nil {
			return err
		}
		task = domain.EmptyTask(id)
		task.Client = caller
		task.DescriptionURI = p.DescriptionURI
		task.PaymentToken = p.PaymentToken
		task.PaymentAmount = new(big.Int).Set(p.PaymentAmount)
		task.StakeToken = p.StakeToken
		task.CreatedAt = now
		task.Deadline = p.Deadline.UTC().Truncate(time.Second)
		task.Status = domain.StatusCreated

		if err := tx.InsertTask(task); err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.EventTaskCreated, &task.ID, caller, now, map[string]string{
			"payment_token":   task.PaymentToken.String(),
			"payment_amount":  task.PaymentAmount.String(),
			"stake_token":     task.StakeToken.String(),
			"deadline":        task.Deadline.Format(time.RFC3339),
			"description_uri": task.DescriptionURI,
		})
		return err
	})
	if err != nil {
		e.reject("create", caller, 0, err)
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	e.committed("create", caller, task.ID, domain.StatusNone, task.Status)
	return task, nil
}

// ─── Lifecycle Operations ───────────────────────────────────────────────────

// AcceptTask makes caller the agent and locks stakeAmount of the stake token.
func (e *Engine) AcceptTask(ctx context.Context, caller domain.Address, taskID uint64, stakeAmount *big.Int) (domain.Task, error) {
	if stakeAmount == nil {
		stakeAmount = new(big.Int)
	}
	return e.mutate(ctx, "accept", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if t.Status != domain.StatusCreated {
			return change{}, domain.ErrWrongStatus
		}
		if caller.IsZero() {
			return change{}, domain.ErrInvalidAddress
		}
		if caller == t.Client {
			return change{}, domain.ErrClientIsAgent
		}
		if stakeAmount.Sign() < 0 {
			return change{}, domain.ErrNegativeAmount
		}
		if !cfg.IsTokenAllowed(t.StakeToken) {
			return change{}, fmt.Errorf("%w: stake token %s", domain.ErrTokenNotAllowed, t.StakeToken)
		}
		if err := e.vault.Lock(tx, t.StakeToken, caller, stakeAmount, t.ID, "agent stake"); err != nil {
			return change{}, err
		}
		t.Agent = caller
		t.AgentStake = new(big.Int).Set(stakeAmount)
		t.Status = domain.StatusAccepted
		return change{domain.EventTaskAccepted, map[string]string{
			"agent":       caller.String(),
			"stake_token": t.StakeToken.String(),
			"stake":       t.AgentStake.String(),
		}}, nil
	})
}

// DepositPayment locks the payment amount from the client.
func (e *Engine) DepositPayment(ctx context.Context, caller domain.Address, taskID uint64) (domain.Task, error) {
	return e.mutate(ctx, "deposit", caller, taskID, func(tx *sqlite.Tx, _ domain.Config, t *domain.Task, _ time.Time) (change, error) {
		if caller != t.Client {
			return change{}, domain.ErrNotClient
		}
		if t.PaymentDeposited {
			return change{}, domain.ErrAlreadyDeposited
		}
		if t.Status != domain.StatusAccepted {
			return change{}, domain.ErrWrongStatus
		}
		if err := e.vault.Lock(tx, t.PaymentToken, caller, t.PaymentAmount, t.ID, "payment"); err != nil {
			return change{}, err
		}
		t.PaymentDeposited = true
		return change{domain.EventPaymentDeposited, map[string]string{
			"token":  t.PaymentToken.String(),
			"amount": t.PaymentAmount.String(),
		}}, nil
	})
}

// AssertCompletion commits the agent's result and starts the dispute cooldown.
func (e *Engine) AssertCompletion(ctx context.Context, caller domain.Address, taskID uint64, resultHash domain.Hash, signature []byte, resultURI string) (domain.Task, error) {
	return e.mutate(ctx, "assert", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if caller != t.Agent || t.Agent.IsZero() {
			return change{}, domain.ErrNotAgent
		}
		if t.Status != domain.StatusAccepted {
			return change{}, domain.ErrWrongStatus
		}
		if !t.PaymentDeposited {
			return change{}, domain.ErrPaymentNotDeposited
		}
		ok, err := security.NewVerifier(tx).VerifyResult(t.Agent, t.ID, resultHash, signature)
		if err != nil {
			return change{}, err
		}
		if !ok {
			return change{}, domain.ErrInvalidSignature
		}
		t.ResultHash = resultHash
		t.AgentSignature = append(domain.HexBytes(nil), signature...)
		t.ResultURI = resultURI
		t.CooldownEndsAt = now.Add(cfg.CooldownPeriod)
		t.Status = domain.StatusResultAsserted
		return change{domain.EventTaskResultAsserted, map[string]string{
			"result_hash":      resultHash.String(),
			"result_uri":       resultURI,
			"cooldown_ends_at": t.CooldownEndsAt.Format(time.RFC3339),
		}}, nil
	})
}

// DisputeTask contests the asserted result and locks the client's bond.
func (e *Engine) DisputeTask(ctx context.Context, caller domain.Address, taskID uint64, evidenceURI string) (domain.Task, error) {
	return e.mutate(ctx, "dispute", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if caller != t.Client {
			return change{}, domain.ErrNotClient
		}
		if t.Status != domain.StatusResultAsserted {
			return change{}, domain.ErrWrongStatus
		}
		if !t.DisputeWindowOpen(now) {
			return change{}, domain.ErrDisputeWindowClosed
		}
		bondAmount := bond.New(cfg).DisputeBond(t.PaymentAmount)
		if err := e.vault.Lock(tx, t.PaymentToken, caller, bondAmount, t.ID, "dispute bond"); err != nil {
			return change{}, err
		}
		t.ClientDisputeBond = bondAmount
		t.ClientEvidenceURI = evidenceURI
		t.Status = domain.StatusDisputedAwaitingAgent
		return change{domain.EventTaskDisputed, map[string]string{
			"bond":         bondAmount.String(),
			"evidence_uri": evidenceURI,
		}}, nil
	})
}

// EscalateToUMA sends the dispute to the arbitrator and locks the agent's bond.
// The arbitrator is called between two transactions: a read that checks the
// escalation is allowed, and a write that re-checks it, locks the bond and
// binds the handle. Nothing changes if the arbitrator fails.
func (e *Engine) EscalateToUMA(ctx context.Context, caller domain.Address, taskID uint64, evidenceURI string) (domain.Task, error) {
	var (
		cfg        domain.Config
		snapshot   domain.Task
		bondAmount *big.Int
	)
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		c, err := registry.Current(tx)
		if err != nil {
			return err
		}
		t, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return domain.ErrTaskNotFound
		}
		if err := e.checkEscalation(c, t, caller, e.Now()); err != nil {
			return err
		}
		bondAmount = bond.New(c).EscalationBond(t.PaymentAmount)
		bal, err := tx.TokenBalance(t.PaymentToken, caller.String())
		if err != nil {
			return err
		}
		if bal.Cmp(bondAmount) < 0 {
			return fmt.Errorf("%w: %s has %s of %s, needs %s",
				domain.ErrInsufficientBalance, caller, bal, t.PaymentToken, bondAmount)
		}
		cfg, snapshot = c, *t
		return nil
	})
	if err != nil {
		e.reject("escalate", caller, taskID, err)
		return domain.Task{}, fmt.Errorf("escalate task %d: %w", taskID, err)
	}

	snapshot.AgentEvidenceURI = evidenceURI
	assertionID, req, err := e.gateway.Submit(ctx, cfg, snapshot, bondAmount)
	if err != nil {
		e.reject("escalate", caller, taskID, err)
		return domain.Task{}, fmt.Errorf("escalate task %d: %w", taskID, err)
	}

	task, err := e.mutate(ctx, "escalate", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if err := e.checkEscalation(cfg, t, caller, now); err != nil {
			return change{}, err
		}
		// The bond the arbitrator was told about is the one locked.
		if err := e.vault.Lock(tx, t.PaymentToken, caller, req.Bond, t.ID, "escalation bond"); err != nil {
			return change{}, err
		}
		if err := e.gateway.Record(tx, assertionID, req); err != nil {
			return change{}, err
		}
		t.AgentEscalationBond = new(big.Int).Set(req.Bond)
		t.AgentEvidenceURI = evidenceURI
		t.AssertionID = assertionID
		t.Status = domain.StatusEscalatedToUMA
		return change{domain.EventTaskEscalated, map[string]string{
			"bond":         req.Bond.String(),
			"evidence_uri": evidenceURI,
			"assertion_id": assertionID,
		}}, nil
	})
	if err != nil {
		e.gateway.Orphaned(assertionID, req, err)
		return domain.Task{}, err
	}
	return task, nil
}

// checkEscalation holds the preconditions of EscalateToUMA.
func (e *Engine) checkEscalation(cfg domain.Config, t *domain.Task, caller domain.Address, now time.Time) error {
	if caller != t.Agent || t.Agent.IsZero() {
		return domain.ErrNotAgent
	}
	if t.Status != domain.StatusDisputedAwaitingAgent {
		return domain.ErrWrongStatus
	}
	if !now.Before(t.ResponseWindowEnd(cfg.AgentResponseWindow)) {
		return domain.ErrResponseWindowClosed
	}
	if e.gateway == nil {
		return fmt.Errorf("%w: no gateway configured", domain.ErrOracleUnavailable)
	}
	return nil
}

// SettleNoContest finalizes an undisputed result once the cooldown is over.
// Anyone may call it.
func (e *Engine) SettleNoContest(ctx context.Context, caller domain.Address, taskID uint64) (domain.Task, error) {
	return e.mutate(ctx, "settle_no_contest", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if t.Status != domain.StatusResultAsserted {
			return change{}, domain.ErrWrongStatus
		}
		if t.DisputeWindowOpen(now) {
			return change{}, domain.ErrCooldownActive
		}
		return e.settleChange(tx, cfg, t, domain.OutcomeAgentWinsNoContest, now, domain.EventTaskResolved)
	})
}

// SettleAgentConceded refunds the client when the agent let the response
// window lapse. Anyone may call it.
func (e *Engine) SettleAgentConceded(ctx context.Context, caller domain.Address, taskID uint64) (domain.Task, error) {
	return e.mutate(ctx, "settle_conceded", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if t.Status != domain.StatusDisputedAwaitingAgent {
			return change{}, domain.ErrWrongStatus
		}
		if now.Before(t.ResponseWindowEnd(cfg.AgentResponseWindow)) {
			return change{}, domain.ErrResponseWindowPending
		}
		return e.settleChange(tx, cfg, t, domain.OutcomeClientWinsConcede, now, domain.EventTaskResolved)
	})
}

// TimeoutCancellation lets the client reclaim everything after the deadline.
func (e *Engine) TimeoutCancellation(ctx context.Context, caller domain.Address, taskID uint64, reason string) (domain.Task, error) {
	return e.mutate(ctx, "timeout", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if caller != t.Client {
			return change{}, domain.ErrNotClient
		}
		if t.Status != domain.StatusAccepted {
			return change{}, domain.ErrWrongStatus
		}
		if now.Before(t.Deadline) {
			return change{}, domain.ErrDeadlineNotReached
		}
		ch, err := e.settleChange(tx, cfg, t, domain.OutcomeClientWinsTimeout, now, domain.EventTaskTimeoutCancelled)
		if err == nil {
			ch.fields["reason"] = reason
		}
		return ch, err
	})
}

// CannotComplete lets the agent withdraw before asserting. The client gets
// the payment back and the agent keeps its stake.
func (e *Engine) CannotComplete(ctx context.Context, caller domain.Address, taskID uint64, reason string) (domain.Task, error) {
	return e.mutate(ctx, "cannot_complete", caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if caller != t.Agent || t.Agent.IsZero() {
			return change{}, domain.ErrNotAgent
		}
		if t.Status != domain.StatusAccepted {
			return change{}, domain.ErrWrongStatus
		}
		ch, err := e.settleChange(tx, cfg, t, domain.OutcomeCooperativeFailure, now, domain.EventTaskCannotComplete)
		if err == nil {
			ch.fields["reason"] = reason
		}
		return ch, err
	})
}

// ResolveFromOracle settles an escalated task with the arbitrator's verdict.
// Only the oracle gateway calls this, inside its own transaction.
func (e *Engine) ResolveFromOracle(ctx context.Context, tx *sqlite.Tx, caller domain.Address, taskID uint64, assertionID string, truth bool) (domain.Task, error) {
	task, from, err := e.apply(tx, caller, taskID, func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error) {
		if t.Status != domain.StatusEscalatedToUMA {
			return change{}, domain.ErrWrongStatus
		}
		if t.AssertionID != assertionID {
			return change{}, domain.ErrAssertionMismatch
		}
		t.OracleTruth = truth
		outcome := domain.OutcomeClientWinsOracle
		if truth {
			outcome = domain.OutcomeAgentWinsOracle
		}
		ch, err := e.settleChange(tx, cfg, t, outcome, now, domain.EventTaskResolved)
		if err == nil {
			ch.fields["assertion_id"] = assertionID
			ch.fields["truth"] = fmt.Sprint(truth)
		}
		return ch, err
	})
	if err != nil {
		e.reject("resolve_oracle", caller, taskID, err)
		return domain.Task{}, fmt.Errorf("resolve task %d from oracle: %w", taskID, err)
	}
	e.committed("resolve_oracle", caller, taskID, from, task.Status)
	return task, nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// GetTask returns the task, or a zero-valued record with status None when
// the id is unknown.
func (e *Engine) GetTask(ctx context.Context, taskID uint64) (domain.Task, error) {
	task := domain.EmptyTask(taskID)
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil || t == nil {
			return err
		}
		task = *t
		return nil
	})
	return task, err
}

// NextTaskID returns the id the next created task will get.
func (e *Engine) NextTaskID(ctx context.Context) (uint64, error) {
	var id uint64
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		id, err = tx.NextTaskID()
		return err
	})
	return id, err
}

// TasksByParty lists tasks the address created or accepted.
func (e *Engine) TasksByParty(ctx context.Context, party domain.Address, limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		tasks, err = tx.ListTasksByParty(party, limit)
		return err
	})
	return tasks, err
}

// TasksByStatus lists tasks in one status, oldest first.
func (e *Engine) TasksByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		tasks, err = tx.ListTasksByStatus(status, limit)
		return err
	})
	return tasks, err
}

// TasksCooledBy lists tasks in status whose cooldown ended by cutoff,
// earliest first.
func (e *Engine) TasksCooledBy(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		tasks, err = tx.ListTasksCooledBy(status, cutoff, limit)
		return err
	})
	return tasks, err
}

// StatusCounts returns the number of tasks in each status.
func (e *Engine) StatusCounts(ctx context.Context) (map[domain.TaskStatus]int, error) {
	var counts map[domain.TaskStatus]int
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		counts, err = tx.CountTasksByStatus()
		return err
	})
	return counts, err
}

// TaskEvents returns a task's event history.
func (e *Engine) TaskEvents(ctx context.Context, taskID uint64) ([]domain.Event, error) {
	var events []domain.Event
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		events, err = tx.TaskEvents(taskID)
		return err
	})
	return events, err
}

// Config returns the registry snapshot operations currently run against.
func (e *Engine) Config(ctx context.Context) (domain.Config, error) {
	var cfg domain.Config
	err := e.db.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		cfg, err = registry.Current(tx)
		return err
	})
	return cfg, err
}

// ─── Transition Plumbing ────────────────────────────────────────────────────

type change struct {
	event  domain.EventType
	fields map[string]string
}

type stepFunc func(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, now time.Time) (change, error)

func (e *Engine) mutate(ctx context.Context, op string, caller domain.Address, taskID uint64, step stepFunc) (domain.Task, error) {
	var (
		task domain.Task
		from domain.TaskStatus
	)
	err := e.db.Update(ctx, func(tx *sqlite.Tx) error {
		var err error
		task, from, err = e.apply(tx, caller, taskID, step)
		return err
	})
	if err != nil {
		e.reject(op, caller, taskID, err)
		return domain.Task{}, fmt.Errorf("%s task %d: %w", op, taskID, err)
	}
	e.committed(op, caller, taskID, from, task.Status)
	return task, nil
}

// apply loads the task and registry, runs step, checks the edge it took
// and persists the result with its event.
func (e *Engine) apply(tx *sqlite.Tx, caller domain.Address, taskID uint64, step stepFunc) (domain.Task, domain.TaskStatus, error) {
	cfg, err := registry.Current(tx)
	if err != nil {
		return domain.Task{}, domain.StatusNone, err
	}
	t, err := tx.GetTask(taskID)
	if err != nil {
		return domain.Task{}, domain.StatusNone, err
	}
	if t == nil {
		return domain.Task{}, domain.StatusNone, domain.ErrTaskNotFound
	}

	from := t.Status
	now := e.Now()
	ch, err := step(tx, cfg, t, now)
	if err != nil {
		return domain.Task{}, from, err
	}
	if t.Status != from && !from.CanTransitionTo(t.Status) {
		return domain.Task{}, from, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, t.Status)
	}

	if err := tx.SaveTask(*t); err != nil {
		return domain.Task{}, from, err
	}
	if _, err := tx.AppendEvent(ch.event, &t.ID, caller, now, ch.fields); err != nil {
		return domain.Task{}, from, err
	}
	return *t, from, nil
}

func (e *Engine) settleChange(tx *sqlite.Tx, cfg domain.Config, t *domain.Task, o domain.Outcome, now time.Time, ev domain.EventType) (change, error) {
	payouts, err := e.settle(tx, cfg, t, o, now)
	if err != nil {
		return change{}, err
	}
	recordPayouts(o, payouts)
	return change{ev, payoutFields(o, payouts)}, nil
}

func (e *Engine) committed(op string, caller domain.Address, taskID uint64, from, to domain.TaskStatus) {
	if from != to {
		metrics.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	}
	e.logger.Info("task updated", "op", op, "task_id", taskID, "from", from, "to", to, "caller", caller)
}

func (e *Engine) reject(op string, caller domain.Address, taskID uint64, err error) {
	kind := domain.KindOf(err)
	metrics.Rejections.WithLabelValues(op, kind.String()).Inc()
	e.logger.Debug("operation rejected", "op", op, "task_id", taskID, "caller", caller, "kind", kind, "error", err)
}
