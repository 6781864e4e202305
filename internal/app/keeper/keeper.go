// Package keeper periodically calls the permissionless finalizers so that
// undisputed results and unanswered disputes settle without a human poking
// them. It never decides anything the engine would not allow a caller to do.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/metrics"
)

// Engine is the subset of the task store the keeper drives.
type Engine interface {
	Now() time.Time
	Config(ctx context.Context) (domain.Config, error)
	TasksCooledBy(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]domain.Task, error)
	StatusCounts(ctx context.Context) (map[domain.TaskStatus]int, error)
	SettleNoContest(ctx context.Context, caller domain.Address, taskID uint64) (domain.Task, error)
	SettleAgentConceded(ctx context.Context, caller domain.Address, taskID uint64) (domain.Task, error)
}

// Config controls the sweep schedule.
type Config struct {
	Schedule  string // cron spec, e.g. "@every 1m"
	BatchSize int
}

// DefaultConfig sweeps every minute.
func DefaultConfig() Config {
	return Config{Schedule: "@every 1m", BatchSize: 100}
}

// Report summarizes one sweep.
type Report struct {
	Settled  []uint64 `json:"settled"`
	Conceded []uint64 `json:"conceded"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
}

// Keeper runs sweeps on a cron schedule.
type Keeper struct {
	engine Engine
	caller domain.Address
	cfg    Config
	cron   *cron.Cron
	logger *slog.Logger

	mu   sync.Mutex
	last Report
}

// New creates a keeper that submits finalizations as caller.
func New(engine Engine, caller domain.Address, cfg Config, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	return &Keeper{
		engine: engine,
		caller: caller,
		cfg:    cfg,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		logger: logger.With("component", "keeper"),
	}
}

// Run schedules sweeps and blocks until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	_, err := k.cron.AddFunc(k.cfg.Schedule, func() {
		if _, err := k.Sweep(ctx); err != nil {
			k.logger.Warn("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("keeper schedule %q: %w", k.cfg.Schedule, err)
	}
	k.cron.Start()
	k.logger.Info("keeper started", "schedule", k.cfg.Schedule, "caller", k.caller)

	<-ctx.Done()
	<-k.cron.Stop().Done()
	k.logger.Info("keeper stopped")
	return nil
}

// LastReport returns the most recent sweep's report.
func (k *Keeper) LastReport() Report {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last
}

// Sweep finalizes every task whose time gate has opened.
func (k *Keeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	metrics.KeeperSweeps.Inc()

	cfg, err := k.engine.Config(ctx)
	if err != nil {
		return rep, err
	}
	now := k.engine.Now()

	// Only due tasks are fetched, so a batch is never filled by tasks whose
	// window is still open.
	asserted, err := k.engine.TasksCooledBy(ctx, domain.StatusResultAsserted, now, k.cfg.BatchSize)
	if err != nil {
		return rep, err
	}
	for _, t := range asserted {
		if t.DisputeWindowOpen(now) {
			continue
		}
		if k.finalize(ctx, "settle_no_contest", t.ID, k.engine.SettleNoContest, &rep) {
			rep.Settled = append(rep.Settled, t.ID)
		}
	}

	disputed, err := k.engine.TasksCooledBy(ctx, domain.StatusDisputedAwaitingAgent, now.Add(-cfg.AgentResponseWindow), k.cfg.BatchSize)
	if err != nil {
		return rep, err
	}
	for _, t := range disputed {
		if now.Before(t.ResponseWindowEnd(cfg.AgentResponseWindow)) {
			continue
		}
		if k.finalize(ctx, "settle_conceded", t.ID, k.engine.SettleAgentConceded, &rep) {
			rep.Conceded = append(rep.Conceded, t.ID)
		}
	}

	k.refreshGauges(ctx)

	k.mu.Lock()
	k.last = rep
	k.mu.Unlock()
	if len(rep.Settled)+len(rep.Conceded)+rep.Failed > 0 {
		k.logger.Info("sweep done", "settled", len(rep.Settled), "conceded", len(rep.Conceded),
			"skipped", rep.Skipped, "failed", rep.Failed)
	}
	return rep, nil
}

type finalizer func(ctx context.Context, caller domain.Address, taskID uint64) (domain.Task, error)

func (k *Keeper) finalize(ctx context.Context, op string, taskID uint64, fn finalizer, rep *Report) bool {
	_, err := fn(ctx, k.caller, taskID)
	if err == nil {
		metrics.KeeperFinalized.WithLabelValues(op).Inc()
		return true
	}
	// Someone else got there first, or the clock moved under us.
	if kind := domain.KindOf(err); kind == domain.KindTiming || errors.Is(err, domain.ErrWrongStatus) {
		rep.Skipped++
		return false
	}
	rep.Failed++
	k.logger.Warn("finalize failed", "op", op, "task_id", taskID, "error", err)
	return false
}

func (k *Keeper) refreshGauges(ctx context.Context) {
	counts, err := k.engine.StatusCounts(ctx)
	if err != nil {
		return
	}
	for s := domain.StatusCreated; s <= domain.StatusResolved; s++ {
		metrics.TasksByStatus.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
