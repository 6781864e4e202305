// Package metrics provides Prometheus metrics for the escrow daemon:
// lifecycle transitions, settlements, oracle traffic, keeper sweeps,
// API requests and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Transitions counts committed status transitions.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "transitions_total",
	Help:      "Committed task status transitions.",
}, []string{"from", "to"})

// Rejections counts rejected operations by operation and error kind.
var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "rejections_total",
	Help:      "Rejected escrow operations.",
}, []string{"op", "kind"})

// TasksByStatus tracks how many tasks sit in each status.
var TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "tasks",
	Help:      "Number of tasks per status.",
}, []string{"status"})

// ─── Settlement ─────────────────────────────────────────────────────────────

// Settlements counts terminal settlements by outcome.
var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "settlements_total",
	Help:      "Terminal settlements by outcome.",
}, []string{"outcome"})

// Payouts counts individual payout transfers by recipient role.
var Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "payouts_total",
	Help:      "Payout transfers out of escrow by recipient role.",
}, []string{"role"})

// ─── Oracle ─────────────────────────────────────────────────────────────────

// OracleAssertions counts assertions submitted to the arbitrator.
var OracleAssertions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "oracle_assertions_total",
	Help:      "Assertions submitted to the arbitrator by result.",
}, []string{"result"})

// OracleVerdicts counts verdict callbacks by result.
var OracleVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "oracle_verdicts_total",
	Help:      "Verdict callbacks by result.",
}, []string{"result"})

// OracleLatency tracks arbitrator round-trip time for Assert calls.
var OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "escrow",
	Name:      "oracle_assert_latency_seconds",
	Help:      "Arbitrator assert round-trip latency.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// ─── Keeper ─────────────────────────────────────────────────────────────────

// KeeperSweeps counts keeper runs.
var KeeperSweeps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "keeper_sweeps_total",
	Help:      "Keeper finalization sweeps.",
})

// KeeperFinalized counts tasks the keeper settled, by operation.
var KeeperFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "keeper_finalized_total",
	Help:      "Tasks finalized by the keeper.",
}, []string{"op"})

// ─── API ────────────────────────────────────────────────────────────────────

// APIRequests counts HTTP requests by route pattern and status code.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "api_requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"route", "code"})

// ─── Evidence ───────────────────────────────────────────────────────────────

// EvidenceCache counts evidence cache lookups by result (hit or miss).
var EvidenceCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "evidence_cache_total",
	Help:      "Evidence fetch cache lookups.",
}, []string{"result"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
