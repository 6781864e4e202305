package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestLifecycleCounters(t *testing.T) {
	Transitions.WithLabelValues("Created", "Accepted").Inc()
	Rejections.WithLabelValues("dispute", "timing").Inc()
	TasksByStatus.WithLabelValues("Created").Set(2)

	names := gatheredNames(t)
	expected := []string{
		"escrow_transitions_total",
		"escrow_rejections_total",
		"escrow_tasks",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestSettlementAndOracleMetrics(t *testing.T) {
	Settlements.WithLabelValues("AgentWinsNoContest").Inc()
	Payouts.WithLabelValues("agent").Inc()
	OracleAssertions.WithLabelValues("ok").Inc()
	OracleVerdicts.WithLabelValues("true").Inc()
	OracleLatency.Observe(0.2)

	names := gatheredNames(t)
	for _, name := range []string{
		"escrow_settlements_total",
		"escrow_payouts_total",
		"escrow_oracle_assertions_total",
		"escrow_oracle_verdicts_total",
		"escrow_oracle_assert_latency_seconds",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestKeeperAndHealthMetrics(t *testing.T) {
	KeeperSweeps.Inc()
	KeeperFinalized.WithLabelValues("settle_no_contest").Inc()
	APIRequests.WithLabelValues("/v1/tasks/{id}", "200").Inc()
	EvidenceCache.WithLabelValues("hit").Inc()
	HealthCheckStatus.WithLabelValues("sqlite").Set(1)
	HealthRecoveries.WithLabelValues("sqlite").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"escrow_keeper_sweeps_total",
		"escrow_keeper_finalized_total",
		"escrow_api_requests_total",
		"escrow_evidence_cache_total",
		"escrow_health_check_status",
		"escrow_health_recoveries_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
