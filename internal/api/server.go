// Package api provides the escrow node's HTTP API. Reads are open; every
// state-changing call is signed by its caller (key or wallet) and the
// oracle verdict callback is signed by the oracle identity.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/escrow/internal/app/escrow"
	"github.com/tutu-network/escrow/internal/app/ledger"
	"github.com/tutu-network/escrow/internal/app/oracle"
	"github.com/tutu-network/escrow/internal/app/registry"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/health"
	"github.com/tutu-network/escrow/internal/infra/metrics"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

// Version is reported by /v1/version.
var Version = "dev"

// Deps are the services the API fronts.
type Deps struct {
	DB       *sqlite.DB
	Engine   *escrow.Engine
	Registry *registry.Service
	Vault    *ledger.Vault
	Gateway  *oracle.Gateway
	Evidence domain.EvidenceStore
	Health   *health.Checker // optional
	Clock    domain.Clock
	Skew     time.Duration
	Logger   *slog.Logger
}

// Server is the escrow HTTP API server.
type Server struct {
	Deps
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("component", "api")
	return &Server{Deps: d}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.countRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Discovery
		r.Get("/config", s.handleGetConfig)
		r.Get("/quote", s.handleQuote)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/next-id", s.handleNextTaskID)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/tasks/{id}/events", s.handleTaskEvents)
		r.Get("/tasks/{id}/flows", s.handleTaskFlows)
		r.Get("/accounts/{addr}/balances", s.handleBalances)
		r.Get("/accounts/{addr}/history", s.handleHistory)
		r.Get("/wallets/{addr}", s.handleGetWallet)
		r.Post("/wallets", s.handleRegisterWallet)
		r.Get("/evidence/{uri}", s.handleFetchEvidence)
		r.Post("/evidence", s.handleStoreEvidence)
		r.Get("/oracle/assertions", s.handleListAssertions)
		r.Get("/oracle/assertions/{id}", s.handleGetAssertion)

		// Signed calls
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/tasks", s.handleCreateTask)
			r.Post("/tasks/{id}/accept", s.handleAccept)
			r.Post("/tasks/{id}/deposit", s.handleDeposit)
			r.Post("/tasks/{id}/assert", s.handleAssert)
			r.Post("/tasks/{id}/dispute", s.handleDispute)
			r.Post("/tasks/{id}/escalate", s.handleEscalate)
			r.Post("/tasks/{id}/settle", s.handleSettleNoContest)
			r.Post("/tasks/{id}/concede", s.handleSettleConceded)
			r.Post("/tasks/{id}/timeout", s.handleTimeout)
			r.Post("/tasks/{id}/cannot-complete", s.handleCannotComplete)

			r.Post("/oracle/verdict", s.handleVerdict)

			r.Post("/config/{param}", s.handleSetConfig)
			r.Post("/tokens/mint", s.handleMint)
			r.Post("/tokens/send", s.handleSend)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.Health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.Health.Statuses(),
	})
}

// countRequests records every response by route pattern and status code.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
