package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/escrow/internal/api"
	"github.com/tutu-network/escrow/internal/app/escrow"
	"github.com/tutu-network/escrow/internal/app/evidence"
	"github.com/tutu-network/escrow/internal/app/keeper"
	"github.com/tutu-network/escrow/internal/app/ledger"
	"github.com/tutu-network/escrow/internal/app/oracle"
	"github.com/tutu-network/escrow/internal/app/registry"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/health"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// Key names in $ESCROW_HOME/keys.
const (
	NodeKey   = "node"
	OracleKey = "oracle"
)

// Daemon is the escrow node runtime. It wires together all services.
type Daemon struct {
	Config Config
	Home   string
	Logger *slog.Logger
	Clock  domain.Clock

	DB       *sqlite.DB
	Node     *security.Keypair
	Registry *registry.Service
	Vault    *ledger.Vault
	Engine   *escrow.Engine
	Gateway  *oracle.Gateway
	Local    *oracle.Local // nil unless oracle.mode = local
	Evidence *evidence.Store
	Keeper   *keeper.Keeper
	Health   *health.Checker
	Server   *api.Server

	cancel context.CancelFunc
}

// New loads $ESCROW_HOME/config.toml and creates a Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, EscrowHome(), nil)
}

// NewWithConfig creates a Daemon rooted at home. A nil clock uses the wall
// clock.
func NewWithConfig(cfg Config, home string, clock domain.Clock) (*Daemon, error) {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := NewLogger(cfg.Logging, os.Stderr)

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d := &Daemon{Config: cfg, Home: home, Logger: logger, Clock: clock, DB: db}
	if err := d.wire(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire() error {
	cfg, logger := d.Config, d.Logger

	node, err := security.LoadOrCreateKeypair(d.Home, NodeKey)
	if err != nil {
		return fmt.Errorf("load node key: %w", err)
	}
	d.Node = node

	// Arbitrator
	var (
		arb        domain.Arbitrator
		oracleAddr domain.Address
	)
	switch cfg.Oracle.Mode {
	case "", "local":
		d.Local = oracle.NewLocal()
		arb = d.Local
		if cfg.Oracle.Address == "" {
			kp, err := security.LoadOrCreateKeypair(d.Home, OracleKey)
			if err != nil {
				return fmt.Errorf("load oracle key: %w", err)
			}
			oracleAddr = kp.Address()
		}
	case "http":
		if cfg.Oracle.URL == "" || cfg.Oracle.Address == "" {
			return fmt.Errorf("oracle.mode = http needs oracle.url and oracle.address")
		}
		arb = oracle.NewHTTPArbitrator(cfg.Oracle.URL, parseDuration(cfg.Oracle.Timeout, 10*time.Second),
			oracle.DefaultRetryConfig(), logger)
	default:
		return fmt.Errorf("unknown oracle.mode %q", cfg.Oracle.Mode)
	}
	if cfg.Oracle.Address != "" {
		if oracleAddr, err = domain.ParseAddress(cfg.Oracle.Address); err != nil {
			return fmt.Errorf("oracle.address: %w", err)
		}
	}

	// Registry genesis
	d.Registry = registry.New(d.DB, d.Clock, logger)
	genesis, err := cfg.Protocol.Genesis(node.Address(), oracleAddr)
	if err != nil {
		return fmt.Errorf("genesis config: %w", err)
	}
	seeded, err := d.Registry.Genesis(context.Background(), genesis)
	if err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	if seeded {
		logger.Info("registry seeded", "owner", genesis.Owner, "oracle", genesis.OracleAddress,
			"tokens", len(genesis.AllowedTokens))
	}

	// Core
	d.Vault = ledger.NewVault(d.DB, d.Clock)
	d.Gateway = oracle.New(d.DB, arb, d.Clock, logger)
	d.Engine = escrow.New(d.DB, d.Vault, d.Gateway, d.Clock, logger)
	d.Gateway.SetResolver(d.Engine)

	d.Evidence, err = evidence.New(d.DB, d.Clock, cfg.Evidence.CacheSize, cfg.Evidence.MaxSizeBytes)
	if err != nil {
		return err
	}
	d.Keeper = keeper.New(d.Engine, node.Address(), cfg.Keeper.KeeperConfig(), logger)
	d.Health = health.NewChecker(d.DB, d.Home, d.Engine, logger)

	d.Server = api.NewServer(api.Deps{
		DB:       d.DB,
		Engine:   d.Engine,
		Registry: d.Registry,
		Vault:    d.Vault,
		Gateway:  d.Gateway,
		Evidence: d.Evidence,
		Health:   d.Health,
		Clock:    d.Clock,
		Skew:     parseDuration(cfg.API.RequestSkew, security.DefaultRequestSkew),
		Logger:   logger,
	})
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	return nil
}

// Addr is the API listen address.
func (d *Daemon) Addr() string {
	return fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
}

// Serve runs the API server, keeper and health checker until ctx is
// cancelled or the process receives SIGINT/SIGTERM.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, d.cancel = context.WithCancel(ctx)

	httpServer := &http.Server{
		Addr:         d.Addr(),
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Logger.Info("escrow serving", "addr", "http://"+d.Addr(), "oracle_mode", d.Config.Oracle.Mode,
			"keeper", d.Config.Keeper.Enabled)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		d.Health.Run(ctx)
		return nil
	})
	if d.Config.Keeper.Enabled {
		g.Go(func() error { return d.Keeper.Run(ctx) })
	}

	err := g.Wait()
	d.DB.Close()
	return err
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
