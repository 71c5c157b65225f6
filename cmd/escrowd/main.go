package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"duoescrow/config"
	"duoescrow/core/events"
	"duoescrow/core/genesis"
	"duoescrow/gateway/middleware"
	"duoescrow/gateway/routes"
	"duoescrow/gateway/stream"
	"duoescrow/journal"
	"duoescrow/native/arbitration"
	"duoescrow/native/bank"
	"duoescrow/native/escrow"
	"duoescrow/native/relay"
	"duoescrow/observability"
	"duoescrow/observability/logging"
	telemetry "duoescrow/observability/otel"
	"duoescrow/state"
	"duoescrow/storage"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to escrowd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var fileOpts *logging.FileOptions
	if cfg.Log.File != "" {
		fileOpts = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger := logging.Setup(logging.Options{
		Service: cfg.Telemetry.ServiceName,
		Env:     cfg.Environment,
		Level:   cfg.Log.Level,
		File:    fileOpts,
	})

	tel, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	if tel.Enabled() {
		logger.Info("telemetry exporting", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	d, err := assemble(cfg, logger)
	if err != nil {
		logger.Error("failed to assemble daemon", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(d.handler, "escrow-gateway"),
		ReadTimeout:  time.Duration(cfg.Gateway.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Gateway.WriteTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen failed", "address", cfg.ListenAddress, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("escrowd listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

// daemon holds the assembled components and the resources to release.
type daemon struct {
	db           *storage.LevelDB
	journal      *journal.Journal
	vault        *bank.Vault
	ledger       *escrow.Ledger
	coordinators []*arbitration.Coordinator
	hub          *stream.Hub
	handler      http.Handler
}

func (d *daemon) Close() {
	if d.journal != nil {
		_ = d.journal.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

func assemble(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	coordinatorAddrs, err := cfg.CoordinatorAddresses()
	if err != nil {
		return nil, err
	}
	platformFee, err := cfg.PlatformFee()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	d := &daemon{db: db, hub: stream.NewHub()}

	emitter := events.Fanout{observability.Events(), d.hub}
	if driver := strings.TrimSpace(cfg.Journal.Driver); driver != "" {
		j, err := journal.Open(driver, journalDSN(cfg))
		if err != nil {
			d.Close()
			return nil, err
		}
		d.journal = j
		emitter = append(emitter, j)
	}

	store := state.NewStore(db)
	d.vault = bank.NewVault(store)
	d.vault.SetEmitter(emitter)
	if err := seedGenesis(cfg.GenesisFile, store, d.vault, logger); err != nil {
		d.Close()
		return nil, err
	}

	d.ledger = escrow.NewLedger()
	d.ledger.SetState(store)
	d.ledger.SetAssetMover(d.vault)
	d.ledger.SetEmitter(emitter)
	d.ledger.SetPlatformFee(platformFee)

	served := make([]routes.Coordinator, 0, len(coordinatorAddrs))
	for _, addr := range coordinatorAddrs {
		coordinator := arbitration.NewCoordinator(addr, d.ledger)
		coordinator.SetState(store)
		coordinator.SetEmitter(emitter)
		d.coordinators = append(d.coordinators, coordinator)
		served = append(served, coordinator)
	}
	if len(d.coordinators) > 0 {
		d.ledger.SetDefaultCoordinator(d.coordinators[0].Address())
	}
	d.ledger.SetCoordinatorProbe(coordinatorSet(d.coordinators))

	secret := cfg.JWTSecret()
	if strings.TrimSpace(secret) == "" {
		logger.Warn("gateway JWT secret not configured; authenticated routes will reject every request")
	}
	var journalReader routes.Journal
	if d.journal != nil {
		journalReader = d.journal
	}
	handler, err := routes.New(routes.Config{
		Ledger:       d.ledger,
		Coordinators: served,
		Relays:       relay.NewRegistry(d.ledger, d.vault, cfg.Escrow.AutoRelay, emitter),
		Balances:     d.vault,
		Journal:      journalReader,
		Stream:       d.hub.Handler(cfg.Gateway.AllowedOrigins),
		Metrics:      promhttp.Handler(),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Gateway.JWTIssuer,
			Audience:   cfg.Gateway.JWTAudience,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.Gateway.RatePerSecond,
			Burst:             cfg.Gateway.RateBurst,
		}),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			LogRequests: true,
		}, logger),
		CORS:   middleware.CORSConfig{AllowedOrigins: cfg.Gateway.AllowedOrigins},
		Logger: logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.handler = handler
	logger.Info("escrowd assembled",
		"coordinators", len(d.coordinators),
		"platformFeeBps", platformFee.Bps,
		"journal", cfg.Journal.Driver,
		"autoRelay", cfg.Escrow.AutoRelay)
	return d, nil
}

// journalDSN places relative sqlite databases inside the data directory.
func journalDSN(cfg *config.Config) string {
	dsn := strings.TrimSpace(cfg.Journal.DSN)
	if !strings.EqualFold(cfg.Journal.Driver, "sqlite") {
		return dsn
	}
	if strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) || dsn == ":memory:" {
		return dsn
	}
	return filepath.Join(cfg.DataDir, dsn)
}

// seedGenesis applies the genesis file once per data directory. A different
// file on an already seeded directory is refused.
func seedGenesis(path string, store *state.Store, vault *bank.Vault, logger *slog.Logger) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis: %w", err)
	}
	hash := [32]byte(ethcrypto.Keccak256Hash(raw))
	applied, ok, err := store.GenesisHash()
	if err != nil {
		return err
	}
	if ok {
		if applied != hash {
			return fmt.Errorf("genesis %s does not match the one already applied", path)
		}
		return nil
	}
	spec, err := genesis.ParseGenesisSpec(raw)
	if err != nil {
		return fmt.Errorf("genesis %s: %w", path, err)
	}
	if err := spec.Apply(vault); err != nil {
		return err
	}
	if err := store.MarkGenesis(hash); err != nil {
		return err
	}
	logger.Info("genesis applied", "file", path, "tokens", len(spec.Tokens), "accounts", len(spec.Alloc))
	return nil
}

type coordinatorSet []*arbitration.Coordinator

func (s coordinatorSet) IsArbitrationCoordinator(addr [20]byte) bool {
	for _, coordinator := range s {
		if coordinator.IsArbitrationCoordinator(addr) {
			return true
		}
	}
	return false
}
