package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/renga/internal/auth"
	"github.com/ashita-ai/renga/internal/config"
	"github.com/ashita-ai/renga/internal/critic"
	"github.com/ashita-ai/renga/internal/engine"
	"github.com/ashita-ai/renga/internal/invoker"
	"github.com/ashita-ai/renga/internal/mcp"
	"github.com/ashita-ai/renga/internal/ratelimit"
	"github.com/ashita-ai/renga/internal/server"
	"github.com/ashita-ai/renga/internal/storage"
	"github.com/ashita-ai/renga/internal/storage/sqlite"
	"github.com/ashita-ai/renga/internal/telemetry"
	"github.com/ashita-ai/renga/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// hash-key is an offline utility; it needs no config or server.
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		return hashKey(os.Args[2:])
	}

	logger := newLogger(os.Getenv("RENGA_LOG_LEVEL"))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// hashKey prints the Argon2id hash of an API key for RENGA_API_KEY_HASH.
func hashKey(args []string) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "usage: renga hash-key <api-key>")
		return 2
	}
	hash, err := auth.HashAPIKey(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash-key: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("renga starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the store.
	var store server.Store
	switch cfg.Store {
	case "postgres":
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = db
	case "sqlite":
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		defer func() { _ = db.Close() }()
		store = db
	}

	// Pick the tool invoker.
	var inv engine.ToolInvoker
	if cfg.ExecutorURL != "" {
		inv = invoker.NewWebhook(cfg.ExecutorURL, cfg.ExecutorTimeout, logger)
		logger.Info("executor: webhook", "url", cfg.ExecutorURL)
	} else {
		inv = invoker.Local{}
		logger.Info("executor: local echo (no RENGA_EXECUTOR_URL)")
	}

	// Approval token issuer.
	approvals, err := auth.NewApprovals(cfg.ApprovalPrivateKeyPath, cfg.ApprovalPublicKeyPath, cfg.ApprovalTokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// SSE broker for live run progress.
	broker := server.NewBroker(cfg.EventBufferSize, logger)

	// Execution engine.
	eng := engine.New(engine.Config{
		Store:    store,
		Registry: engine.DefaultRegistry(inv),
		Critic:   critic.Heuristic{},
		Tokens:   approvals,
		Sink:     broker,
		Logger:   logger,
	})

	// MCP server (mounted at /mcp).
	mcpSrv := mcp.New(store, eng, logger)

	// Rate limiter.
	limiter := ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	if cfg.APIKeyHash == "" {
		logger.Warn("auth disabled: RENGA_API_KEY_HASH is empty")
	}

	srv := server.New(server.ServerConfig{
		Store:               store,
		Engine:              eng,
		Tokens:              approvals,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		APIKeyHash:          cfg.APIKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new requests and drain in-flight
	// runs. Runs observe the context and finish cancelled if they cannot
	// complete in time.
	slog.Info("renga shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("renga stopped")
	return nil
}
