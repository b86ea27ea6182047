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
	"time"

	"github.com/joho/godotenv"

	"github.com/kikite-ai/kikite/internal/config"
	"github.com/kikite-ai/kikite/internal/interview"
	"github.com/kikite-ai/kikite/internal/llm"
	"github.com/kikite-ai/kikite/internal/pricing"
	"github.com/kikite-ai/kikite/internal/prompt"
	"github.com/kikite-ai/kikite/internal/reaper"
	"github.com/kikite-ai/kikite/internal/server"
	"github.com/kikite-ai/kikite/internal/storage"
	"github.com/kikite-ai/kikite/internal/telemetry"
	"github.com/kikite-ai/kikite/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIKITE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kikite starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Pricing: built-in table unless an override file is configured.
	prices := pricing.Default()
	if cfg.PricingFile != "" {
		data, err := os.ReadFile(cfg.PricingFile)
		if err != nil {
			return fmt.Errorf("pricing file: %w", err)
		}
		prices, err = pricing.ParseJSON(data)
		if err != nil {
			return fmt.Errorf("pricing file: %w", err)
		}
		logger.Info("pricing override loaded", "file", cfg.PricingFile)
	}

	invoker := llm.NewOpenAIInvoker(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	assembler := prompt.NewAssembler(cfg.MaxTurnsPerTopic)
	processor := interview.NewProcessor(db, invoker, assembler, prices, logger)

	// Start the stale-session sweep.
	rp := reaper.New(db, processor, cfg.ReapAfter, logger)
	go rp.RunLoop(ctx, cfg.ReapInterval)

	srv := server.New(server.ServerConfig{
		Store:               db,
		Processor:           processor,
		Logger:              logger,
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

	slog.Info("kikite shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("kikite stopped")
	return nil
}
