package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqalabs/podcraft/internal/bus"
	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/eventstore"
	"github.com/loqalabs/podcraft/internal/jobs"
	"github.com/loqalabs/podcraft/internal/llm"
	"github.com/loqalabs/podcraft/internal/natsserver"
	"github.com/loqalabs/podcraft/internal/runtime"
	"github.com/loqalabs/podcraft/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		envFile     string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults and PODCRAFT_* env when empty)")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file with API keys")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("podcraftd exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	tel, err := runtime.SetupTelemetry(cfg, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := eventstore.Open(ctx, cfg.EventStore, logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	go pruneLoop(ctx, store, logger)

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	if closer, ok := gen.(io.Closer); ok {
		defer closer.Close()
	}
	model, err := tts.New(cfg.TTS)
	if err != nil {
		return fmt.Errorf("init tts: %w", err)
	}

	runner, err := jobs.NewRunner(context.WithoutCancel(ctx), jobs.Options{
		Podcast:      cfg.Podcast,
		Conditioning: cfg.Conditioning,
		LLM:          cfg.LLM,
		Generator:    gen,
		Model:        model,
		Recorder:     store,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("init job runner: %w", err)
	}
	defer func() {
		// Let the running job reach its next checkpoint before exiting.
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runner.Close(drainCtx); err != nil {
			logger.Warn("job runner did not drain in time", slog.String("error", err.Error()))
		}
	}()

	checks := map[string]func() bool{}
	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger.With(slog.String("component", "nats")))
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if url := embedded.ClientURL(); url != "" {
			cfg.Bus.Servers = []string{url}
		}

		client, err := bus.Connect(ctx, cfg.Bus, logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		defer client.Close()

		svc := jobs.NewService(cfg.Bus, client, runner, logger)
		if err := svc.Start(); err != nil {
			return err
		}
		defer svc.Close()
		checks["bus"] = svc.Healthy
	}

	rt := runtime.New(cfg, runtime.Options{
		Runner:  runner,
		History: store,
		Metrics: tel.Metrics,
		Checks:  checks,
	}, logger)
	return rt.Start(ctx)
}

func pruneLoop(ctx context.Context, store *eventstore.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
