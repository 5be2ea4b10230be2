// Package main is the entry point for the on-chain opportunity engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jm31-art/ultraflashbot/business/chain"
	chainDI "github.com/jm31-art/ultraflashbot/business/chain/di"
	"github.com/jm31-art/ultraflashbot/business/execution"
	execDI "github.com/jm31-art/ultraflashbot/business/execution/di"
	"github.com/jm31-art/ultraflashbot/business/lending"
	"github.com/jm31-art/ultraflashbot/business/opportunity"
	oppDI "github.com/jm31-art/ultraflashbot/business/opportunity/di"
	"github.com/jm31-art/ultraflashbot/business/pricing"
	"github.com/jm31-art/ultraflashbot/internal/apm"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/health"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/metrics"
	"github.com/jm31-art/ultraflashbot/internal/monolith"
	"github.com/jm31-art/ultraflashbot/internal/notify"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ultraflashbot %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}
	log := logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
	log.Info(ctx, "starting opportunity engine",
		"version", version,
		"environment", cfg.App.Environment,
		"execution_enabled", cfg.Execution.Enabled,
	)

	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}

		traceProvider, err = apm.NewTraceProvider(apm.ParseProvider(cfg.Telemetry.TraceProvider), log)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		log.Info(ctx, "tracing initialized", "provider", cfg.Telemetry.TraceProvider)

		if _, err := metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}

		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	jnl, err := journal.Open(cfg.Journal.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	notifier, closeNotifier, err := buildNotifier(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build notifier: %w", err)
	}
	defer closeNotifier()

	mono := monolith.New(cfg, log, jnl, notifier)
	defer mono.Close()

	healthPort := cfg.Telemetry.HealthPort
	if healthPort == 0 {
		healthPort = 8081
	}
	healthServer := health.NewServer(healthPort, version)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", healthPort)
	}
	defer healthServer.Stop(context.Background())

	// Dependency order. Execution registers the dispatch port the
	// opportunity engine resolves, so it must start before it.
	modules := []monolith.Module{
		&chain.Module{},
		&pricing.Module{},
		&lending.Module{},
		&execution.Module{},
		&opportunity.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	mgr := chainDI.GetManager(mono.Services())
	healthServer.RegisterCheck("chain", func(ctx context.Context) (bool, string) {
		if !mgr.Initialized() {
			return false, "connection group not initialized"
		}
		return true, ""
	})

	scanner := oppDI.GetScanner(mono.Services())
	tracker := execDI.GetTracker(mono.Services())
	healthServer.SetStatsFunc(func(ctx context.Context) any {
		return map[string]any{
			"scan":       scanner.Stats(),
			"settlement": tracker.Stats(),
		}
	})

	log.Info(ctx, "engine running")
	<-ctx.Done()

	shutdownCtx := context.Background()
	log.Info(shutdownCtx, "shutting down")

	// Stop dispatching new attempts, then drain in-flight settlements
	// before the process exits.
	oppDI.GetEngine(mono.Services()).Stop()

	drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, 30*time.Second)
	defer cancelDrain()
	if err := tracker.Stop(drainCtx); err != nil {
		log.Warn(shutdownCtx, "settlement drain cut short", "error", err)
	}

	return nil
}

// buildNotifier assembles the operator notification chain: the structured
// log always, Telegram when configured, both behind the non-blocking
// dispatcher.
func buildNotifier(cfg *config.Config, log logger.LoggerInterface) (notify.Notifier, func(), error) {
	sink := notify.Notifier(notify.NewLogNotifier(log))
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, log)
		if err != nil {
			return nil, nil, err
		}
		sink = notify.Multi{notify.NewLogNotifier(log), tg}
	}

	d, err := notify.NewDispatcher(sink, cfg.Notify.QueueSize, log)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}
