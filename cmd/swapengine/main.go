// Package main is the entry point for the swap engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fd1az/swapengine/business/ledger"
	ledgerDI "github.com/fd1az/swapengine/business/ledger/di"
	"github.com/fd1az/swapengine/business/payment"
	"github.com/fd1az/swapengine/business/swap"
	swapDI "github.com/fd1az/swapengine/business/swap/di"
	"github.com/fd1az/swapengine/business/swap/infra/booking"
	"github.com/fd1az/swapengine/business/swap/infra/notify"
	"github.com/fd1az/swapengine/internal/apm"
	"github.com/fd1az/swapengine/internal/config"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/metrics"
	"github.com/fd1az/swapengine/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("swapengine %s (commit: %s, built: %s)\n", version, commit, buildDate)
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

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, nil)
	log.Info(ctx, "starting swap engine",
		"version", version,
		"environment", cfg.App.Environment,
		"storage", cfg.Storage.Driver,
		"ledger", cfg.Ledger.Driver,
	)

	var traceProvider apm.TraceProvider
	var promServer *metrics.PrometheusServer
	if cfg.Telemetry.Enabled {
		traceProvider = apm.NewTraceProvider(log, apm.Options{
			Provider:    apm.Provider(cfg.Telemetry.TraceProvider),
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			Headers:     cfg.Telemetry.OTLPHeaders,
		})

		if _, err := metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.NewPrometheusConfig()),
		); err != nil {
			log.Warn(ctx, "metrics disabled", "error", err)
		} else {
			promServer = metrics.NewPrometheusServer(cfg.Telemetry.PrometheusPort, log)
			promServer.Start()
		}
	}
	defer func() {
		if traceProvider != nil {
			_ = traceProvider.Stop()
		}
	}()

	mono, err := monolith.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Dependency order: swap consumes payment and ledger.
	modules := []monolith.Module{
		&payment.Module{},
		&ledger.Module{},
		&swap.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	mono.Health().Start()
	log.Info(ctx, "health server started", "port", cfg.App.HealthPort)

	reconciler := swapDI.GetReconciler(mono.Services())
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	log.Info(ctx, "all modules started")
	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := reconciler.Stop(); err != nil {
		log.Error(shutdownCtx, "error stopping reconciler", "error", err)
	}
	swapDI.GetService(mono.Services()).Wait()
	ledgerDI.GetRecorder(mono.Services()).Close()
	closeAdapters(shutdownCtx, mono, log)

	if err := mono.Health().Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "error stopping health server", "error", err)
	}
	if promServer != nil {
		if err := promServer.Stop(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "error stopping metrics server", "error", err)
		}
	}

	return nil
}

func closeAdapters(ctx context.Context, mono monolith.Monolith, log logger.LoggerInterface) {
	if c, ok := swapDI.GetBookingService(mono.Services()).(*booking.Client); ok {
		c.Close()
	}
	if n, ok := swapDI.GetNotifier(mono.Services()).(*notify.WebSocketNotifier); ok {
		if err := n.Close(); err != nil {
			log.Warn(ctx, "error closing notification gateway", "error", err)
		}
	}
}
