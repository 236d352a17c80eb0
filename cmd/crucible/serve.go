package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	goutils "github.com/jkaninda/go-utils"

	"github.com/crucible-ai/crucible/internal/config"
	"github.com/crucible-ai/crucible/internal/gateway/httpapi"
	"github.com/crucible-ai/crucible/internal/gateway/ws"
	"github.com/crucible-ai/crucible/internal/observability"
	"github.com/crucible-ai/crucible/internal/ratelimit"
	"github.com/crucible-ai/crucible/internal/scheduler"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway and scheduled runs",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `crucible --config path` and `crucible serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Crucible in server mode: the HTTP gateway plus any
// configured scheduled runs.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("CRUCIBLE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &config.GatewayConfig{Enabled: true}
		}
		cfg.Gateway.ListenAddr = serveAddr
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	gatewayEnabled := cfg.Gateway != nil && cfg.Gateway.Enabled
	schedulerEnabled := cfg.Scheduler != nil && cfg.Scheduler.Enabled && len(cfg.Scheduler.Jobs) > 0
	if !gatewayEnabled && !schedulerEnabled {
		return fmt.Errorf("nothing to serve: enable the gateway or configure scheduled runs")
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled runs.
	if schedulerEnabled {
		sched, err := scheduler.New(cfg.Scheduler, sc.Loop, logger)
		if err != nil {
			return err
		}
		if sc.Obs != nil && sc.Obs.Metrics != nil {
			sched.WithMetrics(scheduler.NewMetrics(sc.Obs.Metrics.Registry))
		}
		cancelScheduler := sched.Start(ctx)
		defer cancelScheduler()
		logger.Info("scheduler started", slog.Int("jobs", sched.Jobs()))
	}

	if !gatewayEnabled {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	// Run event stream.
	wsServer := ws.NewServer(ws.NewBus(), cfg.Gateway.APIKeys, logger)

	var tracer trace.Tracer
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		tracer = ts.Tracer()
	}

	gw := httpapi.NewGateway(httpapi.Config{
		ListenAddr:      cfg.Gateway.Addr(),
		EnableDocs:      cfg.Gateway.EnableDocs,
		APIKeys:         cfg.Gateway.APIKeys,
		MaxRequestSize:  cfg.Gateway.MaxRequestSize(),
		MetricsRegistry: metricsRegistry(sc),
		MetricsPath:     metricsPath(cfg),
		HealthChecker:   healthChecker(sc),
		Metrics:         sc.Obs.MetricsOrNil(),
		Tracer:          tracer,
	}, sc.Loop, logger).
		WithStore(sc.Store).
		WithGuardrails(sc.Guardrails).
		WithEventStream(wsServer)

	if cfg.Gateway.RateLimit.RequestsPerMinute > 0 {
		gw.WithRateLimiter(ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Gateway.RateLimit.BurstSize,
		}))
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()
	logger.Info("gateway started", slog.String("addr", cfg.Gateway.Addr()))

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}

func metricsRegistry(sc *SharedComponents) *prometheus.Registry {
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		return sc.Obs.Metrics.Registry
	}
	return nil
}

func metricsPath(cfg *config.Config) string {
	if cfg.Observability != nil && cfg.Observability.Metrics != nil {
		return cfg.Observability.Metrics.MetricsPath()
	}
	return ""
}

func healthChecker(sc *SharedComponents) *observability.HealthChecker {
	if sc.Obs != nil {
		return sc.Obs.Health
	}
	return nil
}
