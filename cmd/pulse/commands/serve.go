package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpulse/openpulse/pkg/alerts"
	"github.com/openpulse/openpulse/pkg/anomaly"
	"github.com/openpulse/openpulse/pkg/auth"
	"github.com/openpulse/openpulse/pkg/config"
	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/ratelimit"
	"github.com/openpulse/openpulse/pkg/scheduler"
	"github.com/openpulse/openpulse/pkg/server"
	"github.com/openpulse/openpulse/pkg/snapshot"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
	"github.com/openpulse/openpulse/pkg/traces"
)

func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry core",
		Long: `Start the telemetry pipeline: the HTTP API for event ingest and
queries, the background alert/anomaly/snapshot/cleanup tasks, the
notification dispatcher, and the optional metrics endpoint.

The configuration file is watched for changes; alert thresholds,
notification channels, anomaly settings, and trace sampling are
applied without a restart.`,
		Example: `  # Run with defaults (openpulse.db in the working directory)
  pulse serve

  # Run with a config file and verbose logging
  pulse serve --config pulse.yaml --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")

	return cmd
}

func runServe(ctx context.Context, listenAddr string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return err
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	// Core services.
	limiter := ratelimit.NewLimiter(nil)
	svc := monitor.NewService(a.store, limiter, logger, metrics, monitor.Options{
		RateLimit:         cfg.RateLimit.Limit,
		RateWindowSeconds: cfg.RateLimit.WindowSeconds,
	})
	svc.SetTracer(tracer)
	engine := alerts.NewEngine(a.store, nil, logger, metrics, cfg.Thresholds, cfg.Channels)
	engine.SetTracer(tracer)
	detector := anomaly.NewDetector(a.store, logger, metrics, cfg.Anomaly)
	recorder := traces.NewRecorder(a.store, logger, metrics, cfg.Traces)
	gate := auth.NewGate(a.store, logger, metrics, cfg.TokenTTL())
	taker := snapshot.NewTaker(a.store, svc, logger, cfg.Snapshots.Dir)

	if err := engine.Seed(ctx); err != nil {
		return err
	}
	engine.Start()
	defer engine.Close()

	// Recorded events feed the per-event alert rules asynchronously.
	svc.OnEvent(func(event stores.MonitoringEvent) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		engine.CheckEvent(checkCtx, event)
	})

	// Background tasks, each in its own error boundary.
	runner := scheduler.NewRunner(logger, metrics)
	sched := cfg.Scheduler
	runner.Register("check_alerts", time.Duration(sched.AlertCheckSeconds)*time.Second, func(ctx context.Context) error {
		return engine.CheckAlerts(ctx, cfg.Environment)
	})
	runner.Register("detect_anomalies", time.Duration(sched.AnomalyCheckSeconds)*time.Second, func(ctx context.Context) error {
		_, err := detector.Detect(ctx, cfg.Environment)
		return err
	})
	runner.Register("take_snapshot", time.Duration(sched.SnapshotMinutes)*time.Minute, func(ctx context.Context) error {
		_, err := taker.Take(ctx, "periodic", cfg.Environment)
		return err
	})
	runner.Register("cleanup_events", time.Duration(sched.CleanupHours)*time.Hour, func(ctx context.Context) error {
		_, err := svc.Cleanup(ctx, cfg.Storage.RetentionDays)
		if err != nil {
			return err
		}
		_, err = recorder.Cleanup(ctx, cfg.Storage.RetentionDays)
		return err
	})
	runner.Register("sweep_tokens", time.Duration(sched.TokenSweepMinutes)*time.Minute, func(ctx context.Context) error {
		_, err := gate.SweepExpiredTokens(ctx)
		return err
	})
	runner.Register("prune_limiter", time.Duration(sched.LimiterPruneMinutes)*time.Minute, func(ctx context.Context) error {
		limiter.Prune(time.Duration(cfg.RateLimit.WindowSeconds) * time.Second * 2)
		engine.PruneFailures(time.Duration(cfg.Thresholds.FailureWindowSeconds) * time.Second * 2)
		return nil
	})
	runner.Start(ctx)
	defer runner.Stop()

	if err := metrics.StartMetricsServer(); err != nil {
		return err
	}

	// Hot reload of thresholds, channels, anomaly and trace settings.
	if configPath != "" {
		watcher := config.NewWatcher(configPath, logger)
		if err := watcher.Watch(ctx, func(updated *config.Config) {
			engine.SetThresholds(updated.Thresholds)
			engine.SetChannels(updated.Channels)
			detector.SetConfig(updated.Anomaly)
			recorder.SetConfig(updated.Traces)
		}); err != nil {
			logger.WithError(err).Warn("config watcher unavailable, hot reload disabled")
		}
		defer watcher.Stop()
	}

	srv := server.New(server.Config{ListenAddress: listenAddr}, svc, engine, detector, recorder, gate, taker, logger)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithEnvironment(cfg.Environment).Info("openpulse started")
	return srv.Start()
}
