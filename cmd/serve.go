package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/taskrelay/dispatchd/internal/config"
	"github.com/taskrelay/dispatchd/internal/control"
	"github.com/taskrelay/dispatchd/internal/dispatch"
	logpkg "github.com/taskrelay/dispatchd/internal/log"
	"github.com/taskrelay/dispatchd/internal/metrics"
	"github.com/taskrelay/dispatchd/internal/persistence"
	"github.com/taskrelay/dispatchd/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatchd coordinator in the foreground",
	Long: `Run the coordinator process: load configuration, rehydrate rounds
from persisted snapshots, start the HTTP control API and metrics
endpoint, run the periodic timeout sweep, and shut down gracefully on
SIGTERM/SIGINT.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func runServe() {
	cfg, err := appconfig.Load(configFile)
	if err != nil {
		logpkg.Init(logpkg.DefaultLoggerConfig())
		logpkg.GetLogger().WithError(err).Fatal("failed to load configuration")
	}
	logpkg.Init(&cfg.Log)
	logger := logpkg.GetLogger()

	logger.WithField("config", configFile).Info("dispatchd starting")

	store, err := persistence.NewFileStore(cfg.Persistence.Dir, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize persistence sink")
	}

	hook := webhook.NewSink(5 * time.Second)

	d := dispatch.NewDispatcher(store, hook, logger)
	seedDispatcherConfig(d, cfg)
	rehydrateRounds(d, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlSrv := control.NewServer(d, control.Options{
		Addr:         cfg.Control.Listen,
		ReadTimeout:  parseDurationOr(cfg.Control.ReadTimeout, 10*time.Second),
		WriteTimeout: parseDurationOr(cfg.Control.WriteTimeout, 30*time.Second),
	}, logger)
	if err := controlSrv.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start control server")
	}

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, logger)
		if err := metricsSrv.Start(ctx); err != nil {
			logger.WithError(err).Fatal("failed to start metrics server")
		}
	}

	sweepInterval := time.Duration(cfg.Dispatch.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	sweepDone := make(chan struct{})
	go runPeriodicSweep(ctx, d, cfg.Dispatch.SweepThresholdMs, sweepInterval, logger, sweepDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	logger.Info("dispatchd ready")
	<-sigChan
	logger.Info("shutdown signal received, stopping")

	cancel()
	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := controlSrv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("control server shutdown error")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("metrics server shutdown error")
		}
	}

	logger.Info("dispatchd stopped")
}

// seedDispatcherConfig applies the loaded static configuration on top of
// the dispatcher's built-in defaults via its normal patch path, so the
// same validation rules apply at startup as at runtime.
func seedDispatcherConfig(d *dispatch.Dispatcher, cfg *appconfig.GlobalConfig) {
	defaultBatch := cfg.Dispatch.DefaultBatchSize
	maxBatch := cfg.Dispatch.MaxBatchSize
	webhookURL := cfg.Dispatch.WebhookURL
	reportInterval := cfg.Dispatch.ReportIntervalMinutes

	patch := dispatch.ConfigPatch{}
	if defaultBatch > 0 {
		patch.DefaultBatchSize = &defaultBatch
	}
	if maxBatch > 0 {
		patch.MaxBatchSize = &maxBatch
	}
	if webhookURL != "" {
		patch.WebhookURL = &webhookURL
	}
	if reportInterval > 0 {
		patch.ReportIntervalMinutes = &reportInterval
	}
	if _, err := d.UpdateConfig(patch); err != nil {
		logpkg.GetLogger().WithError(err).Warn("startup configuration patch rejected, keeping defaults")
	}
}

// rehydrateRounds discovers every persisted round snapshot at startup and
// adopts each into the dispatcher (spec §4.5 hot/cold policy). Adopted
// rounds are evicted back to cold storage, except that while no round is
// active the first one that still has work becomes the active round and
// stays loaded.
func rehydrateRounds(d *dispatch.Dispatcher, store *persistence.FileStore, logger logpkg.Logger) {
	ids, err := store.ListRoundIDs()
	if err != nil {
		logger.WithError(err).Warn("failed to list persisted rounds")
		return
	}
	for _, id := range ids {
		if derr := d.AdoptPersistedRound(id); derr != nil {
			logger.WithError(derr).WithField("round_id", id).Warn("failed to adopt persisted round")
		}
	}
	if len(ids) > 0 {
		logger.WithField("count", len(ids)).Info("adopted persisted rounds from disk")
	}
}

func runPeriodicSweep(ctx context.Context, d *dispatch.Dispatcher, thresholdMs int64, interval time.Duration, logger logpkg.Logger, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	completedSeen := countCompletedRounds(d)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Sweep(thresholdMs, "")
			if err != nil {
				logger.WithError(err).Warn("periodic sweep failed")
				continue
			}
			if n > 0 {
				logger.WithField("requeued", n).Debug("periodic sweep requeued tasks")
			}
			if now := countCompletedRounds(d); now > completedSeen {
				metrics.RoundsCompletedTotal.Add(float64(now - completedSeen))
				completedSeen = now
			}
		}
	}
}

// countCompletedRounds is a cheap way to notice newly completed rounds
// between sweep ticks without importing metrics into the dispatch core.
func countCompletedRounds(d *dispatch.Dispatcher) int {
	n := 0
	for _, r := range d.ListRounds() {
		if r.Status == dispatch.LifecycleCompleted {
			n++
		}
	}
	return n
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
