package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/analytics"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/archive"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/pipeline"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/provider"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/ratelimit"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/syncer"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
	workerproc "github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalw("connect postgres", "err", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatalw("migrations", "err", err)
	}

	q := queue.NewLaneQueue(cfg)
	limiter := ratelimit.NewTokenBucket(q.Client(), cfg.ProviderRateCap, cfg.ProviderRateRefill, time.Hour)
	factory := provider.NewFactory(cfg, logger)

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		logger.Fatalw("init archiver", "err", err)
	}

	orch := syncer.NewOrchestrator(cfg, st, q, factory, limiter, logger)
	fanout := pipeline.NewFanOut(q, archiver, logger)
	normalizer := pipeline.NewNormalizer(st, logger)
	snapshots := pipeline.NewSnapshotUpdater(st, q.Client(), cfg.StageHistoryMax, cfg.StageHistoryTTL, logger)
	durations := analytics.NewDurationEngine(st, logger)
	aggregator := analytics.NewJobAggregator(st, durations, logger)
	normalizeHandler := syncer.NewNormalizeHandler(normalizer, snapshots, durations, logger)

	processor := workerproc.NewProcessor(cfg, q, logger)
	processor.RegisterHandler(models.TaskFullSync, orch.HandleSyncTask)
	processor.RegisterHandler(models.TaskDeltaSync, orch.HandleSyncTask)
	processor.RegisterHandler(models.TaskRawPage, func(ctx context.Context, task models.Task) error {
		var p models.RawPagePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("decode raw page payload: %w", err)
		}
		_, err := fanout.HandleRawPage(ctx, p)
		return err
	})
	processor.RegisterHandler(models.TaskNormalizeApp, normalizeHandler.Handle)

	reconciler, err := aggregator.StartReconciler(ctx, cfg.ReconcileSchedule)
	if err != nil {
		logger.Fatalw("start reconciler", "err", err)
	}
	defer reconciler.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warnw("metrics server stopped", "err", err)
		}
	}()

	logger.Infow("worker started",
		"visibility", cfg.VisibilityTimeout,
		"max_attempts", cfg.LaneMaxAttempts,
		"reconcile_schedule", cfg.ReconcileSchedule)
	if err := processor.Run(ctx); err != nil {
		logger.Infow("worker stopped", "err", err)
	}
}

func newLogger(env string) *zap.SugaredLogger {
	var (
		l   *zap.Logger
		err error
	)
	if env == "prod" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return l.Sugar()
}
