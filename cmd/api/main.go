package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/analytics"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/api"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/provider"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/ratelimit"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/syncer"
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
	orch := syncer.NewOrchestrator(cfg, st, q, factory, limiter, logger)
	durations := analytics.NewDurationEngine(st, logger)
	aggregator := analytics.NewJobAggregator(st, durations, logger)

	server := api.New(cfg, st, q, orch, aggregator)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Infow("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
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
