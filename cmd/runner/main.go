package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"blog-content-engine/internal/ai"
	"blog-content-engine/internal/config"
	"blog-content-engine/internal/images"
	"blog-content-engine/internal/processor"
	"blog-content-engine/internal/runner"
	"blog-content-engine/internal/store"
	"blog-content-engine/internal/telemetry"
)

// The standalone runner drains the queue on an interval, for
// deployments without an HTTP scheduler poking /api/runner.
func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("configuration invalid", "error", err.Error())
	}

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
		log.Fatalw("connect postgres", "error", err.Error())
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalw("migrations", "error", err.Error())
	}

	gen := ai.NewClient(cfg, log)

	covers, err := images.NewPipeline(ctx, cfg)
	if err != nil {
		log.Fatalw("init image pipeline", "error", err.Error())
	}

	proc := processor.New(gen, st, covers, log)
	run := runner.New(cfg, st, proc, log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warnw("metrics server stopped", "error", err.Error())
		}
	}()

	log.Infow("runner started",
		"inter_job_delay", cfg.InterJobDelay.String(),
		"rate_limit_backoff", cfg.RateLimitBackoff.String(),
		"stale_job_ttl", cfg.StaleJobTTL.String(),
	)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		if err := run.Drain(ctx, ""); err != nil && ctx.Err() == nil {
			log.Errorw("drain stopped with error", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			log.Infow("runner stopped")
			return
		case <-ticker.C:
		}
	}
}

func newLogger(env string) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if env == "prod" || env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}
