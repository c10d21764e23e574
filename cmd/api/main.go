package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"blog-content-engine/internal/ai"
	"blog-content-engine/internal/api"
	"blog-content-engine/internal/config"
	"blog-content-engine/internal/images"
	"blog-content-engine/internal/processor"
	"blog-content-engine/internal/ratelimit"
	"blog-content-engine/internal/runner"
	"blog-content-engine/internal/store"
	"blog-content-engine/internal/topics"
)

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	gen := ai.NewClient(cfg, log)
	src := topics.NewSource(gen, log)

	covers, err := images.NewPipeline(ctx, cfg)
	if err != nil {
		log.Fatalw("init image pipeline", "error", err.Error())
	}

	proc := processor.New(gen, st, covers, log)
	run := runner.New(cfg, st, proc, log)

	server := api.New(ctx, cfg, st, src, run, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Infow("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "error", err.Error())
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
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
