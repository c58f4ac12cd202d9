package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/shieldcomment/config"
	"github.com/d60-Lab/shieldcomment/internal/cache"
	"github.com/d60-Lab/shieldcomment/internal/queue"
	"github.com/d60-Lab/shieldcomment/internal/repository"
	"github.com/d60-Lab/shieldcomment/internal/service"
	"github.com/d60-Lab/shieldcomment/pkg/database"
	"github.com/d60-Lab/shieldcomment/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Env); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Env}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("open database", zap.Error(err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	repo := repository.NewModerationRepository(db)
	statusCache := cache.NewStatusCache(rdb, time.Duration(cfg.Cache.StatusTTLSeconds)*time.Second)
	applier := service.NewBlockApplier(repo, statusCache)

	consumerName := cfg.Queue.Consumer
	if consumerName == "" {
		consumerName, _ = os.Hostname()
	}
	consumer := queue.NewConsumer(rdb, queue.ConsumerConfig{
		Stream:    queue.UserBlockedStream,
		Group:     cfg.Queue.Group,
		Consumer:  consumerName,
		Handler:   applier.HandleMessage,
		Prefetch:  cfg.Queue.Prefetch,
		Block:     cfg.QueueBlock(),
		MinIdle:   cfg.QueueMinIdle(),
		Retention: cfg.QueueRetention(),
		Retry: queue.RetryPolicy{
			Initial:    time.Duration(cfg.Queue.RetryInitialMS) * time.Millisecond,
			Max:        time.Duration(cfg.Queue.RetryMaxMS) * time.Millisecond,
			Multiplier: cfg.Queue.RetryFactor,
		},
	})

	logger.Info("block worker started",
		zap.String("stream", queue.UserBlockedStream),
		zap.String("group", cfg.Queue.Group),
		zap.String("consumer", consumerName))

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("block worker stopped")
}
