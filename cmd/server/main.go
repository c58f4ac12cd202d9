package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/d60-Lab/shieldcomment/config"
	"github.com/d60-Lab/shieldcomment/internal/api/handler"
	"github.com/d60-Lab/shieldcomment/internal/cache"
	"github.com/d60-Lab/shieldcomment/internal/repository"
	"github.com/d60-Lab/shieldcomment/pkg/database"
	"github.com/d60-Lab/shieldcomment/pkg/logger"
	"github.com/d60-Lab/shieldcomment/pkg/tracing"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Otel.Endpoint != "" {
		shutdown, err := tracing.Init(ctx, "shieldcomment-api", cfg.Otel.Endpoint)
		if err != nil {
			logger.Warn("tracing init failed", zap.Error(err))
		} else {
			defer shutdown(context.Background())
		}
	}

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

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(otelgin.Middleware("shieldcomment-api"))

	handler.New(repo, statusCache).Register(r)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
	go func() {
		logger.Info("api server started", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown", zap.Error(err))
	}
	logger.Info("api server stopped")
}
