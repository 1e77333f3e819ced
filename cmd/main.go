package main

import (
	"context"
	"coursechat/backend/internal/api/handler"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chathub"
	"coursechat/backend/internal/config"
	"coursechat/backend/internal/logging"
	"coursechat/backend/internal/membership"
	"coursechat/backend/internal/storage"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const shutdownTimeout = 15 * time.Second

func setupDependencies(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, nil, err
	}

	if cfg.Redis.Addr == "" {
		log.Info("redis not configured, enrollment cache disabled")
		return db, nil, nil
	}
	if cfg.Chat.EnrollmentCacheTTL <= 0 {
		log.Info("enrollment cache TTL is zero, enrollment cache disabled")
		return db, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, enrollment cache disabled", "addr", cfg.Redis.Addr, "error", err)
		rdb.Close()
		return db, nil, nil
	}
	return db, rdb, nil
}

func main() {
	bootLog := logging.New(os.Stderr, "info", "json")

	cfg, err := config.Load(bootLog)
	if err != nil {
		bootLog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	log.Info("starting coursechat backend", "addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Dependencies
	db, rdb, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var opts []storage.Option
	if rdb != nil {
		opts = append(opts, storage.WithRedis(rdb, cfg.Chat.EnrollmentCacheTTL))
		log.Info("enrollment cache enabled", "ttl", cfg.Chat.EnrollmentCacheTTL)
	}
	s := storage.NewStorageService(db, log, opts...)
	if err := s.Migrate(); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// 2. Hub and its collaborators
	authority := membership.NewAuthority(s, s, cfg.Chat.TestAccessEnabled, log)
	hub := chathub.NewManagerService(s, authority, log, chathub.WithOperationTimeout(cfg.Chat.OperationTimeout))
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// 3. HTTP
	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(hub, s, authority, resolver, handler.Settings{
		DevTokens: cfg.Chat.DevTokens,
		TokenTTL:  cfg.Auth.TokenTTL,
	}, log)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// 4. Run until a signal arrives or a component fails
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(hubCtx)
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are not tracked by Shutdown; stopping
		// the hub closes them.
		stopHub()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
