package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/castlelight/chess-rating/internal/config"
	"github.com/castlelight/chess-rating/internal/feed"
	"github.com/castlelight/chess-rating/internal/httpadmin"
	"github.com/castlelight/chess-rating/internal/leaderboard"
	"github.com/castlelight/chess-rating/internal/obslog"
	"github.com/castlelight/chess-rating/internal/rating"
	"github.com/castlelight/chess-rating/internal/service/cache"
)

const updateTimeout = 15 * time.Second

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	repo, err := rating.NewPostgresRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	if err := repo.Migrate(context.Background()); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url invalid", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}

	board := leaderboard.New(rdb)
	svc, err := rating.NewService(repo, cache.New(rdb), board, rating.Config{
		HistoryLimit:    cfg.HistoryLimit,
		ProfileCacheTTL: time.Duration(cfg.ProfileCacheTTLSec) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("service init failed", zap.Error(err))
	}

	ws := feed.NewClient(cfg.FeedWSURL, cfg.FeedReconnectAttempts, time.Second)
	ws.OnEvent(func(ev *feed.Event) {
		if ev.Type != feed.EventGameCompleted {
			return
		}
		// Keep the read loop free; rating work runs on its own goroutine.
		go func(gameID string) {
			ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
			defer cancel()
			summary, err := svc.UpdateRatingsForGame(ctx, gameID)
			if err != nil {
				logger.Error("rating update failed", zap.String("game_id", gameID), zap.Error(err))
				return
			}
			logger.Info("rating update applied",
				zap.String("game_id", gameID),
				zap.Bool("already_applied", summary.AlreadyApplied),
				zap.Int("white_delta", summary.White.Delta),
				zap.Int("black_delta", summary.Black.Delta),
			)
		}(ev.GameID)
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		logger.Warn("feed connect failed, relying on reconnect", zap.Error(err))
	}
	cancel()

	admin := httpadmin.New(svc, board, logger)
	go func() {
		logger.Info("admin server listening", zap.String("addr", cfg.AdminAddr))
		if err := admin.ListenAndServe(cfg.AdminAddr); err != nil {
			logger.Error("admin server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = ws.Close(shCtx)
	_ = admin.Shutdown()
	_ = rdb.Close()
	_ = repo.Close()
}
