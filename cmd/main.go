package main

import (
	"RetinaTrack/cache"
	"RetinaTrack/clients"
	"RetinaTrack/config"
	"RetinaTrack/controllers"
	"RetinaTrack/database"
	"RetinaTrack/routes"
	"RetinaTrack/storage"
	"RetinaTrack/utils"
	"RetinaTrack/workers"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, cfg.Database, cfg.IsDevelopment(), log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}

	appCache, redisClient, err := initCache(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize cache")
	}

	store, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize blob store")
	}

	tokens, err := utils.NewTokenService(cfg.Auth)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize token service")
	}

	segmenter := clients.NewSegmentationClient(cfg.Segmentation, log)
	deps := routes.Dependencies{
		Config:    cfg,
		DB:        db,
		Cache:     appCache,
		Store:     store,
		Segmenter: segmenter,
		Mailer:    utils.NewMailer(cfg.SMTP, log),
		Tokens:    tokens,
		Log:       log,
		Health: map[string]controllers.HealthReporter{
			"segmentation": segmenter.BreakerState,
		},
	}
	svc := routes.BuildServices(deps)

	if err := svc.Users.EnsureBootstrapAdmin(ctx, cfg.Auth); err != nil {
		log.WithError(err).Fatal("failed to ensure bootstrap admin")
	}

	var wg sync.WaitGroup

	var reconciler *workers.Reconciler
	if cfg.Reconciler.Enabled {
		reconcilerCfg := workers.DefaultReconcilerConfig
		reconcilerCfg.Interval = cfg.Reconciler.Interval
		reconciler = workers.NewReconciler(svc.Provenance, deps.Mailer, appCache, reconcilerCfg, log)
		reconciler.Start(ctx)
	}

	if redisClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitorRedis(ctx, redisClient, log)
		}()
	}

	srv := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        routes.SetupRoutes(deps, svc),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
		IdleTimeout:    cfg.Server.IdleTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", cfg.Server.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	if reconciler != nil {
		reconciler.Stop()
	}

	wg.Wait()
	if redisClient != nil {
		redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("server exited gracefully")
}

// initCache connects to Redis when configured and otherwise falls back to
// the in-process cache.
func initCache(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger) (cache.Cache, *redis.Client, error) {
	if cfg.Redis.URL == "" {
		log.Warn("redis.url not set, using in-process cache; locks are not shared between instances")
		c, err := cache.NewMemoryCache(0)
		return c, nil, err
	}
	client, err := database.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	c, err := cache.NewRedisCache(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, client, nil
}

func monitorRedis(ctx context.Context, client *redis.Client, log *logrus.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			database.MonitorRedisPool(client, log)
		case <-ctx.Done():
			return
		}
	}
}
