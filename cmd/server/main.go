package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/blob"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/cache"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/config"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/courier"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/httpapi"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/jobs"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/lock"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/logger"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/notify"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/payment"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/service"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store/memory"
	pgstore "github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store/postgres"
)

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := config.Load()
	zl, err := logger.New(cfg.LogLevel, cfg.LogEncoding, cfg.Development())
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		zl.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			zl.Fatal("apply schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		zl.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.WarehouseID)
		zl.Info("repository: in-memory")
	}

	var facets cache.FacetCache = cache.NoopFacetCache{}
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Warn("redis unavailable, using noop cache and local locks", zap.Error(err))
			_ = rdb.Close()
		} else {
			facets = cache.NewRedisFacetCache(rdb)
			locker = lock.NewRedis(rdb)
			closers = append(closers, rdb.Close)
			zl.Info("cache: redis")
		}
	}

	var blobs blob.Store = blob.NewMemory()
	if cfg.GCSBucket != "" {
		gcs, err := blob.NewGCS(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON)
		if err != nil {
			zl.Fatal("open invoice bucket", zap.Error(err))
		}
		blobs = gcs
		closers = append(closers, gcs.Close)
	}

	var notifier notify.Notifier = notify.NewLog(zl)
	if cfg.PubSubProjectID != "" {
		ps, err := notify.NewPubSub(ctx, cfg.PubSubProjectID, cfg.PubSubEmailTopic, cfg.GCSCredentialsJSON)
		if err != nil {
			zl.Fatal("open email topic", zap.Error(err))
		}
		notifier = ps
		closers = append(closers, ps.Close)
	}

	var gateway payment.Gateway
	if cfg.RazorpayKeyID != "" {
		gateway = payment.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	} else {
		zl.Warn("RAZORPAY_KEY_ID not set, using the local payment gateway")
		gateway = payment.NewDev(cfg.AuthSecret, nil)
	}

	// no courier integration ships yet; dispatched orders are delivered by hand
	var tracker courier.Tracker = courier.Noop{}

	svc := service.New(service.Deps{
		Repo:           repo,
		Gateway:        gateway,
		Locker:         locker,
		Notifier:       notifier,
		Blob:           blobs,
		Cache:          facets,
		Courier:        tracker,
		Logger:         zl,
		WarehouseID:    cfg.WarehouseID,
		AdminEmail:     cfg.AdminEmail,
		FacetTTL:       cfg.FacetCacheTTL,
		UnpaidOrderTTL: cfg.UnpaidOrderTTL,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, zl)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, zl)

	runCtx, stopJobs := context.WithCancel(context.Background())
	tasks := scheduledTasks(cfg, svc, tracker)
	if len(tasks) < 3 {
		zl.Info("courier-sync disabled: no courier tracker configured")
	}
	scheduler := jobs.NewScheduler(zl, tasks...)
	scheduler.Start(runCtx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("dresscode backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("shutdown error", zap.Error(err))
	}
	stopJobs()
	scheduler.Wait()
	svc.Drain()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zl.Warn("close error", zap.Error(err))
		}
	}

	zl.Info("server stopped")
}

// scheduledTasks lists the periodic jobs. Courier sync only runs against a
// real tracker.
func scheduledTasks(cfg config.Config, svc *service.Service, tracker courier.Tracker) []jobs.Task {
	tasks := []jobs.Task{
		{Name: "expire-coupons", Interval: cfg.CouponSweepInterval, Run: svc.ExpireCoupons},
		{Name: "purge-unpaid-orders", Interval: cfg.OrderPurgeInterval, Run: svc.PurgeStaleOrders},
	}
	if _, noop := tracker.(courier.Noop); noop {
		return tasks
	}
	return append(tasks, jobs.Task{Name: "courier-sync", Interval: cfg.CourierSyncInterval, Run: svc.SyncCourier})
}

func validateSecurityConfig(cfg config.Config) error {
	if !cfg.Development() && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret == "" {
		return fmt.Errorf("RAZORPAY_KEY_SECRET is required when RAZORPAY_KEY_ID is set")
	}
	if !cfg.Development() && cfg.RazorpayKeyID == "" {
		return fmt.Errorf("RAZORPAY_KEY_ID is required outside development")
	}
	return nil
}
