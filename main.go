package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/yeremiapane/settlement-engine/config"
	"github.com/yeremiapane/settlement-engine/database"
	"github.com/yeremiapane/settlement-engine/gateway"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/monitoring"
	"github.com/yeremiapane/settlement-engine/router"
	"github.com/yeremiapane/settlement-engine/search"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.ErrorLogger.Fatalf("Invalid configuration: %v", err)
	}
	utils.SetFormat(cfg.LogFormat)
	utils.SetLevel(cfg.LogLevel)
	utils.SetJWTSecret(cfg.JWTSecret)
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	if err := database.SeedSchedules(db); err != nil {
		utils.ErrorLogger.Fatalf("Failed to seed schedules: %v", err)
	}

	var index search.Index = search.Disabled{}
	if cfg.SearchEnabled {
		es, err := search.NewElasticIndex(search.ElasticConfig{
			Addresses: cfg.ElasticsearchURLs,
			Username:  cfg.ElasticsearchUsername,
			Password:  cfg.ElasticsearchPassword,
			IndexName: cfg.SearchIndex,
		})
		if err != nil {
			utils.ErrorLogger.Fatalf("Failed to create search client: %v", err)
		}
		index = es
		utils.InfoLogger.Printf("Search indexing enabled on %v", cfg.ElasticsearchURLs)
	} else {
		utils.InfoLogger.Println("Search indexing disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)
	feed := hub.New()

	queue := services.NewIndexQueueService(db, index, metrics, feed, services.IndexQueueConfig{
		PageSize:         cfg.IndexPageSize,
		ProcessInterval:  cfg.IndexQueueInterval,
		RecoveryInterval: cfg.IndexRecoveryInterval,
		CleanupInterval:  cfg.IndexCleanupInterval,
		Retention:        services.DefaultIndexQueueConfig().Retention,
		StuckAfter:       services.DefaultIndexQueueConfig().StuckAfter,
	})

	var confirmer gateway.Confirmer
	toss := gateway.NewClient(gateway.Config{SecretKey: cfg.TossSecretKey, APIURL: cfg.TossAPIURL})
	if err := toss.ValidateConfig(); err != nil {
		utils.ErrorLogger.Printf("Gateway confirmation disabled: %v", err)
	} else {
		confirmer = toss
	}

	var lock services.JobLock = services.LocalJobLock{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		lock = services.NewRedisJobLock(rdb)
		utils.InfoLogger.Printf("Batch jobs lock through redis at %s", cfg.RedisAddr)
	}

	batch := services.NewSettlementBatchService(db, queue, feed, metrics, cfg.SettlementChunkSize)
	scheduler := services.NewDynamicScheduler(db, lock, metrics, services.SchedulerConfig{
		PoolSize:       cfg.SchedulerPoolSize,
		ReloadInterval: cfg.ScheduleReloadInterval,
		JobTimeout:     cfg.JobTimeout,
	})
	scheduler.RegisterBatchJobs(batch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(ctx); err != nil {
		utils.ErrorLogger.Fatalf("Failed to start scheduler: %v", err)
	}
	go queue.Run(ctx)

	r := router.SetupRouter(router.Dependencies{
		Orders:      services.NewOrderService(db),
		Payments:    services.NewPaymentService(db, confirmer),
		Refunds:     services.NewRefundService(db, queue, feed, metrics),
		Settlements: services.NewSettlementService(db, queue),
		Batch:       batch,
		Schedules:   services.NewScheduleConfigService(db, scheduler),
		Scheduler:   scheduler,
		Queue:       queue,
		Hub:         feed,
		Gatherer:    reg,
		CORSOrigin:  cfg.CORSOrigin,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Printf("HTTP shutdown: %v", err)
	}
	scheduler.Stop()
}
