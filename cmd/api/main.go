package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/nicolasmmb/go-payment-health/internal/broadcast"
	"github.com/nicolasmmb/go-payment-health/internal/config/env"
	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/database"
	"github.com/nicolasmmb/go-payment-health/internal/repository/file"
	"github.com/nicolasmmb/go-payment-health/internal/repository/memory"
	"github.com/nicolasmmb/go-payment-health/internal/repository/postgres"
	"github.com/nicolasmmb/go-payment-health/internal/repository/redis"
	"github.com/nicolasmmb/go-payment-health/internal/router"
	"github.com/nicolasmmb/go-payment-health/internal/security"
	"github.com/nicolasmmb/go-payment-health/internal/service"
	"github.com/nicolasmmb/go-payment-health/internal/worker"
	"github.com/nicolasmmb/go-payment-health/libs"
)

type credentialSource interface {
	core.CredentialStore
	core.MerchantKeyStore
}

type transactionStore interface {
	core.TransactionStore
	core.TransactionLookup
}

func main() {
	if err := env.Load(); err != nil {
		slog.Error("[CF:Main:Load:01] - Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: env.Values.SlogLevel()})))
	env.ShowEnvValues()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("[CF:Main:Run:01] - API stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := env.Values

	rds, err := database.ConnectToRedisClient(ctx, cfg.REDIS_ADDR)
	if err != nil {
		return err
	}
	defer database.CloseRedisClient(rds)

	var db *gorm.DB
	if cfg.NeedsPostgres() {
		db, err = database.ConnectToPostgres(ctx, cfg.DATABASE_URL, cfg.DATABASE_MAX_CONNS)
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)
		if err := database.RunMigrations(ctx, db); err != nil {
			return err
		}
	}

	var store transactionStore
	if cfg.STORE_DRIVER == env.StoreDriverPostgres {
		store = postgres.NewTransactionRepository(db)
	} else {
		store = memory.NewTransactionRepository()
	}

	var creds credentialSource
	if cfg.CREDENTIALS_SOURCE == env.CredentialsSourcePostgres {
		creds = postgres.NewCredentialRepository(db)
	} else {
		fileRepo, err := file.NewCredentialRepository(cfg.CREDENTIALS_FILE)
		if err != nil {
			return err
		}
		stopWatch, err := fileRepo.Watch()
		if err != nil {
			return err
		}
		defer stopWatch()
		creds = fileRepo
	}

	var cache core.ScoreCache
	if cfg.SCORE_CACHE_DRIVER == env.ScoreCacheRedis {
		cache = redis.NewScoreCacheRepository(rds)
	} else {
		cache = memory.NewScoreCacheRepository()
	}

	var wg sync.WaitGroup
	var sink core.Sink
	if cfg.INGEST_MODE == env.IngestModeDirect {
		sink = service.NewStoreSink(store)
	} else {
		stream := redis.NewStreamRepository(rds, cfg.STREAM_NAME, cfg.CONSUMER_GROUP, cfg.DeadLetterStream())
		sink = stream
		if cfg.STORE_DRIVER == env.StoreDriverMemory {
			// A separate worker process cannot reach this store.
			slog.Info("[CF:Main:Run:02] - In-memory store, running stream consumers in-process", "consumers", cfg.CONSUMER_COUNT)
			startConsumers(ctx, &wg, stream, store)
		}
	}

	hub := broadcast.NewHub()
	scoring := service.NewScoringService(store)
	dashboard := service.NewDashboardService(scoring, cache, hub, cfg.ScoreCacheTTL())
	webhook := service.NewWebhookService(security.NewBasicAuthGate(creds), creds, sink)

	bw := worker.NewBroadcastWorker(dashboard, cfg.BroadcastInterval(), cfg.BroadcastWindow())
	wg.Add(1)
	go func() {
		defer wg.Done()
		bw.Run(ctx)
	}()

	handler := router.Routes(&router.Handler{
		Webhook:      webhook,
		Dashboard:    dashboard,
		Transactions: store,
		Live:         hub,
		Ready:        redis.NewHealthCheckRepository(rds),
	})

	server := &http.Server{
		Addr:           cfg.SERVER_ADDR + ":" + fmt.Sprint(cfg.SERVER_PORT),
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 << 10, // 256 KB
	}

	return libs.GracefulShutdown(ctx, server, 10*time.Second,
		func(context.Context) { hub.Close() },
		func(context.Context) { dashboard.Wait() },
		func(context.Context) { wg.Wait() },
	)
}

func startConsumers(ctx context.Context, wg *sync.WaitGroup, stream core.StreamClient, store core.TransactionStore) {
	cfg := env.Values
	for i := 0; i < cfg.CONSUMER_COUNT; i++ {
		id := cfg.CONSUMER_ID
		if cfg.CONSUMER_COUNT > 1 {
			id = fmt.Sprintf("%s-%d", cfg.CONSUMER_ID, i+1)
		}
		w := worker.NewStreamConsumerWorker(stream, store, worker.StreamConsumerConfig{
			ConsumerID:    id,
			BatchSize:     cfg.BATCH_SIZE,
			PollInterval:  cfg.PollInterval(),
			MaxDeliveries: cfg.MAX_DELIVERIES,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
}
