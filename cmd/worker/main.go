package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nicolasmmb/go-payment-health/internal/config/env"
	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/database"
	"github.com/nicolasmmb/go-payment-health/internal/repository/memory"
	"github.com/nicolasmmb/go-payment-health/internal/repository/postgres"
	"github.com/nicolasmmb/go-payment-health/internal/repository/redis"
	"github.com/nicolasmmb/go-payment-health/internal/worker"
)

func main() {
	if err := env.Load(); err != nil {
		slog.Error("[CF:Worker:Load:01] - Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: env.Values.SlogLevel()})))
	env.ShowEnvValues()

	cfg := env.Values
	if cfg.INGEST_MODE == env.IngestModeDirect {
		slog.Info("[CF:Worker:Main:01] - INGEST_MODE is direct, the receiver persists; nothing to consume")
		return
	}
	if cfg.STORE_DRIVER == env.StoreDriverMemory {
		slog.Warn("[CF:Worker:Main:02] - In-memory store in a standalone worker; rows are not visible to the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("[CF:Worker:Run:01] - Worker stopped with error", "error", err)
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

	var store core.TransactionStore
	if cfg.STORE_DRIVER == env.StoreDriverPostgres {
		db, err := database.ConnectToPostgres(ctx, cfg.DATABASE_URL, cfg.DATABASE_MAX_CONNS)
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)
		if err := database.RunMigrations(ctx, db); err != nil {
			return err
		}
		store = postgres.NewTransactionRepository(db)
	} else {
		store = memory.NewTransactionRepository()
	}

	stream := redis.NewStreamRepository(rds, cfg.STREAM_NAME, cfg.CONSUMER_GROUP, cfg.DeadLetterStream())

	var wg sync.WaitGroup
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

	slog.Info("[WK:Main:Run:01] - Stream consumers started", "stream", cfg.STREAM_NAME, "group", cfg.CONSUMER_GROUP, "consumers", cfg.CONSUMER_COUNT)
	<-ctx.Done()
	wg.Wait()
	slog.Info("[WK:Main:Run:02] - Stream consumers stopped")
	return nil
}
