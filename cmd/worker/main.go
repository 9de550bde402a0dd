package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"servicehours/internal/config"
	"servicehours/internal/logging"
	"servicehours/internal/queue"
	"servicehours/internal/reconcile"
	"servicehours/internal/store"
)

// Worker consumes reconcile jobs queued by the API and sweeps every student's
// total against the ledger on a timer.
func main() {
	cfg, err := config.Load(os.Getenv("HOURS_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.Queue.Backend == "memory" {
		logger.Warn("queue backend is memory; jobs are handled inside the API process, only sweeping here")
	}
	rdb := store.NewRedis(cfg.Redis)
	defer rdb.Close()
	q := queue.New(cfg.Queue.Backend, rdb.Client, cfg.Queue.Key)

	svc := reconcile.NewService(reconcile.NewSQLStore(db.Client), cfg.Reconcile.AutoRepair, nil, logger)

	// Check once at startup so drift left by an outage shows up immediately.
	if res, err := svc.Sweep(ctx, cfg.Reconcile.AutoRepair); err != nil {
		logger.Error("startup sweep failed", zap.Error(err))
	} else {
		logger.Info("startup sweep done", zap.Int("checked", res.Checked), zap.Int("inconsistent", len(res.Inconsistent)))
	}

	err = reconcile.NewWorker(svc, q, cfg.Reconcile.Interval, logger).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}
