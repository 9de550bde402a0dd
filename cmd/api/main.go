package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servicehours/internal/api"
	"servicehours/internal/auth"
	"servicehours/internal/cloudinary"
	"servicehours/internal/config"
	"servicehours/internal/httpmiddleware"
	"servicehours/internal/identity"
	"servicehours/internal/ledger"
	"servicehours/internal/live"
	"servicehours/internal/logging"
	"servicehours/internal/metrics"
	"servicehours/internal/preferences"
	"servicehours/internal/queue"
	"servicehours/internal/reconcile"
	"servicehours/internal/store"
	"servicehours/internal/students"
	"servicehours/internal/workflow"
)

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := store.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db.Client, logger); err != nil {
		return err
	}

	rdb := store.NewRedis(cfg.Redis)
	defer rdb.Close()

	m := metrics.New()

	// Events reach the local hub directly on a single instance, and through
	// Redis pub/sub when several instances share the queue.
	hub := live.NewHub(cfg.CORS.AllowOrigins, m, logger)
	var notify live.Publisher = hub
	if cfg.Queue.Backend != "memory" {
		notify = live.NewRedisBroadcaster(rdb.Client, live.DefaultChannel)
		relay := live.NewRelay(rdb.Client, live.DefaultChannel, hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live relay stopped", zap.Error(err))
			}
		}()
	}

	q := queue.New(cfg.Queue.Backend, rdb.Client, cfg.Queue.Key)
	jobs := queue.NewScheduler(q)

	catalog := students.Catalog{Classes: cfg.Catalog.Classes, Locations: cfg.Catalog.Locations}
	studentRepo := students.NewRepository(db.Client)
	studentSvc := students.NewService(studentRepo, catalog, cfg.Ledger.RequiredHours, notify, logger)
	if err := studentSvc.SyncRequiredHours(ctx); err != nil {
		return err
	}
	ledgerSvc := ledger.NewService(ledger.NewRepository(db.Client), cfg.Ledger.PageSize, notify, logger)
	prefSvc := preferences.NewService(preferences.NewRepository(db.Client), studentRepo, catalog, logger)
	flow := workflow.NewService(workflow.NewSQLStore(db.Client), notify, jobs, m, logger)
	recon := reconcile.NewService(reconcile.NewSQLStore(db.Client), cfg.Reconcile.AutoRepair, m, logger)

	// Without a shared queue no separate worker can see the jobs.
	if cfg.Queue.Backend == "memory" {
		go func() {
			_ = reconcile.NewWorker(recon, q, cfg.Reconcile.Interval, logger).Run(ctx)
		}()
	}

	policies, err := identity.NewPolicies(cfg.Identity)
	if err != nil {
		return err
	}
	issuer := auth.NewIssuer(cfg.Auth)
	revoked := auth.NewRedisRevocations(rdb.Client)
	gate := identity.NewGate(identity.NewGoogleVerifier(cfg.Identity.GoogleClientIDs), policies, studentSvc, issuer, revoked, logger)

	deps := api.Deps{
		Gate:        gate,
		Students:    studentSvc,
		Ledger:      ledgerSvc,
		Preferences: prefSvc,
		Workflow:    flow,
		Reconcile:   recon,
		Streamer:    hub,
		Sessions:    auth.NewMiddleware(issuer, revoked),
		Roles:       policies,
		Limiter: httpmiddleware.NewRedisWindow(rdb.Client, cfg.RateLimit.PerMin,
			httpmiddleware.NewTokenBucket(cfg.RateLimit.PerMin, cfg.RateLimit.PerMin)),
		Metrics: m,
		Health: map[string]api.HealthCheck{
			"db":    db.Healthy,
			"redis": rdb.Healthy,
		},
		CORS:   cfg.CORS,
		Logger: logger,
	}
	if cdn := cloudinary.New(cfg.Cloudinary); cdn != nil {
		deps.Uploader = cdn
		logger.Info("cloudinary configured", zap.String("cloud", cfg.Cloudinary.CloudName))
	} else {
		logger.Warn("cloudinary not configured, proof uploads disabled")
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// SIGHUP reloads the sign-in policy; SIGINT and SIGTERM stop the server.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s != syscall.SIGHUP {
			break
		}
		if err := policies.Reload(); err != nil {
			logger.Error("policy reload failed, keeping the previous policy", zap.Error(err))
			continue
		}
		logger.Info("policy reloaded")
	}
	logger.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
