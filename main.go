package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ward-backend/config"
	"ward-backend/controllers"
	"ward-backend/routes"
	"ward-backend/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := config.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer st.Close()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver))

	var cache services.RoomCache = services.NoopRoomCache{}
	rdb, err := config.ConnectRedis(context.Background(), cfg)
	switch {
	case err != nil:
		logger.Warn("redis unavailable, room cache disabled", zap.Error(err))
	case rdb != nil:
		defer rdb.Close()
		cache = services.NewRedisRoomCache(rdb, cfg.CacheTTL)
		logger.Info("room cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	policy, err := services.NewPolicy(cfg.Authz)
	if err != nil {
		logger.Fatal("invalid authz override", zap.Error(err))
	}
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	hub := services.NewMelodyHub(logger)
	defer hub.Close()

	ledger := services.NewRoomLedger(services.LedgerOptions{
		Store:  st,
		Cache:  cache,
		Policy: policy,
		Logger: logger,
	})
	coordinator := services.NewCoordinator(services.CoordinatorOptions{
		Store:   st,
		Ledger:  ledger,
		Policy:  policy,
		Metrics: metrics,
		Events:  hub,
		Logger:  logger,
	})
	tokens := services.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	auth := services.NewAuthService(services.AuthOptions{
		Store:       st,
		Tokens:      tokens,
		Policy:      policy,
		EmailDomain: cfg.RegisterEmailDomain,
		Logger:      logger,
	})
	if err := auth.EnsureAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Warn("seed admin failed", zap.Error(err))
	}

	reconciler := services.NewReconciler(st, policy, metrics, logger)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		logger.Fatal("invalid RECONCILE_SCHEDULE", zap.Error(err))
	}
	defer reconciler.Stop()

	router := routes.SetupRouter(routes.Deps{
		Rooms: controllers.NewRoomController(controllers.RoomControllerOptions{
			Ledger:      ledger,
			Coordinator: coordinator,
			Reconciler:  reconciler,
			Logger:      logger,
			EmptyIs404:  cfg.RoomsEmpty404,
			Development: cfg.Development(),
		}),
		Patients:    controllers.NewPatientController(coordinator, logger, cfg.Development()),
		Auth:        controllers.NewAuthController(auth, logger, cfg.Development()),
		Tokens:      tokens,
		Hub:         hub,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Ready: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := st.CountUsers(ctx)
			return err
		},
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}
	logger.Info("server stopped gracefully")
}
