package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pkthub/database"
	"pkthub/internal/auth"
	"pkthub/internal/config"
	"pkthub/internal/logger"
	"pkthub/internal/microservices/admin"
	"pkthub/internal/microservices/tcp"
	"pkthub/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}

	// Setup structured logging
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("config_invalid", "error", err.Error())
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := database.Connect(cfg, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var background sync.WaitGroup
	logins := repository.NewLoginRecorder(pool, cfg.LoginFlushInterval)
	background.Add(1)
	go func() {
		defer background.Done()
		logins.Run(ctx)
	}()

	// Presence is optional, the protocol works without it
	var sessions tcp.SessionStore
	rdb, err := tcp.NewRedisClient(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		log.Warn("presence_disabled", "error", err.Error())
	} else {
		store := tcp.NewRedisSessionStore(rdb, cfg.SessionTTL)
		defer store.Close()
		sessions = store
	}

	// Metrics
	var metrics *tcp.Metrics
	var metricsHandler http.Handler
	var reg *prometheus.Registry
	if cfg.PrometheusEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = tcp.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Protocol wiring
	accounts := &tcp.Accounts{
		Users:         repository.NewUserRepository(db),
		Verifier:      auth.BcryptVerifier{},
		Sessions:      sessions,
		Logins:        logins,
		LookupTimeout: cfg.LookupTimeout,
		Logger:        log,
	}
	if cfg.TokensEnabled() {
		accounts.Tokens = auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	}

	registry := tcp.NewClientRegistry()
	registry.SetLogger(log)
	dispatcher := tcp.NewDispatcher(registry,
		tcp.WithLogger(log),
		tcp.WithMetrics(metrics),
		tcp.WithRequestTimeout(cfg.RequestTimeout),
	)
	dispatcher.
		RegisterTemplate(tcp.TemplateAuthentication, tcp.NewAuthentication(accounts)).
		RegisterTemplate(tcp.TemplateGetSelfUser, tcp.NewGetSelfInfo(accounts)).
		RegisterTemplate(tcp.TemplateServerNotice, tcp.NewServerNotice(log))
	if accounts.Tokens != nil {
		dispatcher.RegisterTemplate(tcp.TemplateResumeSession, tcp.NewResumeSession(accounts))
	}

	if reg != nil {
		if err := tcp.RegisterStateGauges(reg, registry, dispatcher); err != nil {
			return fmt.Errorf("failed to register gauges: %w", err)
		}
	}

	background.Add(1)
	go func() {
		defer background.Done()
		dispatcher.RunJanitor(ctx, time.Second)
	}()

	server := tcp.NewServer(cfg.TCPAddr(), registry, dispatcher,
		tcp.WithConnectionOptions(tcp.ConnectionOptions{
			MaxFrameSize: cfg.MaxFrameSize,
			ReadTimeout:  cfg.ReadTimeout,
			RateLimit:    rate.Limit(cfg.RateLimit),
			RateBurst:    cfg.RateBurst,
		}),
		tcp.WithSessionStore(sessions),
		tcp.WithShutdownGrace(cfg.ShutdownGrace),
		tcp.WithServerLogger(log),
		tcp.WithServerMetrics(metrics),
	)
	if err := server.Listen(); err != nil {
		return err
	}

	// Admin API
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	var guards []gin.HandlerFunc
	if accounts.Tokens != nil {
		guards = append(guards, admin.AuthMiddleware(accounts.Tokens, accounts.Users), admin.RequireAdmin())
	} else {
		log.Warn("admin_api_unguarded", "reason", "JWT_SECRET not set")
	}
	adminHandler := admin.NewHandler(registry, dispatcher, sessions, server, log)
	adminServer := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.AdminPort),
		Handler:           admin.NewRouter(adminHandler, metricsHandler, guards...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		if err := server.Serve(); err != nil {
			errChan <- err
		}
	}()
	if cfg.AdminPort > 0 {
		go func() {
			log.Info("admin_server_started", "addr", adminServer.Addr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("received_shutdown_signal", "signal", sig.String())
	case runErr = <-errChan:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+10*time.Second)
	defer shutdownCancel()

	server.Stop(shutdownCtx)
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin_shutdown_failed", "error", err.Error())
	}

	// flushes pending last_login writes before the pool closes
	cancel()
	background.Wait()

	log.Info("server_stopped_gracefully")
	return runErr
}
