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

	"github.com/foliotrack/internal/config"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/handler"
	"github.com/foliotrack/internal/logging"
	"github.com/foliotrack/internal/metrics"
	"github.com/foliotrack/internal/router"
	"github.com/foliotrack/internal/visit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(cfg.GinMode)

	if cfg.InsecureSessionSecret() {
		logger.Warn("SESSION_SECRET is not set, admin cookies are signed with the development default")
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := db.EnsureUser(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		logger.Fatal("failed to ensure admin user", zap.Error(err))
	}

	var locator visit.GeoLocator
	if cfg.GeoIPDatabasePath != "" {
		mm, err := visit.OpenMaxMind(cfg.GeoIPDatabasePath)
		if err != nil {
			logger.Warn("geoip database unavailable, relying on edge headers", zap.Error(err))
		} else {
			defer mm.Close()
			locator = mm
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New()
	if err := collector.Register(registry); err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	api := handler.NewAPI(db.DB, handler.Options{
		SessionCap:       cfg.SessionCap,
		RequestLogCap:    cfg.RequestLogCap,
		InactivityWindow: cfg.InactivityWindow,
		Locator:          locator,
		Metrics:          collector,
		Logger:           logger,
		SiteBaseURL:      cfg.SiteBaseURL,
	})

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, router.Options{
		SessionSecret: cfg.SessionSecret,
		StaticDir:     cfg.StaticDir,
		Logger:        logging.WithComponent(logger, "http"),
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
