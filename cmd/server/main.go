package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/api"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/cache"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/gateway"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/platform"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/sync"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/upstream"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS edge agent")

	// Init Local Store
	localStore, err := store.NewSQLiteStore(cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to init local store", zap.Error(err))
	}
	defer localStore.Close()

	// Init Auth Gateway
	session := gateway.NewSessionManager(localStore)
	session.Restore(context.Background())
	gw := gateway.New(cfg.Upstream, session, gateway.Callbacks{
		OnLogout: func() {
			logger.Log.Warn("Session expired, re-login required")
		},
		OnSubscriptionExpired: func() {
			logger.Log.Warn("Subscription expired")
		},
	})

	upstreamClient := upstream.NewClient(gw)
	scope := upstream.Scope{
		CompanyID: cfg.Identity.CompanyID,
		BranchID:  cfg.Identity.BranchID,
	}

	// Init Connectivity Monitor
	monitor := platform.NewMonitor(cfg.Upstream.BaseURL+cfg.Upstream.HealthPath, cfg.Sync.GetProbeInterval())
	gw.ObserveConnectivity(monitor)
	monitor.Start()
	defer monitor.Stop()

	// Init Cache + Sync
	snapshots := cache.New(localStore)
	prefetcher := sync.NewPrefetcher(upstreamClient, snapshots)
	manager := sync.NewManager(localStore, upstreamClient, monitor)
	manager.Start()
	defer manager.Stop()

	scheduler := sync.NewScheduler(cfg.Scheduler, manager, prefetcher, scope)
	scheduler.Start()
	defer scheduler.Stop()

	// Warm the cache in the background so startup never blocks on the network.
	go func() {
		summary := prefetcher.Refresh(context.Background(), sync.PrefetchOptions{Scope: scope})
		logger.Log.Info("Startup prefetch finished",
			zap.Bool("offlineReady", summary.OfflineReady()),
			zap.Bool("hasErrors", summary.HasErrors),
		)
	}()

	// Init API
	handler := api.NewHandler(cfg.Server, manager, prefetcher, snapshots, upstreamClient, gw, monitor, scope)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
