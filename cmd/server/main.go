package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/robinclaw/robinclaw/internal/app"
	"github.com/robinclaw/robinclaw/internal/metrics"
	"github.com/robinclaw/robinclaw/internal/server"
	"github.com/robinclaw/robinclaw/pkg/config"
	"github.com/robinclaw/robinclaw/pkg/logger"
	"github.com/robinclaw/robinclaw/pkg/sdk/websocket"
	"github.com/robinclaw/robinclaw/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("ROBINCLAW_CONFIG"), "YAML/JSON config file (optional)")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("invalid config: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		logger.Errorf("init logger: %v", err)
		os.Exit(1)
	}

	a, err := app.Open(cfg)
	if err != nil {
		logger.Errorf("init failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.FillSyncInterval > 0 {
		a.Manager.StartBackground(cfg.FillSyncInterval)
	}

	var mids *websocket.MidsClient
	if cfg.Exchange.EnableMidsFeed {
		mids = websocket.NewMidsClient(websocket.DefaultConfig(cfg.Exchange.WSURL), func(map[string]string) {
			metrics.MidsFeedMessages.Add(1)
		})
		if err := mids.Start(ctx); err != nil {
			logger.Warnf("mids feed disabled: %v", err)
			mids = nil
		}
	}

	if cfg.MetricsListen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsListen); err != nil {
			logger.Warnf("metrics server not started: %v", err)
		} else {
			logger.Infof("metrics listening on %s", cfg.MetricsListen)
		}
	}

	srvCfg := server.Config{
		Manager:         a.Manager,
		Market:          a.Client,
		AdminToken:      cfg.AdminToken,
		RateLimitPerSec: cfg.RateLimitPerSec,
		PublicBaseURL:   cfg.PublicBaseURL,
		TrustedProxies:  cfg.TrustedProxies,
	}
	if mids != nil {
		srvCfg.Mids = mids
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		logger.Errorf("init server failed: %v", err)
		a.Close()
		os.Exit(1)
	}
	if cfg.AdminToken == "" {
		logger.Warn("ROBINCLAW_ADMIN_TOKEN not set: admin API disabled")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("robinclaw listening on %s (exchange=%s testnet=%v)", cfg.Listen, cfg.Exchange.BaseURL, cfg.Exchange.Testnet)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server error: %v", err)
			cancel()
		}
	}()

	sm := shutdown.NewManager()
	sm.OnShutdownNamed("http", func(ctx context.Context, _ *sync.WaitGroup) {
		_ = httpSrv.Shutdown(ctx)
		srv.Close()
	})
	sm.OnShutdownNamed("mids", func(context.Context, *sync.WaitGroup) {
		if mids != nil {
			mids.Stop()
		}
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-stopCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sm.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	cancel()
	// Background jobs and in-flight closures finish before the ledger closes.
	a.Close()
	logger.Info("server stopped")
}
