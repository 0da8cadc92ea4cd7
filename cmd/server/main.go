// Package main provides the entry point for the cloudgate server: the
// multi-cloud command gateway and remediation engine behind an HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/api"
	"github.com/lvonguyen/cloudgate/internal/app"
	"github.com/lvonguyen/cloudgate/internal/config"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cloudgate %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Run on defaults when no config file is present.
		cfg = config.DefaultConfig()
		cfg.ApplyEnv()
	}

	a, err := app.Bootstrap(cfg, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	logger := a.Logger

	logger.Info("starting cloudgate",
		zap.String("version", Version),
		zap.String("config", *configPath),
		zap.String("security_mode", cfg.Security.Mode),
	)

	a.StartGateways()

	var limiter *api.RateLimiter
	if a.Redis != nil {
		limiter = api.NewRateLimiter(a.Redis, api.RateLimitConfig{IncludeHeaders: true}, logger.Named("ratelimit"))
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(api.Options{
			Gateways: a.Gateways,
			Executor: a.Playbooks,
			Library:  a.Library,
			Trail:    a.Trail,
			Metrics:  a.Telemetry.Metrics(),
			Limiter:  limiter,
			Logger:   logger.Named("api"),
			Version:  Version,
		}).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	a.Shutdown(shutdownCtx)
	logger.Info("server stopped")
}
