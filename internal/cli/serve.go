package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/api"
	"github.com/lvonguyen/cloudgate/internal/app"
	"github.com/lvonguyen/cloudgate/internal/config"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cloudgate HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			cfg *config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.DefaultConfig()
			cfg.ApplyEnv()
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		a, err := app.Bootstrap(cfg, Version)
		if err != nil {
			return err
		}
		logger := a.Logger

		logger.Info("starting cloudgate",
			zap.String("version", Version),
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

		errChan := make(chan error, 1)
		go func() {
			logger.Info("server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		select {
		case err := <-errChan:
			a.Shutdown(context.Background())
			return err
		case sig := <-sigChan:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		a.Shutdown(shutdownCtx)
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
