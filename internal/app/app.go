// Package app assembles the cloudgate components from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/audit"
	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/config"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/gateway"
	"github.com/lvonguyen/cloudgate/internal/history"
	"github.com/lvonguyen/cloudgate/internal/observability"
	"github.com/lvonguyen/cloudgate/internal/playbook"
	"github.com/lvonguyen/cloudgate/internal/policy"
)

// App holds the wired cloudgate components.
type App struct {
	Config    *config.Config
	Telemetry *observability.Telemetry
	Logger    *zap.Logger
	Trail     *audit.Trail
	Executor  *executor.Executor
	Policy    *policy.Engine
	Gateways  map[cloud.Kind]*gateway.Gateway
	Playbooks *playbook.Executor
	Library   *playbook.Library
	Redis     *redis.Client
}

// Bootstrap builds every component from configuration. Gateways are
// constructed but not started; call StartGateways.
func Bootstrap(cfg *config.Config, version string) (*App, error) {
	tel, err := observability.New(observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		LogLevel:       cfg.Telemetry.LogLevel,
		LogFormat:      cfg.Telemetry.LogFormat,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	logger := tel.Logger()

	trail := audit.NewTrail(cfg.Audit.MaxEntries, logger.Named("audit"))

	warnTier, ok := policy.ParseTier(cfg.Security.WarnThreshold)
	if !ok {
		warnTier = policy.TierMedium
	}
	pol := policy.NewEngine(policy.ParseMode(cfg.Security.Mode), warnTier, logger.Named("policy"))

	exe := executor.New(executor.Options{
		MaxWallClock:   cfg.Executor.MaxWallClock,
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		MaxChildren:    cfg.Executor.MaxChildren,
	}, logger.Named("executor"))

	gateways := make(map[cloud.Kind]*gateway.Gateway)
	for kind, contexts := range map[cloud.Kind][]gateway.ContextInfo{
		cloud.KindAWS:   cfg.Contexts.AWS,
		cloud.KindAzure: cfg.Contexts.Azure,
		cloud.KindGCP:   cfg.Contexts.GCP,
	} {
		gw, err := gateway.New(kind, pol, exe, trail, contexts, logger.Named("gateway"))
		if err != nil {
			return nil, err
		}
		gateways[kind] = gw
	}

	var (
		redisClient *redis.Client
		store       playbook.Store
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.RedisPassword(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		store = history.NewRedisStore(redisClient, cfg.Redis.HistoryTTL, logger.Named("history"))
	}

	registry := playbook.NewBuiltinRegistry(gateways, exe, pol, logger.Named("handlers"))
	pbExec := playbook.NewExecutor(registry, store, trail, playbook.ExecutorOptions{
		MaxConcurrent:           cfg.Playbooks.MaxConcurrent,
		RequireDistinctApprover: cfg.Security.RequireDistinctApprover,
	}, logger.Named("playbooks"))

	library := playbook.NewLibrary(logger.Named("library"))
	if cfg.Playbooks.Dir != "" {
		if err := loadPlaybookDir(library, cfg.Playbooks.Dir); err != nil {
			logger.Warn("failed to load custom playbooks", zap.Error(err))
		}
	}

	return &App{
		Config:    cfg,
		Telemetry: tel,
		Logger:    logger,
		Trail:     trail,
		Executor:  exe,
		Policy:    pol,
		Gateways:  gateways,
		Playbooks: pbExec,
		Library:   library,
		Redis:     redisClient,
	}, nil
}

// StartGateways starts every gateway whose provider binary is installed.
// A missing binary degrades that provider instead of failing startup.
func (a *App) StartGateways() {
	for kind, gw := range a.Gateways {
		if err := gw.Start(gateway.ContextInfo{}); err != nil {
			a.Logger.Warn("gateway unavailable",
				zap.String("provider", string(kind)),
				zap.Error(err),
			)
		}
	}
}

// Shutdown stops gateways and flushes telemetry.
func (a *App) Shutdown(ctx context.Context) {
	for _, gw := range a.Gateways {
		gw.Stop()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.Telemetry.Shutdown(ctx)
}

func loadPlaybookDir(library *playbook.Library, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := library.Load(data); err != nil {
			return fmt.Errorf("loading %s: %w", entry.Name(), err)
		}
	}
	return nil
}
