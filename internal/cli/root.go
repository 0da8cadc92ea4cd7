// Package cli implements the cloudgate command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/lvonguyen/cloudgate/internal/app"
	"github.com/lvonguyen/cloudgate/internal/config"
)

var (
	configPath string
	provider   string
)

var rootCmd = &cobra.Command{
	Use:   "cloudgate",
	Short: "cloudgate - multi-cloud command gateway and remediation engine",
	Long: `cloudgate mediates every interaction with the AWS, GCP, and Azure CLIs:
it translates natural language into provider commands, validates them against
a risk-tier security policy, executes them as bounded child processes, and
runs approval-gated remediation playbooks with dry-run and rollback.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "aws", "Cloud provider: aws, gcp, or azure")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadApp bootstraps the application for a CLI invocation.
func loadApp() (*app.App, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
		cfg.ApplyEnv()
	}
	// CLI invocations log to the console at warn level unless overridden.
	if configPath == "" {
		cfg.Telemetry.LogFormat = "console"
		cfg.Telemetry.LogLevel = "warn"
		cfg.Telemetry.MetricsEnabled = false
	}
	return app.Bootstrap(cfg, Version)
}
