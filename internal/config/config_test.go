package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies the documented defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Security.Mode != "strict" {
		t.Errorf("mode = %q, want strict", cfg.Security.Mode)
	}
	if cfg.Executor.MaxWallClock != 30*time.Second {
		t.Errorf("max wall clock = %s", cfg.Executor.MaxWallClock)
	}
	if cfg.Executor.MaxOutputBytes != 1<<20 {
		t.Errorf("max output bytes = %d", cfg.Executor.MaxOutputBytes)
	}
	if cfg.Executor.MaxChildren != 64 {
		t.Errorf("max children = %d", cfg.Executor.MaxChildren)
	}
	if cfg.Playbooks.MaxConcurrent != 16 {
		t.Errorf("max concurrent = %d", cfg.Playbooks.MaxConcurrent)
	}
}

// TestLoad verifies YAML parsing over defaults.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
security:
  mode: permissive
  warn_threshold: high
executor:
  max_wall_clock: 10s
contexts:
  aws:
    - name: prod
      profile: prod-sec
      region: eu-west-1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.Mode != "permissive" || cfg.Security.WarnThreshold != "high" {
		t.Errorf("security = %+v", cfg.Security)
	}
	if cfg.Executor.MaxWallClock != 10*time.Second {
		t.Errorf("max wall clock = %s", cfg.Executor.MaxWallClock)
	}
	// Untouched sections keep defaults.
	if cfg.Executor.MaxOutputBytes != 1<<20 {
		t.Errorf("default lost: %d", cfg.Executor.MaxOutputBytes)
	}
	if len(cfg.Contexts.AWS) != 1 || cfg.Contexts.AWS[0].Profile != "prod-sec" {
		t.Errorf("contexts = %+v", cfg.Contexts.AWS)
	}
}

// TestLoad_MissingFile verifies a readable error for absent files.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

// TestApplyEnv verifies the recognized environment overrides.
func TestApplyEnv(t *testing.T) {
	t.Setenv("SECURITY_MODE", "permissive")
	t.Setenv("MAX_WALL_CLOCK_SECS", "7")
	t.Setenv("MAX_OUTPUT_BYTES", "2048")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Security.Mode != "permissive" {
		t.Errorf("mode = %q", cfg.Security.Mode)
	}
	if cfg.Executor.MaxWallClock != 7*time.Second {
		t.Errorf("max wall clock = %s", cfg.Executor.MaxWallClock)
	}
	if cfg.Executor.MaxOutputBytes != 2048 {
		t.Errorf("max output bytes = %d", cfg.Executor.MaxOutputBytes)
	}
}

// TestApplyEnv_IgnoresInvalid verifies junk values do not clobber defaults.
func TestApplyEnv_IgnoresInvalid(t *testing.T) {
	t.Setenv("MAX_WALL_CLOCK_SECS", "not-a-number")
	t.Setenv("MAX_OUTPUT_BYTES", "-5")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Executor.MaxWallClock != 30*time.Second {
		t.Errorf("max wall clock = %s", cfg.Executor.MaxWallClock)
	}
	if cfg.Executor.MaxOutputBytes != 1<<20 {
		t.Errorf("max output bytes = %d", cfg.Executor.MaxOutputBytes)
	}
}
