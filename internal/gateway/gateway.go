// Package gateway provides the per-provider façade that normalizes natural
// language, policy validation, pipeline parsing, and child-process execution
// behind one contract.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/audit"
	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/cmdline"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/nl"
	"github.com/lvonguyen/cloudgate/internal/policy"
)

// Common errors.
var (
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrBinaryNotInstalled = errors.New("provider binary not installed")
	ErrNotRunning         = errors.New("gateway is not running")
)

// ContextInfo identifies the cloud context commands run against. Only the
// fields relevant to the gateway's provider are used.
type ContextInfo struct {
	Name string `yaml:"name" json:"name"`

	// AWS
	Profile string `yaml:"profile,omitempty" json:"profile,omitempty"`
	Region  string `yaml:"region,omitempty" json:"region,omitempty"`

	// Azure
	SubscriptionID string `yaml:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	TenantID       string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`

	// GCP
	ProjectID string `yaml:"project_id,omitempty" json:"project_id,omitempty"`
}

// Gateway is one provider's façade. A Gateway is safe for concurrent use by
// multiple callers; its dictionaries and policy tables are read-only and its
// mutable lifecycle state is mutex-guarded.
type Gateway struct {
	provider *cloud.Provider
	policy   *policy.Engine
	interp   *nl.Interpreter
	exec     *executor.Executor
	trail    *audit.Trail
	logger   *zap.Logger

	mu       sync.RWMutex
	running  bool
	binPath  string
	current  ContextInfo
	contexts []ContextInfo
}

// New constructs a gateway for a provider kind. The known contexts are the
// configured contexts callers may start against; the first becomes the
// default when Start receives a zero context.
func New(kind cloud.Kind, pol *policy.Engine, exe *executor.Executor, trail *audit.Trail, contexts []ContextInfo, logger *zap.Logger) (*Gateway, error) {
	provider, ok := cloud.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = audit.NewTrail(0, logger)
	}
	return &Gateway{
		provider: provider,
		policy:   pol,
		interp:   nl.NewInterpreter(provider),
		exec:     exe,
		trail:    trail,
		logger:   logger.With(zap.String("provider", string(kind))),
		contexts: contexts,
	}, nil
}

// Kind returns the gateway's provider kind.
func (g *Gateway) Kind() cloud.Kind { return g.provider.Kind }

// Start verifies the provider binary is installed and records the desired
// context. Starting an already-running gateway just replaces the context.
func (g *Gateway) Start(info ContextInfo) error {
	path, err := exec.LookPath(g.provider.Binaries[0])
	if err != nil {
		return fmt.Errorf("%w: %s (%s)", ErrBinaryNotInstalled, g.provider.Binaries[0], g.provider.LoginHint)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if info == (ContextInfo{}) && len(g.contexts) > 0 {
		info = g.contexts[0]
	}
	g.binPath = path
	g.current = info
	g.running = true

	g.logger.Info("gateway started",
		zap.String("binary", path),
		zap.String("context", info.Name),
	)
	return nil
}

// Stop releases the gateway. Idempotent; outstanding executions started via
// ExecuteCommand are self-contained and unaffected.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.running = false
		g.logger.Info("gateway stopped")
	}
}

// IsRunning reports whether Start has succeeded and Stop has not been called.
func (g *Gateway) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// BinaryPath returns the resolved provider binary path, empty before Start.
func (g *Gateway) BinaryPath() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.binPath
}

// CurrentContext returns the context commands currently run against.
func (g *Gateway) CurrentContext() ContextInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// ListContexts returns the configured contexts for this provider.
func (g *Gateway) ListContexts() []ContextInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ContextInfo, len(g.contexts))
	copy(out, g.contexts)
	return out
}

// ExecuteCommand runs user text through interpretation, parsing, policy, and
// execution. Expected failures come back on the Result; the error return is
// reserved for lifecycle misuse.
func (g *Gateway) ExecuteCommand(ctx context.Context, text string) (executor.Result, error) {
	g.mu.RLock()
	running := g.running
	current := g.current
	g.mu.RUnlock()
	if !running {
		return executor.Result{}, ErrNotRunning
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return executor.Validation("empty command"), nil
	}

	// Prefix match takes precedence: text that already names the provider
	// binary is never rewritten, malformed or not.
	first := strings.Fields(text)[0]
	if !g.provider.HasPrefix(first) {
		command, err := g.interp.Interpret(text)
		if err != nil {
			g.trail.Record("gateway", "interpret_failed", text)
			return executor.Validation(fmt.Sprintf("cannot interpret %q as a %s command", text, g.provider.Kind)), nil
		}
		g.logger.Debug("interpreted natural language",
			zap.String("input", text),
			zap.String("command", command),
		)
		text = command
	}

	stages, err := cmdline.Parse(text)
	if err != nil {
		g.trail.Record("gateway", "parse_rejected", fmt.Sprintf("%s: %v", text, err))
		return executor.Validation(err.Error()), nil
	}
	if err := cmdline.Validate(g.provider, stages); err != nil {
		g.trail.Record("gateway", "pipeline_rejected", fmt.Sprintf("%s: %v", text, err))
		return executor.Validation(err.Error()), nil
	}

	classification, verdict := g.policy.Validate(g.provider, stages[0].Argv)
	if !verdict.Allowed {
		g.trail.Record("gateway", "policy_denied",
			fmt.Sprintf("%s (tier=%s category=%s)", text, classification.Tier, verdict.Category))
		return executor.Validation(verdict.Reason), nil
	}

	argvs := make([][]string, len(stages))
	for i, st := range stages {
		argvs[i] = st.Argv
	}
	var env []string
	argvs[0], env = g.injectContext(argvs[0], current)

	result := g.exec.Execute(ctx, executor.Request{
		Stages:   argvs,
		Env:      env,
		Provider: g.provider,
	})
	result.Warning = verdict.Warning

	g.trail.Record("gateway", "command_executed",
		fmt.Sprintf("%s (status=%s tier=%s)", text, result.Status, classification.Tier))
	return result, nil
}

// injectContext adds context flags and environment entries to the provider
// stage unless the user already supplied the equivalent flag.
func (g *Gateway) injectContext(argv []string, info ContextInfo) ([]string, []string) {
	var env []string

	switch g.provider.Kind {
	case cloud.KindAWS:
		if info.Profile != "" && !hasFlag(argv, "--profile") {
			argv = append(argv, "--profile", info.Profile)
			env = append(env, "AWS_PROFILE="+info.Profile)
		}
		if info.Region != "" && !hasFlag(argv, "--region") {
			env = append(env, "AWS_DEFAULT_REGION="+info.Region)
		}
	case cloud.KindAzure:
		if info.SubscriptionID != "" && !hasFlag(argv, "--subscription") {
			argv = append(argv, "--subscription", info.SubscriptionID)
			env = append(env, "AZURE_SUBSCRIPTION_ID="+info.SubscriptionID)
		}
		if info.TenantID != "" {
			env = append(env, "AZURE_TENANT_ID="+info.TenantID)
		}
	case cloud.KindGCP:
		if info.ProjectID != "" && !hasFlag(argv, "--project") {
			env = append(env,
				"GOOGLE_CLOUD_PROJECT="+info.ProjectID,
				"CLOUDSDK_CORE_PROJECT="+info.ProjectID,
			)
		}
	}
	return argv, env
}

func hasFlag(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}
