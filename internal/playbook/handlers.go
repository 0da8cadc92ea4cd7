package playbook

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/cmdline"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/gateway"
	"github.com/lvonguyen/cloudgate/internal/policy"
)

// outputPreview bounds how much command output lands in an action message.
const outputPreview = 512

// NewBuiltinRegistry creates a registry with the built-in action kinds bound:
// aws/gcp/azure route commands through the matching provider gateway,
// notification records the intended message without external effects, and
// script runs a bounded, policy-checked command through the process executor.
func NewBuiltinRegistry(gateways map[cloud.Kind]*gateway.Gateway, exe *executor.Executor, pol *policy.Engine, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry()

	for kind, name := range map[cloud.Kind]string{
		cloud.KindAWS:   KindActionAWS,
		cloud.KindGCP:   KindActionGCP,
		cloud.KindAzure: KindActionAzure,
	} {
		reg.Register(name, providerHandler(kind, gateways, logger))
		reg.RegisterRollback(name, providerRollback(kind, gateways))
	}

	reg.Register(KindActionNotification, notificationHandler(logger))
	reg.Register(KindActionScript, scriptHandler(gateways, exe, pol))

	reg.RegisterPrereq(PrereqFindingHasResource, func(_ context.Context, f Finding) error {
		if strings.TrimSpace(f.Resource) == "" {
			return fmt.Errorf("finding %s names no resource", f.ID)
		}
		return nil
	})
	return reg
}

// providerHandler composes a command from the action params and routes it
// through the provider gateway. On success with a rollback_command param, the
// rendered rollback command becomes the action's rollback token.
func providerHandler(kind cloud.Kind, gateways map[cloud.Kind]*gateway.Gateway, logger *zap.Logger) Handler {
	return func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		command := renderParam(action, "command", hc.Finding)
		if command == "" {
			return ActionResult{Status: ActionFailed, Error: "action has no command parameter"}
		}

		if dryRun {
			return ActionResult{
				Status:  ActionCompleted,
				Message: fmt.Sprintf("[DRY-RUN] would execute: %s", command),
			}
		}

		gw := gateways[kind]
		if gw == nil {
			return ActionResult{Status: ActionFailed, Error: fmt.Sprintf("no %s gateway configured", kind)}
		}
		result, err := gw.ExecuteCommand(ctx, command)
		if err != nil {
			return ActionResult{Status: ActionFailed, Error: err.Error()}
		}
		if result.Status != executor.StatusSuccess {
			return ActionResult{
				Status: ActionFailed,
				Error:  fmt.Sprintf("%s: %s", result.ErrorKind, result.Output),
			}
		}

		logger.Info("remediation command executed",
			zap.String("provider", string(kind)),
			zap.String("execution_id", hc.ExecutionID),
			zap.String("action", action.Name),
		)
		return ActionResult{
			Status:        ActionCompleted,
			Message:       preview(result.Output),
			RollbackToken: renderParam(action, "rollback_command", hc.Finding),
		}
	}
}

// providerRollback executes the recorded rollback command through the
// provider gateway.
func providerRollback(kind cloud.Kind, gateways map[cloud.Kind]*gateway.Gateway) RollbackHandler {
	return func(ctx context.Context, action Action, token string, hc HandlerContext) error {
		gw := gateways[kind]
		if gw == nil {
			return fmt.Errorf("no %s gateway configured", kind)
		}
		result, err := gw.ExecuteCommand(ctx, token)
		if err != nil {
			return err
		}
		if result.Status != executor.StatusSuccess {
			return fmt.Errorf("rollback command failed (%s): %s", result.ErrorKind, result.Output)
		}
		return nil
	}
}

// notificationHandler records the intended message. It never mutates
// external state; delivery is a collaborator's concern.
func notificationHandler(logger *zap.Logger) Handler {
	return func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		message := renderParam(action, "message", hc.Finding)
		if message == "" {
			message = fmt.Sprintf("remediation %s ran for finding %s", hc.ExecutionID, hc.Finding.ID)
		}
		channel := paramString(action, "channel")

		if dryRun {
			return ActionResult{
				Status:  ActionCompleted,
				Message: fmt.Sprintf("[DRY-RUN] would notify %s: %s", channel, message),
			}
		}
		logger.Info("notification recorded",
			zap.String("execution_id", hc.ExecutionID),
			zap.String("channel", channel),
			zap.String("message", message),
		)
		return ActionResult{
			Status:  ActionCompleted,
			Message: fmt.Sprintf("notification recorded for %s: %s", channel, message),
		}
	}
}

// scriptHandler runs a bounded command via the process executor. Every
// script is tokenized and policy-checked before it executes: commands naming
// a provider binary go through that gateway, and anything else must carry a
// provider param that binds it to a policy table. Scripts with no
// enforceable binding are refused.
func scriptHandler(gateways map[cloud.Kind]*gateway.Gateway, exe *executor.Executor, pol *policy.Engine) Handler {
	return func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		command := renderParam(action, "command", hc.Finding)
		if command == "" {
			return ActionResult{Status: ActionFailed, Error: "action has no command parameter"}
		}

		if dryRun {
			return ActionResult{
				Status:  ActionCompleted,
				Message: fmt.Sprintf("[DRY-RUN] would run script: %s", command),
			}
		}

		stages, err := cmdline.Parse(command)
		if err != nil {
			return ActionResult{Status: ActionFailed, Error: err.Error()}
		}
		if len(stages) != 1 {
			return ActionResult{Status: ActionFailed, Error: "script actions cannot use pipelines"}
		}
		argv := stages[0].Argv

		// Provider CLI commands route through the gateway so the full
		// policy and context-injection path applies.
		for kind, gw := range gateways {
			if p, ok := cloud.Lookup(kind); ok && p.HasPrefix(argv[0]) && gw != nil {
				result, err := gw.ExecuteCommand(ctx, command)
				if err != nil {
					return ActionResult{Status: ActionFailed, Error: err.Error()}
				}
				if result.Status != executor.StatusSuccess {
					return ActionResult{Status: ActionFailed, Error: result.Output}
				}
				return ActionResult{Status: ActionCompleted, Message: preview(result.Output)}
			}
		}

		// Everything else needs an explicit policy binding.
		kind, ok := cloud.ParseKind(paramString(action, "provider"))
		if !ok {
			return ActionResult{
				Status: ActionFailed,
				Error:  "script action has no enforceable policy binding: set a provider param or use a provider CLI command",
			}
		}
		provider, ok := cloud.Lookup(kind)
		if !ok {
			return ActionResult{Status: ActionFailed, Error: fmt.Sprintf("unknown provider %q", kind)}
		}
		_, verdict := pol.Validate(provider, argv)
		if !verdict.Allowed {
			return ActionResult{Status: ActionFailed, Error: verdict.Reason}
		}

		result := exe.Execute(ctx, executor.Request{Stages: [][]string{argv}})
		if result.Status != executor.StatusSuccess {
			return ActionResult{
				Status: ActionFailed,
				Error:  fmt.Sprintf("%s: %s", result.ErrorKind, result.Output),
			}
		}
		ar := ActionResult{Status: ActionCompleted, Message: preview(result.Output)}
		if verdict.Warning != "" {
			ar.Message = appendNote(ar.Message, verdict.Warning)
		}
		return ar
	}
}

// renderParam reads a string param and substitutes finding placeholders.
func renderParam(action Action, key string, f Finding) string {
	s := paramString(action, key)
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{resource}", f.Resource,
		"{finding_id}", f.ID,
		"{category}", f.Category,
		"{severity}", f.Severity,
	)
	return r.Replace(s)
}

func paramString(action Action, key string) string {
	if action.Params == nil {
		return ""
	}
	if v, ok := action.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func preview(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return "command completed"
	}
	if len(output) > outputPreview {
		return output[:outputPreview] + "..."
	}
	return output
}
