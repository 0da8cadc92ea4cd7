package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/audit"
)

// Store persists execution snapshots outside the process. The executor's own
// history is in-memory; a Store is the optional durable collaborator.
type Store interface {
	Save(ctx context.Context, exec Execution) error
}

// ExecutorOptions configures the playbook executor.
type ExecutorOptions struct {
	// MaxConcurrent caps simultaneously running executions.
	MaxConcurrent int

	// RequireDistinctApprover rejects approvals issued by the initiator.
	RequireDistinctApprover bool
}

// DefaultMaxConcurrent is the soft limit on simultaneously running
// playbook executions.
const DefaultMaxConcurrent = 16

// Executor owns the set of live executions and drives each through its state
// machine. Safe for concurrent use; handlers run without the executor lock.
type Executor struct {
	registry *Registry
	store    Store
	trail    *audit.Trail
	logger   *zap.Logger
	opts     ExecutorOptions

	mu         sync.RWMutex
	executions map[string]*Execution
	order      []string
	plans      map[string]runPlan
	running    int
}

type runPlan struct {
	playbook Playbook
	finding  Finding
}

// NewExecutor creates a playbook executor. store may be nil; trail may be nil.
func NewExecutor(reg *Registry, store Store, trail *audit.Trail, opts ExecutorOptions, logger *zap.Logger) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = audit.NewTrail(0, logger)
	}
	return &Executor{
		registry:   reg,
		store:      store,
		trail:      trail,
		logger:     logger,
		opts:       opts,
		executions: make(map[string]*Execution),
		plans:      make(map[string]runPlan),
	}
}

// Registry returns the executor's handler registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Validate checks a playbook against this executor's registry.
func (e *Executor) Validate(pb Playbook) error {
	return Validate(pb, e.registry)
}

// Execute starts a playbook run for a finding. Playbooks requiring approval
// park in AwaitingApproval and return immediately; others run to a terminal
// state before returning. The returned execution is a snapshot.
func (e *Executor) Execute(ctx context.Context, pb Playbook, finding Finding, initiator string, dryRun bool) (*Execution, error) {
	if err := e.Validate(pb); err != nil {
		return nil, err
	}

	now := time.Now()
	exec := &Execution{
		ExecutionID:  fmt.Sprintf("%s-%d", pb.ID, now.UnixNano()),
		PlaybookID:   pb.ID,
		PlaybookName: pb.Name,
		FindingID:    finding.ID,
		Initiator:    initiator,
		StartedAt:    now,
		Status:       StatusPending,
		DryRun:       dryRun,
	}

	e.mu.Lock()
	if !pb.RequiresApproval && e.running >= e.opts.MaxConcurrent {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d executions running", ErrResourceExhausted, e.opts.MaxConcurrent)
	}
	e.executions[exec.ExecutionID] = exec
	e.order = append(e.order, exec.ExecutionID)
	e.plans[exec.ExecutionID] = runPlan{playbook: pb, finding: finding}

	if pb.RequiresApproval {
		exec.Status = StatusAwaitingApproval
		snapshot := exec.clone()
		e.mu.Unlock()
		e.trail.Record(initiator, "playbook_awaiting_approval", exec.ExecutionID)
		return snapshot, nil
	}

	exec.Status = StatusRunning
	e.running++
	e.mu.Unlock()

	e.trail.Record(initiator, "playbook_started", exec.ExecutionID)
	e.runActions(ctx, exec.ExecutionID)
	return e.Get(exec.ExecutionID)
}

// Approve transitions an awaiting execution to Running and drives it to a
// terminal state. dryRun decides the run mode of the approved execution.
// Calls against executions not in AwaitingApproval are no-ops returning
// ErrState.
func (e *Executor) Approve(ctx context.Context, executionID, approver string, dryRun bool) (*Execution, error) {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if exec.Status != StatusAwaitingApproval {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot approve execution in state %s", ErrState, exec.Status)
	}
	if e.opts.RequireDistinctApprover && approver == exec.Initiator {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: approver must differ from initiator", ErrState)
	}
	if e.running >= e.opts.MaxConcurrent {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d executions running", ErrResourceExhausted, e.opts.MaxConcurrent)
	}
	exec.Approver = approver
	exec.DryRun = dryRun
	exec.Status = StatusRunning
	e.running++
	e.mu.Unlock()

	e.trail.Record(approver, "playbook_approved", executionID)
	e.runActions(ctx, executionID)
	return e.Get(executionID)
}

// Reject moves an awaiting execution to the terminal Rejected state.
func (e *Executor) Reject(executionID, rejector, reason string) (*Execution, error) {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if exec.Status != StatusAwaitingApproval {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot reject execution in state %s", ErrState, exec.Status)
	}
	exec.Status = StatusRejected
	exec.RejectionReason = reason
	exec.EndedAt = time.Now()
	snapshot := exec.clone()
	e.mu.Unlock()

	e.trail.Record(rejector, "playbook_rejected", fmt.Sprintf("%s: %s", executionID, reason))
	e.persist(snapshot)
	return snapshot, nil
}

// Get returns a snapshot of one execution.
func (e *Executor) Get(executionID string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	return exec.clone(), nil
}

// History returns execution snapshots matching the filter, newest first.
func (e *Executor) History(filter HistoryFilter) []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Execution
	for i := len(e.order) - 1; i >= 0; i-- {
		exec := e.executions[e.order[i]]
		if filter.PlaybookID != "" && exec.PlaybookID != filter.PlaybookID {
			continue
		}
		if filter.FindingID != "" && exec.FindingID != filter.FindingID {
			continue
		}
		out = append(out, exec.clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// runActions drives one Running execution through its prerequisites and
// actions. Handlers are invoked without the executor lock held.
func (e *Executor) runActions(ctx context.Context, executionID string) {
	e.mu.Lock()
	exec := e.executions[executionID]
	plan := e.plans[executionID]
	pb, finding := plan.playbook, plan.finding

	exec.ActionResults = make([]ActionResult, len(pb.Actions))
	for i, a := range pb.Actions {
		exec.ActionResults[i] = ActionResult{Name: a.Name, Kind: a.Kind, Status: ActionPending}
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()

	if pb.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pb.Timeout)
		defer cancel()
	}

	hc := HandlerContext{ExecutionID: executionID, Finding: finding, Initiator: exec.Initiator}

	// Prerequisites run before any action; any failure terminates the run.
	for _, name := range pb.Prerequisites {
		check, ok := e.registry.ResolvePrereq(name)
		if !ok {
			e.finish(executionID, StatusFailed, fmt.Sprintf("prerequisite %q is not registered", name))
			return
		}
		if err := check(ctx, finding); err != nil {
			e.finish(executionID, StatusFailed, fmt.Sprintf("prerequisite %q failed: %v", name, err))
			return
		}
	}

	for i, action := range pb.Actions {
		if ctx.Err() != nil {
			e.failFrom(executionID, i, "timeout", "playbook timeout exceeded")
			return
		}
		if action.Predicate != nil && !action.Predicate(finding) {
			e.setActionResult(executionID, i, ActionResult{
				Name: action.Name, Kind: action.Kind,
				Status:  ActionSkipped,
				Message: "predicate not satisfied for finding",
			})
			continue
		}

		handler, ok := e.registry.Resolve(action.Kind)
		if !ok {
			e.setActionResult(executionID, i, ActionResult{
				Name: action.Name, Kind: action.Kind,
				Status: ActionFailed,
				Error:  fmt.Sprintf("%v: %q", ErrHandlerMissing, action.Kind),
			})
			e.failFrom(executionID, i+1, "handler_missing", fmt.Sprintf("no handler for kind %q", action.Kind))
			return
		}

		started := time.Now()
		e.setActionResult(executionID, i, ActionResult{
			Name: action.Name, Kind: action.Kind,
			Status: ActionRunning, StartedAt: started,
		})

		dryRun := e.isDryRun(executionID)
		result := handler(ctx, action, hc, dryRun)
		result.Name = action.Name
		result.Kind = action.Kind
		result.StartedAt = started
		result.EndedAt = time.Now()
		e.setActionResult(executionID, i, result)

		if result.Status != ActionCompleted {
			if ctx.Err() == context.DeadlineExceeded {
				e.failFrom(executionID, i+1, "timeout", "playbook timeout exceeded")
			} else {
				e.failFrom(executionID, i+1, "handler_error",
					fmt.Sprintf("action %q failed: %s", action.Name, result.Error))
			}
			return
		}
	}

	e.finish(executionID, StatusCompleted, "")
}

// Rollback reverses a completed execution, walking its actions in reverse.
// Failures during rollback are recorded per-action and flag the execution
// dirty; the terminal state is RolledBack regardless. Only valid once, from
// Completed.
func (e *Executor) Rollback(ctx context.Context, executionID string) (*Execution, error) {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if exec.Status != StatusCompleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot roll back execution in state %s", ErrState, exec.Status)
	}
	plan := e.plans[executionID]
	if !plan.playbook.RollbackEnabled {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: playbook %s does not enable rollback", ErrState, exec.PlaybookID)
	}
	results := append([]ActionResult(nil), exec.ActionResults...)
	hc := HandlerContext{ExecutionID: executionID, Finding: plan.finding, Initiator: exec.Initiator}
	e.mu.Unlock()

	dirty := false
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Status != ActionCompleted {
			continue
		}
		action := plan.playbook.Actions[i]
		if r.RollbackToken == "" {
			r.Message = appendNote(r.Message, "rollback skipped: no token recorded")
			e.setActionResult(executionID, i, r)
			continue
		}
		ref := action.RollbackRef
		if ref == "" {
			ref = action.Kind
		}
		sub, ok := e.registry.ResolveRollback(ref)
		if !ok {
			r.Error = appendNote(r.Error, fmt.Sprintf("rollback sub-handler %q not registered", ref))
			dirty = true
			e.setActionResult(executionID, i, r)
			continue
		}
		if err := sub(ctx, action, r.RollbackToken, hc); err != nil {
			r.Error = appendNote(r.Error, fmt.Sprintf("rollback failed: %v", err))
			dirty = true
			e.setActionResult(executionID, i, r)
			continue
		}
		r.Status = ActionRolledBack
		e.setActionResult(executionID, i, r)
	}

	e.mu.Lock()
	exec.Status = StatusRolledBack
	exec.RollbackDirty = dirty
	exec.EndedAt = time.Now()
	snapshot := exec.clone()
	e.mu.Unlock()

	e.trail.Record("system", "playbook_rolled_back",
		fmt.Sprintf("%s (dirty=%v)", executionID, dirty))
	e.persist(snapshot)
	return snapshot, nil
}

func (e *Executor) isDryRun(executionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.executions[executionID].DryRun
}

func (e *Executor) setActionResult(executionID string, idx int, r ActionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executions[executionID].ActionResults[idx] = r
}

// failFrom marks all actions from idx onward Skipped and finishes Failed.
func (e *Executor) failFrom(executionID string, idx int, reason, detail string) {
	e.mu.Lock()
	exec := e.executions[executionID]
	for i := idx; i < len(exec.ActionResults); i++ {
		if exec.ActionResults[i].Status == ActionPending || exec.ActionResults[i].Status == ActionRunning {
			exec.ActionResults[i].Status = ActionSkipped
			exec.ActionResults[i].Message = "skipped: earlier action failed"
		}
	}
	e.mu.Unlock()
	e.finish(executionID, StatusFailed, fmt.Sprintf("%s: %s", reason, detail))
}

func (e *Executor) finish(executionID string, status ExecutionStatus, failureReason string) {
	e.mu.Lock()
	exec := e.executions[executionID]
	exec.Status = status
	exec.FailureReason = failureReason
	exec.EndedAt = time.Now()
	if status == StatusFailed {
		for i := range exec.ActionResults {
			if exec.ActionResults[i].Status == ActionPending {
				exec.ActionResults[i].Status = ActionSkipped
				exec.ActionResults[i].Message = "skipped: execution failed"
			}
		}
	}
	snapshot := exec.clone()
	e.mu.Unlock()

	e.logger.Info("playbook execution finished",
		zap.String("execution_id", executionID),
		zap.String("status", string(status)),
		zap.String("failure_reason", failureReason),
	)
	e.persist(snapshot)
}

func (e *Executor) persist(exec *Execution) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Save(ctx, *exec); err != nil {
		e.logger.Warn("failed to persist execution snapshot",
			zap.String("execution_id", exec.ExecutionID),
			zap.Error(err),
		)
	}
}

func appendNote(s, note string) string {
	if s == "" {
		return note
	}
	return s + "; " + note
}
