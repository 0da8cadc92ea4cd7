package playbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/gateway"
	"github.com/lvonguyen/cloudgate/internal/policy"
)

func newTestExecutor(reg *Registry, opts ExecutorOptions) *Executor {
	return NewExecutor(reg, nil, nil, opts, nil)
}

func simplePlaybook(id string, approval bool) Playbook {
	return NewBuilder(id, id+" playbook").
		Category("Storage").
		Severity("HIGH").
		RequiresApproval(approval).
		Action("step-1", KindActionNotification, map[string]any{"message": "first"}, nil).
		Action("step-2", KindActionNotification, map[string]any{"message": "second"}, nil).
		Build()
}

func testFinding(id string) Finding {
	return Finding{ID: id, Category: "Storage", Severity: "HIGH", Resource: "bucket-1"}
}

// =============================================================================
// Direct Execution Tests
// =============================================================================

// TestExecute_NoApproval verifies a playbook without an approval gate runs
// to Completed with one result per action.
func TestExecute_NoApproval(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pb := simplePlaybook("PB-1", false)

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (%s)", exec.Status, exec.FailureReason)
	}
	if len(exec.ActionResults) != len(pb.Actions) {
		t.Fatalf("action results = %d, want %d", len(exec.ActionResults), len(pb.Actions))
	}
	for _, ar := range exec.ActionResults {
		if ar.Status != ActionCompleted {
			t.Errorf("action %s = %s", ar.Name, ar.Status)
		}
	}
	if exec.EndedAt.IsZero() {
		t.Error("ended_at not recorded")
	}
	if !strings.HasPrefix(exec.ExecutionID, "PB-1-") {
		t.Errorf("execution id %q not derived from playbook id", exec.ExecutionID)
	}
}

// TestExecute_InvalidPlaybook verifies validation runs before any state is
// created.
func TestExecute_InvalidPlaybook(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pb := NewBuilder("", "").Build()
	if _, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if got := e.History(HistoryFilter{}); len(got) != 0 {
		t.Error("invalid playbook left history behind")
	}
}

// TestExecute_ActionFailureSkipsRest verifies a failing action stops the run
// and the remaining actions are Skipped.
func TestExecute_ActionFailureSkipsRest(t *testing.T) {
	reg := testRegistry()
	reg.Register("explode", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		return ActionResult{Status: ActionFailed, Error: "boom"}
	})
	e := newTestExecutor(reg, ExecutorOptions{})

	pb := NewBuilder("PB-FAIL", "failing").
		Action("first", KindActionNotification, nil, nil).
		Action("bad", "explode", nil, nil).
		Action("never", KindActionNotification, nil, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.ActionResults[0].Status != ActionCompleted {
		t.Errorf("first action = %s", exec.ActionResults[0].Status)
	}
	if exec.ActionResults[1].Status != ActionFailed {
		t.Errorf("failing action = %s", exec.ActionResults[1].Status)
	}
	if exec.ActionResults[2].Status != ActionSkipped {
		t.Errorf("trailing action = %s, want skipped", exec.ActionResults[2].Status)
	}
	if len(exec.ActionResults) != 3 {
		t.Errorf("action results = %d, want 3", len(exec.ActionResults))
	}
}

// TestExecute_PrerequisiteFailure verifies a failing prerequisite terminates
// the run before any action starts.
func TestExecute_PrerequisiteFailure(t *testing.T) {
	reg := testRegistry()
	reg.RegisterPrereq("always-fails", func(ctx context.Context, f Finding) error {
		return fmt.Errorf("nope")
	})
	e := newTestExecutor(reg, ExecutorOptions{})

	pb := NewBuilder("PB-PRE", "prereq").
		Prerequisite("always-fails").
		Action("a", KindActionNotification, nil, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.ActionResults[0].Status != ActionSkipped {
		t.Errorf("action ran despite failed prerequisite: %s", exec.ActionResults[0].Status)
	}
}

// TestExecute_UnregisteredPrerequisite verifies an unknown prerequisite name
// fails the run.
func TestExecute_UnregisteredPrerequisite(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pb := NewBuilder("PB-PRE2", "prereq").
		Prerequisite("no-such-check").
		Action("a", KindActionNotification, nil, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusFailed || !strings.Contains(exec.FailureReason, "no-such-check") {
		t.Errorf("status=%s reason=%q", exec.Status, exec.FailureReason)
	}
}

// TestExecute_PredicateSkips verifies predicated actions are skipped without
// failing the run.
func TestExecute_PredicateSkips(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pb := NewBuilder("PB-PRED", "predicated").
		Action("only-critical", KindActionNotification, nil, func(f Finding) bool {
			return f.Severity == "CRITICAL"
		}).
		Action("always", KindActionNotification, nil, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.ActionResults[0].Status != ActionSkipped {
		t.Errorf("predicated action = %s, want skipped", exec.ActionResults[0].Status)
	}
	if exec.ActionResults[1].Status != ActionCompleted {
		t.Errorf("unpredicated action = %s", exec.ActionResults[1].Status)
	}
}

// TestExecute_PlaybookTimeout verifies the per-playbook deadline fails the
// run and skips remaining actions.
func TestExecute_PlaybookTimeout(t *testing.T) {
	reg := testRegistry()
	reg.Register("slow", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		<-ctx.Done()
		return ActionResult{Status: ActionFailed, Error: ctx.Err().Error()}
	})
	e := newTestExecutor(reg, ExecutorOptions{})

	pb := NewBuilder("PB-SLOW", "slow").
		Timeout(50 * time.Millisecond).
		Action("hang", "slow", nil, nil).
		Action("after", KindActionNotification, nil, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusFailed || !strings.Contains(exec.FailureReason, "timeout") {
		t.Fatalf("status=%s reason=%q", exec.Status, exec.FailureReason)
	}
	if exec.ActionResults[1].Status != ActionSkipped {
		t.Errorf("post-timeout action = %s, want skipped", exec.ActionResults[1].Status)
	}
}

// =============================================================================
// Approval Flow Tests
// =============================================================================

// TestApprovalFlow walks Pending -> AwaitingApproval -> Running -> Completed.
func TestApprovalFlow(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pb := simplePlaybook("PB-APPROVE", true)

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusAwaitingApproval {
		t.Fatalf("status = %s, want awaiting_approval", exec.Status)
	}
	if len(exec.ActionResults) != 0 {
		t.Error("actions ran before approval")
	}

	approved, err := e.Approve(context.Background(), exec.ExecutionID, "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != StatusCompleted {
		t.Fatalf("status after approval = %s (%s)", approved.Status, approved.FailureReason)
	}
	if approved.Approver != "bob" {
		t.Errorf("approver = %q", approved.Approver)
	}

	// A second approval is a no-op state error.
	if _, err := e.Approve(context.Background(), exec.ExecutionID, "carol", false); !errors.Is(err, ErrState) {
		t.Errorf("second approve: got %v, want ErrState", err)
	}
}

// TestApprove_NotFound verifies unknown execution ids are reported as such.
func TestApprove_NotFound(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	if _, err := e.Approve(context.Background(), "missing", "bob", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// TestReject verifies rejection is terminal and carries the reason.
func TestReject(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pb := simplePlaybook("PB-REJECT", true)

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := e.Reject(exec.ExecutionID, "bob", "too risky")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != StatusRejected || rejected.RejectionReason != "too risky" {
		t.Errorf("status=%s reason=%q", rejected.Status, rejected.RejectionReason)
	}

	// Terminal: neither approval nor another rejection is possible.
	if _, err := e.Approve(context.Background(), exec.ExecutionID, "bob", false); !errors.Is(err, ErrState) {
		t.Errorf("approve after reject: got %v, want ErrState", err)
	}
	if _, err := e.Reject(exec.ExecutionID, "bob", "again"); !errors.Is(err, ErrState) {
		t.Errorf("double reject: got %v, want ErrState", err)
	}
}

// TestApprove_RequireDistinctApprover verifies the separation-of-duties
// knob.
func TestApprove_RequireDistinctApprover(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{RequireDistinctApprover: true})
	pb := simplePlaybook("PB-SOD", true)

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Approve(context.Background(), exec.ExecutionID, "alice", false); !errors.Is(err, ErrState) {
		t.Errorf("self-approval: got %v, want ErrState", err)
	}
	if _, err := e.Approve(context.Background(), exec.ExecutionID, "bob", false); err != nil {
		t.Errorf("distinct approver rejected: %v", err)
	}
}

// =============================================================================
// Dry-Run Tests
// =============================================================================

// TestDryRun_NoChildProcesses verifies the built-in handlers never touch a
// gateway in dry-run: with no gateways configured, an approved dry-run still
// completes with [DRY-RUN] messages.
func TestDryRun_NoChildProcesses(t *testing.T) {
	reg := NewBuiltinRegistry(map[cloud.Kind]*gateway.Gateway{}, executor.New(executor.Options{}, nil),
		policy.NewEngine(policy.ModeStrict, policy.TierMedium, nil), nil)
	e := newTestExecutor(reg, ExecutorOptions{})

	pb := NewBuilder("FIX-S3-PUBLIC", "Fix Public S3 Bucket").
		Category("Storage").
		Severity("CRITICAL").
		RequiresApproval(true).
		RollbackEnabled(true).
		Action("block_public_access", KindActionAWS, map[string]any{
			"command": "aws s3api put-public-access-block --bucket {resource}",
		}, nil).
		Action("notify_team", KindActionNotification, map[string]any{
			"channel": "secops",
			"message": "bucket {resource} locked down",
		}, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-9"), "alice", true)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusAwaitingApproval {
		t.Fatalf("status = %s", exec.Status)
	}

	done, err := e.Approve(context.Background(), exec.ExecutionID, "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", done.Status, done.FailureReason)
	}
	for _, ar := range done.ActionResults {
		if !strings.HasPrefix(ar.Message, "[DRY-RUN]") {
			t.Errorf("action %s message %q lacks dry-run prefix", ar.Name, ar.Message)
		}
	}
	// The provider command must appear with the resource substituted.
	if !strings.Contains(done.ActionResults[0].Message, "--bucket bucket-1") {
		t.Errorf("placeholder not rendered: %q", done.ActionResults[0].Message)
	}
}

// =============================================================================
// Rollback Tests
// =============================================================================

// TestRollback verifies reverse-order rollback consumes tokens and the
// terminal state transitions exactly once.
func TestRollback(t *testing.T) {
	var (
		mu      sync.Mutex
		undone  []string
		reg     = testRegistry()
	)
	reg.Register("tracked", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		return ActionResult{Status: ActionCompleted, RollbackToken: "token-" + action.Name}
	})
	reg.RegisterRollback("tracked", func(ctx context.Context, action Action, token string, hc HandlerContext) error {
		mu.Lock()
		undone = append(undone, token)
		mu.Unlock()
		return nil
	})
	e := newTestExecutor(reg, ExecutorOptions{})

	pb := NewBuilder("PB-RB", "rollback").
		RollbackEnabled(true).
		Action("first", "tracked", nil, nil).
		Action("second", "tracked", nil, nil).
		Action("no-token", KindActionNotification, nil, nil).
		Build()

	exec, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s", exec.Status)
	}

	rolled, err := e.Rollback(context.Background(), exec.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.Status != StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", rolled.Status)
	}
	if rolled.RollbackDirty {
		t.Error("clean rollback flagged dirty")
	}

	// Reverse declared order.
	mu.Lock()
	if len(undone) != 2 || undone[0] != "token-second" || undone[1] != "token-first" {
		t.Errorf("rollback order = %v", undone)
	}
	mu.Unlock()

	if rolled.ActionResults[0].Status != ActionRolledBack || rolled.ActionResults[1].Status != ActionRolledBack {
		t.Error("tracked actions not marked rolled_back")
	}
	// The token-less action stays completed with an annotation.
	if rolled.ActionResults[2].Status != ActionCompleted ||
		!strings.Contains(rolled.ActionResults[2].Message, "no token") {
		t.Errorf("token-less action = %+v", rolled.ActionResults[2])
	}

	// A second rollback is a state error.
	if _, err := e.Rollback(context.Background(), exec.ExecutionID); !errors.Is(err, ErrState) {
		t.Errorf("second rollback: got %v, want ErrState", err)
	}
}

// TestRollback_OnlyFromCompleted verifies rollback of failed or awaiting
// executions is refused.
func TestRollback_OnlyFromCompleted(t *testing.T) {
	reg := testRegistry()
	reg.Register("explode", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		return ActionResult{Status: ActionFailed, Error: "boom"}
	})
	e := newTestExecutor(reg, ExecutorOptions{})

	failed, err := e.Execute(context.Background(),
		NewBuilder("PB-F", "f").RollbackEnabled(true).Action("a", "explode", nil, nil).Build(),
		testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Rollback(context.Background(), failed.ExecutionID); !errors.Is(err, ErrState) {
		t.Errorf("rollback of failed run: got %v, want ErrState", err)
	}
}

// TestRollback_DisabledPlaybook verifies rollback requires the playbook
// flag.
func TestRollback_DisabledPlaybook(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	exec, err := e.Execute(context.Background(), simplePlaybook("PB-NORB", false), testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Rollback(context.Background(), exec.ExecutionID); !errors.Is(err, ErrState) {
		t.Errorf("got %v, want ErrState", err)
	}
}

// TestRollback_SubHandlerFailure verifies per-action rollback failures mark
// the execution dirty but still terminal RolledBack.
func TestRollback_SubHandlerFailure(t *testing.T) {
	reg := testRegistry()
	reg.Register("tracked", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		return ActionResult{Status: ActionCompleted, RollbackToken: "tok"}
	})
	reg.RegisterRollback("tracked", func(ctx context.Context, action Action, token string, hc HandlerContext) error {
		return fmt.Errorf("refused")
	})
	e := newTestExecutor(reg, ExecutorOptions{})

	exec, err := e.Execute(context.Background(),
		NewBuilder("PB-DIRTY", "d").RollbackEnabled(true).Action("a", "tracked", nil, nil).Build(),
		testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	rolled, err := e.Rollback(context.Background(), exec.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.Status != StatusRolledBack || !rolled.RollbackDirty {
		t.Errorf("status=%s dirty=%v, want rolled_back dirty", rolled.Status, rolled.RollbackDirty)
	}
}

// =============================================================================
// History and Concurrency Tests
// =============================================================================

// TestHistory verifies filters, ordering, and limits.
func TestHistory(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	pbA := simplePlaybook("PB-A", false)
	pbB := simplePlaybook("PB-B", false)

	for i := 0; i < 3; i++ {
		if _, err := e.Execute(context.Background(), pbA, testFinding(fmt.Sprintf("F-%d", i)), "alice", false); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Execute(context.Background(), pbB, testFinding("F-9"), "alice", false); err != nil {
		t.Fatal(err)
	}

	all := e.History(HistoryFilter{})
	if len(all) != 4 {
		t.Fatalf("history = %d, want 4", len(all))
	}
	// Newest first.
	if all[0].PlaybookID != "PB-B" {
		t.Errorf("newest entry = %s, want PB-B", all[0].PlaybookID)
	}

	byPlaybook := e.History(HistoryFilter{PlaybookID: "PB-A"})
	if len(byPlaybook) != 3 {
		t.Errorf("PB-A history = %d, want 3", len(byPlaybook))
	}

	byFinding := e.History(HistoryFilter{FindingID: "F-9"})
	if len(byFinding) != 1 || byFinding[0].PlaybookID != "PB-B" {
		t.Errorf("finding filter broken: %+v", byFinding)
	}

	limited := e.History(HistoryFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited history = %d, want 2", len(limited))
	}
}

// TestGet_Snapshot verifies Get returns copies that do not alias live state.
func TestGet_Snapshot(t *testing.T) {
	e := newTestExecutor(testRegistry(), ExecutorOptions{})
	exec, err := e.Execute(context.Background(), simplePlaybook("PB-SNAP", false), testFinding("F-1"), "alice", false)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := e.Get(exec.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	snap.Status = StatusFailed
	snap.ActionResults[0].Status = ActionFailed

	again, _ := e.Get(exec.ExecutionID)
	if again.Status != StatusCompleted || again.ActionResults[0].Status != ActionCompleted {
		t.Error("snapshot mutation leaked into live execution")
	}
}

// TestConcurrentExecutions verifies independent executions of the same
// playbook do not observe each other's state.
func TestConcurrentExecutions(t *testing.T) {
	reg := testRegistry()
	gate := make(chan struct{})
	reg.Register("gated", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		<-gate
		return ActionResult{Status: ActionCompleted, Message: "for " + hc.Finding.ID}
	})
	e := newTestExecutor(reg, ExecutorOptions{MaxConcurrent: 8})

	pb := NewBuilder("PB-PAR", "parallel").Action("a", "gated", nil, nil).Build()

	var wg sync.WaitGroup
	results := make([]*Execution, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, err := e.Execute(context.Background(), pb, testFinding(fmt.Sprintf("F-%d", i)), "alice", false)
			if err != nil {
				t.Errorf("execute %d: %v", i, err)
				return
			}
			results[i] = exec
		}(i)
	}
	close(gate)
	wg.Wait()

	seen := make(map[string]bool)
	for i, exec := range results {
		if exec == nil {
			continue
		}
		if seen[exec.ExecutionID] {
			t.Errorf("duplicate execution id %s", exec.ExecutionID)
		}
		seen[exec.ExecutionID] = true
		want := "for " + fmt.Sprintf("F-%d", i)
		if exec.ActionResults[0].Message != want {
			t.Errorf("execution %d observed %q, want %q", i, exec.ActionResults[0].Message, want)
		}
	}
}

// TestExecute_ResourceExhausted verifies the concurrent-execution cap
// returns back-pressure without starting a run.
func TestExecute_ResourceExhausted(t *testing.T) {
	reg := testRegistry()
	gate := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	reg.Register("gated", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		once.Do(func() { close(started) })
		<-gate
		return ActionResult{Status: ActionCompleted}
	})
	e := newTestExecutor(reg, ExecutorOptions{MaxConcurrent: 1})

	pb := NewBuilder("PB-CAP", "cap").Action("a", "gated", nil, nil).Build()

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), pb, testFinding("F-1"), "alice", false)
		errCh <- err
	}()
	<-started

	if _, err := e.Execute(context.Background(), pb, testFinding("F-2"), "alice", false); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("got %v, want ErrResourceExhausted", err)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	// Capacity frees up once the first run finishes.
	if _, err := e.Execute(context.Background(), pb, testFinding("F-3"), "alice", false); err != nil {
		t.Errorf("post-release execute failed: %v", err)
	}
}
