// Package executor runs validated provider commands as direct child
// processes. No shell is ever invoked: each pipeline stage is spawned with an
// explicit argv and stages are wired together with OS pipes. Every child is
// bounded by a shared wall-clock deadline and a stdout byte cap.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/cloud"
)

const (
	// DefaultMaxWallClock bounds one command end to end.
	DefaultMaxWallClock = 30 * time.Second

	// DefaultMaxOutputBytes caps captured stdout per command.
	DefaultMaxOutputBytes = 1 << 20

	// DefaultMaxChildren caps concurrently running child processes.
	DefaultMaxChildren = 64

	// killGrace is how long a child gets between SIGTERM and SIGKILL.
	killGrace = 500 * time.Millisecond

	// stderrCap bounds captured stderr; stderr is only inspected for
	// error fingerprints, never returned wholesale.
	stderrCap = 64 << 10
)

// Options configures an Executor.
type Options struct {
	MaxWallClock   time.Duration
	MaxOutputBytes int
	MaxChildren    int
}

// Request describes one command to run.
type Request struct {
	// Stages is the tokenized pipeline; stage 0 is the provider stage.
	Stages [][]string

	// Env is an overlay appended to the inherited environment.
	Env []string

	// Provider supplies auth-error fingerprints and the login hint.
	Provider *cloud.Provider

	// Timeout overrides the executor default when positive.
	Timeout time.Duration
}

// Executor spawns bounded child processes. It is safe for concurrent use;
// a semaphore enforces the child-process cap across all callers.
type Executor struct {
	maxWall   time.Duration
	maxOutput int
	children  chan struct{}
	logger    *zap.Logger
}

// New creates an Executor with the given options; zero values take defaults.
func New(opts Options, logger *zap.Logger) *Executor {
	if opts.MaxWallClock <= 0 {
		opts.MaxWallClock = DefaultMaxWallClock
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if opts.MaxChildren <= 0 {
		opts.MaxChildren = DefaultMaxChildren
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		maxWall:   opts.MaxWallClock,
		maxOutput: opts.MaxOutputBytes,
		children:  make(chan struct{}, opts.MaxChildren),
		logger:    logger,
	}
}

// MaxOutputBytes returns the configured stdout cap.
func (e *Executor) MaxOutputBytes() int { return e.maxOutput }

// cappedBuffer accumulates writes up to a byte cap and silently discards the
// rest, so pipe readers never stall on back-pressure.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remain := b.cap - b.buf.Len()
	if remain > 0 {
		if len(p) <= remain {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:remain])
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Execute runs the request's pipeline and returns a structured Result. All
// expected failures (timeout, auth error, non-zero exit, missing binary) are
// reported on the Result, never as an error value.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if len(req.Stages) == 0 {
		return Validation("no command stages to execute")
	}

	// Reserve a semaphore slot per stage up front; give back everything
	// and report back-pressure if the cap is hit.
	acquired := 0
	for range req.Stages {
		select {
		case e.children <- struct{}{}:
			acquired++
		default:
			for ; acquired > 0; acquired-- {
				<-e.children
			}
			return Exhausted("child process limit reached, try again later")
		}
	}
	defer func() {
		for ; acquired > 0; acquired-- {
			<-e.children
		}
	}()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.maxWall
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := e.run(ctx, req, timeout)
	result.Elapsed = time.Since(start)

	e.logger.Debug("command finished",
		zap.String("status", string(result.Status)),
		zap.String("error_kind", string(result.ErrorKind)),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result
}

func (e *Executor) run(ctx context.Context, req Request, timeout time.Duration) Result {
	stdout := &cappedBuffer{cap: e.maxOutput}
	stderr := &cappedBuffer{cap: stderrCap}

	cmds := make([]*exec.Cmd, len(req.Stages))
	for i, argv := range req.Stages {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stderr = stderr
		if len(req.Env) > 0 {
			cmd.Env = append(os.Environ(), req.Env...)
		}
		// Graceful terminate on deadline, forced kill after the grace.
		cmd.Cancel = func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = killGrace
		cmds[i] = cmd
	}

	// Wire stage i's stdout into stage i+1's stdin.
	var parentFiles []*os.File
	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return Result{
				Status:    StatusError,
				Output:    fmt.Sprintf("failed to create pipe: %v", err),
				ErrorKind: KindExecutionError,
				ExitCode:  -1,
			}
		}
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
		parentFiles = append(parentFiles, r, w)
	}
	cmds[len(cmds)-1].Stdout = stdout

	started := 0
	var startErr error
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			startErr = fmt.Errorf("stage %d (%s): %w", i, req.Stages[i][0], err)
			break
		}
		started++
	}

	// The children hold duplicated pipe descriptors; the parent's copies
	// must close so downstream stages observe EOF.
	for _, f := range parentFiles {
		f.Close()
	}

	if startErr != nil {
		for i := 0; i < started; i++ {
			if cmds[i].Process != nil {
				cmds[i].Process.Kill()
			}
			cmds[i].Wait()
		}
		return Result{
			Status:    StatusError,
			Output:    fmt.Sprintf("failed to start command: %v", startErr),
			ErrorKind: KindExecutionError,
			ExitCode:  -1,
		}
	}

	// Reap every stage; the final stage's exit status decides the
	// pipeline's exit code, any failed stage fails the pipeline.
	var firstErr error
	exitCode := 0
	for i, cmd := range cmds {
		err := cmd.Wait()
		if i == len(cmds)-1 {
			exitCode = cmd.ProcessState.ExitCode()
		}
		if err != nil && firstErr == nil {
			firstErr = err
			if ec := cmd.ProcessState.ExitCode(); ec != 0 {
				exitCode = ec
			}
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			Status:    StatusError,
			Output:    fmt.Sprintf("command timed out after %s", timeout),
			ErrorKind: KindTimeout,
			ExitCode:  exitCode,
			Truncated: stdout.Truncated(),
		}
	}

	if firstErr != nil || exitCode != 0 {
		errText := stderr.String()
		if req.Provider != nil && req.Provider.MatchAuthError(errText) {
			return Result{
				Status:    StatusError,
				Output:    fmt.Sprintf("authentication error: %s", req.Provider.LoginHint),
				ErrorKind: KindAuthError,
				ExitCode:  exitCode,
			}
		}
		var execErr *exec.ExitError
		if firstErr != nil && !errors.As(firstErr, &execErr) {
			errText = firstErr.Error()
		}
		return Result{
			Status:    StatusError,
			Output:    errText,
			ErrorKind: KindExecutionError,
			ExitCode:  exitCode,
			Truncated: stdout.Truncated(),
		}
	}

	result := Result{
		Status:    StatusSuccess,
		Output:    stdout.String(),
		ExitCode:  exitCode,
		Truncated: stdout.Truncated(),
	}
	if !result.Truncated {
		var structured any
		if err := json.Unmarshal([]byte(result.Output), &structured); err == nil {
			result.Structured = structured
		}
	}
	return result
}
