package executor

import "time"

// Status is the overall outcome of a command execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind discriminates expected failure classes. Expected failures are
// returned as values on the Result, never raised.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindTimeout           ErrorKind = "timeout"
	KindAuthError         ErrorKind = "auth_error"
	KindValidationError   ErrorKind = "validation_error"
	KindExecutionError    ErrorKind = "execution_error"
	KindResourceExhausted ErrorKind = "resource_exhausted"
)

// Result carries the outcome of one command execution.
type Result struct {
	Status    Status    `json:"status"`
	Output    string    `json:"output"`
	Structured any      `json:"structured,omitempty"`
	ExitCode  int       `json:"exit_code"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Truncated bool      `json:"truncated"`
	Elapsed   time.Duration `json:"elapsed"`

	// Warning is attached by policy validation for allowed-but-risky
	// commands.
	Warning string `json:"warning,omitempty"`
}

// Validation constructs an error Result for a command rejected before any
// child process was spawned.
func Validation(reason string) Result {
	return Result{
		Status:    StatusError,
		Output:    reason,
		ErrorKind: KindValidationError,
	}
}

// Exhausted constructs an error Result for a command rejected by a
// concurrency cap.
func Exhausted(reason string) Result {
	return Result{
		Status:    StatusError,
		Output:    reason,
		ErrorKind: KindResourceExhausted,
	}
}
