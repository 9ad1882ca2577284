// Package sandbox provides the isolated execution environment for allow-listed
// tools: a minimal process environment, a bounded working directory, clamped
// resource limits, and a supervised child process with bounded output capture.
package sandbox

import (
	"time"
)

// Outcome classifies how an execution ended. An execution moves through
// pending → running → one of these terminal states.
type Outcome string

const (
	// OutcomeSuccess: the process exited 0.
	OutcomeSuccess Outcome = "success"
	// OutcomeToolError: the process ran to completion with a non-zero exit code.
	OutcomeToolError Outcome = "tool_error"
	// OutcomeTimedOut: the watchdog fired; the process was terminated,
	// escalating to SIGKILL if it ignored the initial signal.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeKilled: the caller's context was cancelled (shutdown) before the
	// process finished.
	OutcomeKilled Outcome = "killed"
	// OutcomeSpawnFailed: the process never started — binary missing, not
	// executable, or a similar OS-level failure.
	OutcomeSpawnFailed Outcome = "spawn_failed"
)

// Failed reports whether the outcome counts as a failure in the aggregate
// counters. Non-zero exits are results, not failures.
func (o Outcome) Failed() bool {
	return o == OutcomeTimedOut || o == OutcomeKilled || o == OutcomeSpawnFailed
}

// ResourceLimits is the immutable per-process snapshot of execution bounds.
type ResourceLimits struct {
	MaxTimeout     time.Duration // Hard cap on any effective timeout.
	DefaultTimeout time.Duration // Applied when a request carries none.
	MaxOutputBytes int           // Combined stdout+stderr ceiling.
	SandboxRoot    string        // Working directories must resolve inside this tree.
}

// ExecutionRequest is one validated spawn order: an absolute binary path and
// an argument vector, never a shell string.
type ExecutionRequest struct {
	RequestID  string        // Unique per call; threads through audit events.
	Tool       string        // Allow-list name, for logging and results.
	BinaryPath string        // Absolute path to the binary.
	Args       []string      // Argument vector, already validated.
	Env        []string      // Full environment, built by Environment().
	WorkingDir string        // Absolute directory inside the sandbox root.
	Timeout    time.Duration // Effective timeout, already clamped.
}

// ExecutionResult captures the terminal state of one execution.
type ExecutionResult struct {
	RequestID  string
	Tool       string
	Stdout     string
	Stderr     string
	ReturnCode *int // nil when the process never spawned.
	Duration   time.Duration
	Truncated  bool
	Outcome    Outcome

	// SpawnError holds the raw OS error on OutcomeSpawnFailed. It goes to the
	// audit log in full; callers surface only a generic message.
	SpawnError string
}
