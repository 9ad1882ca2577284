package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// defaultGracePeriod is how long the watchdog waits between the graceful
// SIGTERM and the forced SIGKILL.
const defaultGracePeriod = 3 * time.Second

// Executor spawns and supervises one child process per request.
//
// Guarantees:
//   - The binary is invoked directly from an argument vector — never through
//     a shell.
//   - The child runs in its own process group (Setpgid); on timeout or
//     cancellation the whole group is signalled, so grandchildren die too.
//   - Timeout expiry sends SIGTERM to the group, then escalates to SIGKILL
//     after a grace window if the process has not exited.
//   - stdout/stderr share one byte budget; once it is spent the pipes keep
//     draining so the child is never stalled by backpressure.
//   - No child process is left running after Execute returns.
type Executor struct {
	maxOutputBytes int
	gracePeriod    time.Duration
	logger         *slog.Logger
}

// NewExecutor creates an executor that caps combined output at
// limits.MaxOutputBytes.
func NewExecutor(limits ResourceLimits, logger *slog.Logger) *Executor {
	return &Executor{
		maxOutputBytes: limits.MaxOutputBytes,
		gracePeriod:    defaultGracePeriod,
		logger:         logger,
	}
}

// Execute runs one validated request to a terminal outcome. It never returns
// an error: every failure mode is folded into the result so the coordinator
// has exactly one shape to handle.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) *ExecutionResult {
	result := &ExecutionResult{
		RequestID: req.RequestID,
		Tool:      req.Tool,
	}

	execCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.BinaryPath, req.Args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = req.Env

	budget := newOutputBudget(e.maxOutputBytes)
	stdout := budget.newWriter()
	stderr := budget.newWriter()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Own process group, so signals reach everything the tool forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Graceful termination first; WaitDelay escalates to a hard kill if the
	// group ignores it.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = e.gracePeriod

	e.logger.Info("spawning tool",
		slog.String("request_id", req.RequestID),
		slog.String("tool", req.Tool),
		slog.Int("arg_count", len(req.Args)),
		slog.String("dir", req.WorkingDir),
		slog.Duration("timeout", req.Timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		result.Outcome = OutcomeSpawnFailed
		result.SpawnError = err.Error()
		e.logger.Error("spawn failed",
			slog.String("request_id", req.RequestID),
			slog.String("tool", req.Tool),
			slog.String("error", err.Error()),
		)
		return result
	}
	pid := cmd.Process.Pid

	waitErr := cmd.Wait()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = budget.Truncated()

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Outcome = OutcomeTimedOut
		e.reapGroup(pid)
		e.logger.Warn("tool timed out",
			slog.String("request_id", req.RequestID),
			slog.String("tool", req.Tool),
			slog.Duration("timeout", req.Timeout),
			slog.Duration("duration", result.Duration),
		)

	case ctx.Err() != nil:
		result.Outcome = OutcomeKilled
		e.reapGroup(pid)
		e.logger.Warn("tool cancelled",
			slog.String("request_id", req.RequestID),
			slog.String("tool", req.Tool),
		)

	case waitErr == nil:
		code := 0
		result.ReturnCode = &code
		result.Outcome = OutcomeSuccess

	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			result.ReturnCode = &code
			result.Outcome = OutcomeToolError
		} else {
			// Wait failed for a non-exit reason (I/O error on the pipes).
			result.Outcome = OutcomeSpawnFailed
			result.SpawnError = waitErr.Error()
			e.reapGroup(pid)
		}
	}

	e.logger.Info("tool finished",
		slog.String("request_id", req.RequestID),
		slog.String("tool", req.Tool),
		slog.String("outcome", string(result.Outcome)),
		slog.Duration("duration", result.Duration),
		slog.Bool("truncated", result.Truncated),
	)
	return result
}

// reapGroup hard-kills the process group. Called after a timeout or
// cancellation so nothing the tool forked survives Execute.
func (e *Executor) reapGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// outputBudget is the shared byte ceiling for one execution's stdout and
// stderr. Writers consume from it under a single lock; once it is exhausted
// they keep accepting (and discarding) bytes so the child's pipes stay
// drained.
type outputBudget struct {
	mu        sync.Mutex
	remaining int
	truncated bool
}

func newOutputBudget(maxBytes int) *outputBudget {
	return &outputBudget{remaining: maxBytes}
}

// Truncated reports whether any byte was dropped.
func (b *outputBudget) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *outputBudget) newWriter() *cappedWriter {
	return &cappedWriter{budget: b}
}

// cappedWriter appends into its own buffer while the shared budget lasts.
// Write never fails and always reports full consumption.
type cappedWriter struct {
	budget *outputBudget
	buf    bytes.Buffer
}

var _ io.Writer = (*cappedWriter)(nil)

func (w *cappedWriter) Write(p []byte) (int, error) {
	w.budget.mu.Lock()
	defer w.budget.mu.Unlock()

	if w.budget.remaining <= 0 {
		if len(p) > 0 {
			w.budget.truncated = true
		}
		return len(p), nil
	}

	n := len(p)
	if n > w.budget.remaining {
		n = w.budget.remaining
		w.budget.truncated = true
	}
	w.buf.Write(p[:n])
	w.budget.remaining -= n
	return len(p), nil
}

func (w *cappedWriter) String() string { return w.buf.String() }
