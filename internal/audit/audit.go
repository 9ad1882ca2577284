// Package audit records every validation and execution decision as an
// append-only stream of structured events. Recording is fire-and-forget:
// sink failures degrade a health flag but never fail or delay an execution.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Kind labels an audit event.
type Kind string

const (
	KindValidationFailure Kind = "validation_failure"
	KindSecurityViolation Kind = "security_violation"
	KindExecutionStart    Kind = "execution_start"
	KindExecutionEnd      Kind = "execution_end"
)

// Event is a single entry in the append-only audit trail. Detail may carry
// the full original input for forensics — it is written to the sink only,
// never echoed to callers.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	RequestID string    `json:"request_id"`
	Tool      string    `json:"tool"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink accepts audit events. Implementations must never block the caller.
type Sink interface {
	// Record enqueues an event. Best-effort: a full queue drops the event.
	Record(ev Event)
	// Healthy reports whether the sink's backing store is accepting writes.
	Healthy() bool
	Close() error
}

// queueSize bounds the in-flight event buffer. Events beyond it are dropped
// rather than letting a slow disk stall an execution.
const queueSize = 256

// asyncSink serializes events through a single writer goroutine. The append
// function is the only place that touches the backing store.
type asyncSink struct {
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	healthy atomic.Bool
	dropped atomic.Int64
	append  func(Event) error
	close   func() error
	logger  *slog.Logger
}

func newAsyncSink(append func(Event) error, close func() error, logger *slog.Logger) *asyncSink {
	s := &asyncSink{
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
		append: append,
		close:  close,
		logger: logger,
	}
	s.healthy.Store(true)
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *asyncSink) run() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.events:
			s.write(ev)
		case <-s.done:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case ev := <-s.events:
					s.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *asyncSink) write(ev Event) {
	if err := s.append(ev); err != nil {
		if s.healthy.CompareAndSwap(true, false) {
			s.logger.Error("audit sink degraded", slog.String("error", err.Error()))
		}
		return
	}
	s.healthy.Store(true)
}

// Record enqueues the event without blocking. A full queue increments the
// drop counter; the event is lost but the execution path is untouched.
func (s *asyncSink) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.dropped.Add(1)
	}
}

func (s *asyncSink) Healthy() bool { return s.healthy.Load() }

// Dropped returns how many events were discarded because the queue was full.
func (s *asyncSink) Dropped() int64 { return s.dropped.Load() }

func (s *asyncSink) Close() error {
	close(s.done)
	s.wg.Wait()
	if s.close != nil {
		return s.close()
	}
	return nil
}

// FileSink appends events as JSONL to a file opened in append-only mode with
// 0600 permissions.
type FileSink struct {
	*asyncSink
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit log file.
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	s := &FileSink{file: f}
	s.asyncSink = newAsyncSink(s.appendLine, f.Close, logger)
	return s, nil
}

func (s *FileSink) appendLine(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, err = s.file.Write(data)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// Tee fans one event stream out to several sinks. Healthy only when every
// branch is healthy.
type Tee []Sink

func (t Tee) Record(ev Event) {
	for _, s := range t {
		s.Record(ev)
	}
}

func (t Tee) Healthy() bool {
	for _, s := range t {
		if !s.Healthy() {
			return false
		}
	}
	return true
}

// Dropped sums the drop counters of every branch that keeps one.
func (t Tee) Dropped() int64 {
	var total int64
	for _, s := range t {
		if d, ok := s.(interface{ Dropped() int64 }); ok {
			total += d.Dropped()
		}
	}
	return total
}

func (t Tee) Close() error {
	var firstErr error
	for _, s := range t {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard is a Sink that drops everything. Used by tests and by the one-shot
// CLI mode where no audit trail is configured.
type Discard struct{}

func (Discard) Record(Event)  {}
func (Discard) Healthy() bool { return true }
func (Discard) Close() error  { return nil }
