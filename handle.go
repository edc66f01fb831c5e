package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunState is the execution state of a spawned run.
type RunState int32

const (
	// RunPending means the run was spawned but has not started.
	RunPending RunState = iota
	// RunActive means the loop is in progress.
	RunActive
	// RunCompleted means the loop returned a result.
	RunCompleted
	// RunFailed means the loop returned an error.
	RunFailed
	// RunCancelled means the run was cancelled via Cancel() or parent context.
	RunCancelled
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunActive:
		return "active"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// SpawnOption configures a Spawn call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger for spawn lifecycle events.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) { c.logger = l }
}

// RunHandle tracks a background run. Sessions are independent, so any
// number of handles may be live concurrently against the same Agent.
// All methods are safe for concurrent use.
type RunHandle struct {
	id        string
	sessionID string
	state     atomic.Int32
	result    RunResult
	err       error
	done      chan struct{}
	cancel    context.CancelFunc
}

// Spawn launches agent.Run(ctx, sessionID, input) in a background
// goroutine and returns immediately with a handle for awaiting and
// cancelling it. Cancelling the parent ctx cancels the run; events already
// emitted are preserved.
func Spawn(ctx context.Context, agent *Agent, sessionID, input string, opts ...SpawnOption) *RunHandle {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	logger := cfg.logger

	ctx, cancel := context.WithCancel(ctx)
	h := &RunHandle{
		id:        NewID(),
		sessionID: sessionID,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	h.state.Store(int32(RunPending))

	logger.Info("run spawned", "agent", agent.Name(), "session", sessionID, "handle_id", h.id)

	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("spawned run panic", "agent", agent.Name(), "handle_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.err = fmt.Errorf("run panic: %v", p)
				h.state.Store(int32(RunFailed))
				close(h.done)
			}
		}()
		h.state.Store(int32(RunActive))
		start := time.Now()
		result, err := agent.Run(ctx, sessionID, input)

		// Write result/err before close(done); the close is the
		// happens-before barrier for all readers.
		h.result = result
		h.err = err
		switch {
		case ctx.Err() != nil && err != nil:
			h.state.Store(int32(RunCancelled))
			logger.Info("spawned run cancelled", "agent", agent.Name(), "handle_id", h.id, "duration", time.Since(start))
		case err != nil:
			h.state.Store(int32(RunFailed))
			logger.Error("spawned run failed", "agent", agent.Name(), "handle_id", h.id, "error", err, "duration", time.Since(start))
		default:
			h.state.Store(int32(RunCompleted))
			logger.Info("spawned run completed", "agent", agent.Name(), "handle_id", h.id,
				"outcome", string(result.Outcome), "duration", time.Since(start))
		}
		close(h.done)
	}()

	return h
}

// ID returns the unique handle identifier.
func (h *RunHandle) ID() string { return h.id }

// SessionID returns the session the run belongs to.
func (h *RunHandle) SessionID() string { return h.sessionID }

// State returns the current state. For terminal states it blocks until
// Done() is closed so Result() is guaranteed valid afterwards.
func (h *RunHandle) State() RunState {
	s := RunState(h.state.Load())
	if s.IsTerminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when the run reaches a terminal state.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the run completes or ctx is cancelled.
func (h *RunHandle) Await(ctx context.Context) (RunResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// Result returns the result and error. Only meaningful after Done().
func (h *RunHandle) Result() (RunResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
		return RunResult{}, nil
	}
}

// Cancel requests cancellation. Non-blocking. No further model or tool
// calls are issued once the context reaches the loop.
func (h *RunHandle) Cancel() { h.cancel() }
