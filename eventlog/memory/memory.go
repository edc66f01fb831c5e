// Package memory provides a volatile, in-process EventStore. Logs live for
// the lifetime of the process and subscribers only see events appended
// after they attach — there is no replay. Use eventlog/sqlite when events
// must survive restarts or reach late subscribers.
package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/okanta/relay"
)

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogger sets a structured logger for append and subscription activity.
func WithLogger(l *slog.Logger) LogOption {
	return func(s *Log) { s.logger = l }
}

// Log implements relay.EventStore with per-session in-memory logs.
// Session logs are created lazily on first append or subscription.
type Log struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog
	logger   *slog.Logger
}

var _ relay.EventStore = (*Log)(nil)

// NewLog creates an empty in-memory event log.
func NewLog(opts ...LogOption) *Log {
	s := &Log{
		sessions: make(map[string]*sessionLog),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// sessionLog owns one session's ordered events and its live subscribers.
type sessionLog struct {
	mu     sync.Mutex
	events []relay.Event
	subs   map[int64]*subscriber
	nextID int64
}

func (l *Log) session(id string) *sessionLog {
	l.mu.RLock()
	s, ok := l.sessions[id]
	l.mu.RUnlock()
	if ok {
		return s
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.sessions[id]; ok {
		return s
	}
	s = &sessionLog{subs: make(map[int64]*subscriber)}
	l.sessions[id] = s
	return s
}

// Append validates the payload, appends to the session log, and publishes
// to live subscribers. Subscriber queues are unbounded, so the producer
// never blocks on a slow consumer.
func (l *Log) Append(_ context.Context, sessionID string, ev relay.Event) error {
	if err := relay.ValidatePayload(ev); err != nil {
		return err
	}
	s := l.session(sessionID)
	s.mu.Lock()
	s.events = append(s.events, ev)
	for _, sub := range s.subs {
		sub.push(ev)
	}
	n := len(s.events)
	s.mu.Unlock()
	l.logger.Debug("event appended", "session", sessionID, "type", string(ev.Type), "log_len", n)
	return nil
}

// Events returns the full ordered log for a session. Unknown sessions
// yield an empty slice.
func (l *Log) Events(_ context.Context, sessionID string) ([]relay.Event, error) {
	l.mu.RLock()
	s, ok := l.sessions[sessionID]
	l.mu.RUnlock()
	if !ok {
		return []relay.Event{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]relay.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

// Stream subscribes to a session's live events. Only events appended after
// the call returns are delivered; history is never replayed. The channel
// closes when ctx is cancelled.
func (l *Log) Stream(ctx context.Context, sessionID string) (<-chan relay.Event, error) {
	s := l.session(sessionID)
	sub := newSubscriber()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	ch := make(chan relay.Event)
	go func() {
		defer close(ch)
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		sub.pump(ctx, ch)
	}()

	// Close the subscriber when ctx ends so pump wakes from its cond wait.
	go func() {
		<-ctx.Done()
		sub.close()
	}()

	l.logger.Debug("subscriber attached", "session", sessionID)
	return ch, nil
}

// subscriber is one consumer's unbounded event queue. push never blocks;
// pump delivers in order, exactly once.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []relay.Event
	closed bool
}

func newSubscriber() *subscriber {
	sub := &subscriber{}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (s *subscriber) push(ev relay.Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// pump moves queued events to ch until the subscriber closes. Delivery of
// already-queued events continues after close only if the consumer keeps
// reading; a cancelled ctx drops the remainder.
func (s *subscriber) pump(ctx context.Context, ch chan<- relay.Event) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}
