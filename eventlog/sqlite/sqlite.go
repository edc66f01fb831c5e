// Package sqlite provides a durable EventStore backed by SQLite. Events
// survive process restarts, and subscribers opened with replay enabled
// receive the session's full history before live events.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/okanta/relay"
)

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogger sets a structured logger for append and subscription activity.
func WithLogger(l *slog.Logger) LogOption {
	return func(s *Log) { s.logger = l }
}

// WithReplay makes Stream deliver the session's existing events before
// live ones. Without it the durable backend behaves like eventlog/memory:
// subscribers only see events appended after they attach.
func WithReplay() LogOption {
	return func(s *Log) { s.replay = true }
}

// Log implements relay.EventStore on a SQLite database. Ordering within a
// session is the insertion sequence. Live fan-out is in-process: a
// subscriber sees events appended by this process; replay covers events
// from earlier processes.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	replay bool

	mu   sync.Mutex
	subs map[string]map[int64]*subscriber
	next int64
}

var _ relay.EventStore = (*Log)(nil)

// Open opens (or creates) the event database at path.
func Open(path string, opts ...LogOption) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	s := &Log{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:   make(map[string]map[int64]*subscriber),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates the events table. Safe to call multiple times.
func (l *Log) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: init events: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS events_session_idx ON events(session_id, seq)`)
	if err != nil {
		return fmt.Errorf("sqlite: init events index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append validates the payload, persists the event, and fans out to live
// subscribers. The insert and fan-out happen under the subscription lock
// so a concurrent replaying subscriber cannot miss or duplicate the event.
func (l *Log) Append(ctx context.Context, sessionID string, ev relay.Event) error {
	if err := relay.ValidatePayload(ev); err != nil {
		return err
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("sqlite: marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO events (id, session_id, type, agent_name, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, sessionID, string(ev.Type), ev.AgentName, string(payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlite: append event: %w", err)
	}
	for _, sub := range l.subs[sessionID] {
		sub.push(ev)
	}
	l.logger.Debug("event appended", "session", sessionID, "type", string(ev.Type))
	return nil
}

// Events returns the full ordered log for a session, reconstructing typed
// payloads from their JSON encoding.
func (l *Log) Events(ctx context.Context, sessionID string) ([]relay.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, agent_name, payload, timestamp FROM events WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	events := []relay.Event{}
	for rows.Next() {
		var (
			ev      relay.Event
			typ     string
			payload string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.AgentName, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		ev.Type = relay.EventType(typ)
		decoded, err := relay.DecodePayload(ev.Type, []byte(payload))
		if err != nil {
			return nil, err
		}
		ev.Payload = decoded
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stream subscribes to a session. With replay enabled the subscriber's
// queue is preloaded with the session's history under the same lock that
// guards appends, so the hand-off from stored to live events is gapless.
func (l *Log) Stream(ctx context.Context, sessionID string) (<-chan relay.Event, error) {
	sub := newSubscriber()

	l.mu.Lock()
	if l.replay {
		history, err := l.Events(ctx, sessionID)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		for _, ev := range history {
			sub.push(ev)
		}
	}
	if l.subs[sessionID] == nil {
		l.subs[sessionID] = make(map[int64]*subscriber)
	}
	id := l.next
	l.next++
	l.subs[sessionID][id] = sub
	l.mu.Unlock()

	ch := make(chan relay.Event)
	go func() {
		defer close(ch)
		defer func() {
			l.mu.Lock()
			delete(l.subs[sessionID], id)
			l.mu.Unlock()
		}()
		sub.pump(ctx, ch)
	}()
	go func() {
		<-ctx.Done()
		sub.close()
	}()

	l.logger.Debug("subscriber attached", "session", sessionID, "replay", l.replay)
	return ch, nil
}

// subscriber is one consumer's unbounded in-order queue; push never blocks.
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
