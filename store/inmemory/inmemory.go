// Package inmemory provides a volatile MemoryStore keyed by session and
// agent. It is the default backend for tests and single-process use.
package inmemory

import (
	"context"
	"sync"

	"github.com/okanta/relay"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTokenCounter sets the estimator used by token-budget trimming.
func WithTokenCounter(c relay.TokenCounter) StoreOption {
	return func(s *Store) { s.counter = c }
}

// Store implements relay.MemoryStore with per-scope in-memory turn lists.
// Scopes (session + agent) are fully isolated from each other.
type Store struct {
	mu      sync.RWMutex
	scopes  map[scopeKey][]relay.Turn
	cfg     relay.MemoryConfig
	counter relay.TokenCounter
}

var _ relay.MemoryStore = (*Store)(nil)

type scopeKey struct {
	sessionID string
	agentName string
}

// New creates an empty in-memory store with the unbounded trim policy.
func New(opts ...StoreOption) *Store {
	s := &Store{
		scopes:  make(map[scopeKey][]relay.Turn),
		cfg:     relay.DefaultMemoryConfig(),
		counter: relay.HeuristicCounter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StoreTurn appends a turn to its scope.
func (s *Store) StoreTurn(_ context.Context, turn relay.Turn) error {
	key := scopeKey{turn.SessionID, turn.AgentName}
	s.mu.Lock()
	s.scopes[key] = append(s.scopes[key], turn)
	s.mu.Unlock()
	return nil
}

// Turns returns the scope's turns, trimmed by the active config. Identity
// fields in the query are ignored — this backend is single-tenant.
func (s *Store) Turns(_ context.Context, q relay.TurnQuery) ([]relay.Turn, error) {
	s.mu.RLock()
	turns := s.scopes[scopeKey{q.SessionID, q.AgentName}]
	cfg := s.cfg
	counter := s.counter
	s.mu.RUnlock()

	trimmed := relay.TrimTurns(turns, cfg, counter)
	out := make([]relay.Turn, len(trimmed))
	copy(out, trimmed)
	return out, nil
}

// Clear discards all turns for the scope. No-op when the scope is unknown.
func (s *Store) Clear(_ context.Context, sessionID, agentName string) error {
	s.mu.Lock()
	delete(s.scopes, scopeKey{sessionID, agentName})
	s.mu.Unlock()
	return nil
}

// SetConfig switches the trimming policy for subsequent retrievals.
func (s *Store) SetConfig(cfg relay.MemoryConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }
