package relay

import (
	"context"
	"sync"
)

// scriptProvider returns scripted responses in order and records every
// request it receives. After the script is exhausted it keeps returning
// the last entry.
type scriptProvider struct {
	mu       sync.Mutex
	script   []string
	errs     []error
	requests []CompletionRequest
	calls    int
	usage    Usage // reported on every response when non-zero
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Complete(_ context.Context, req CompletionRequest) (Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return Completion{}, p.errs[i]
	}
	if len(p.script) == 0 {
		return Completion{}, nil
	}
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	return Completion{Text: p.script[i], Usage: p.usage}, nil
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// memStore is a minimal in-package MemoryStore for loop tests.
type memStore struct {
	mu    sync.Mutex
	turns []Turn
	cfg   MemoryConfig
}

func newMemStore() *memStore {
	return &memStore{cfg: DefaultMemoryConfig()}
}

func (s *memStore) StoreTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Turns(_ context.Context, q TurnQuery) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var scoped []Turn
	for _, t := range s.turns {
		if t.SessionID == q.SessionID && t.AgentName == q.AgentName {
			scoped = append(scoped, t)
		}
	}
	return TrimTurns(scoped, s.cfg, nil), nil
}

func (s *memStore) Clear(_ context.Context, sessionID, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	for _, t := range s.turns {
		if t.SessionID != sessionID || t.AgentName != agentName {
			kept = append(kept, t)
		}
	}
	s.turns = kept
	return nil
}

func (s *memStore) SetConfig(cfg MemoryConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *memStore) Close() error { return nil }

// all returns a copy of every stored turn, across scopes.
func (s *memStore) all() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// memEvents is a minimal in-package EventStore for loop tests. It records
// appended events in order; Stream yields nothing.
type memEvents struct {
	mu     sync.Mutex
	events map[string][]Event
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string][]Event)}
}

func (s *memEvents) Append(_ context.Context, sessionID string, ev Event) error {
	if err := ValidatePayload(ev); err != nil {
		return err
	}
	s.mu.Lock()
	s.events[sessionID] = append(s.events[sessionID], ev)
	s.mu.Unlock()
	return nil
}

func (s *memEvents) Events(_ context.Context, sessionID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out, nil
}

func (s *memEvents) Stream(_ context.Context, _ string) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func (s *memEvents) types(sessionID string) []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events[sessionID]))
	for _, ev := range s.events[sessionID] {
		out = append(out, ev.Type)
	}
	return out
}

var (
	_ MemoryStore = (*memStore)(nil)
	_ EventStore  = (*memEvents)(nil)
)
