// Package sqlite provides a persistent MemoryStore backed by SQLite.
// Turns survive restarts; trimming is applied at retrieval time so a
// config change never alters stored history.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okanta/relay"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. When set, the store emits debug
// logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithTokenCounter sets the estimator used by token-budget trimming.
func WithTokenCounter(c relay.TokenCounter) StoreOption {
	return func(s *Store) { s.counter = c }
}

// Store implements relay.MemoryStore backed by SQLite.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	counter relay.TokenCounter

	mu  sync.RWMutex
	cfg relay.MemoryConfig
}

var _ relay.MemoryStore = (*Store)(nil)

// Open opens (or creates) the turn database at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{
		db:      db,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		counter: relay.HeuristicCounter{},
		cfg:     relay.DefaultMemoryConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates the turns table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		s.logger.Error("sqlite: init failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: init turns: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS turns_scope_idx ON turns(session_id, agent_name, created_at)`)
	if err != nil {
		return fmt.Errorf("sqlite: init turns index: %w", err)
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// StoreTurn appends a turn to its scope.
func (s *Store) StoreTurn(ctx context.Context, turn relay.Turn) error {
	start := time.Now()
	var metadata any
	if len(turn.Metadata) > 0 {
		data, err := json.Marshal(turn.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		metadata = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, agent_name, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.AgentName, turn.Role, turn.Content, metadata, turn.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: store turn failed", "id", turn.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: store turn: %w", err)
	}
	s.logger.Debug("sqlite: turn stored", "id", turn.ID, "role", turn.Role, "duration", time.Since(start))
	return nil
}

// Turns returns the scope's turns in insertion order, trimmed by the
// active config. Identity fields are ignored — single-tenant backend.
func (s *Store) Turns(ctx context.Context, q relay.TurnQuery) ([]relay.Turn, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, agent_name, role, content, metadata, created_at
		 FROM turns WHERE session_id = ? AND agent_name = ? ORDER BY created_at, rowid`,
		q.SessionID, q.AgentName)
	if err != nil {
		s.logger.Error("sqlite: load turns failed", "session", q.SessionID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: load turns: %w", err)
	}
	defer rows.Close()

	var turns []relay.Turn
	for rows.Next() {
		var (
			t        relay.Turn
			metadata sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.AgentName, &t.Role, &t.Content, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: decode metadata: %w", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	trimmed := relay.TrimTurns(turns, cfg, s.counter)
	s.logger.Debug("sqlite: turns loaded", "session", q.SessionID, "total", len(turns), "returned", len(trimmed), "duration", time.Since(start))
	return trimmed, nil
}

// Clear discards all turns for the scope.
func (s *Store) Clear(ctx context.Context, sessionID, agentName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND agent_name = ?`, sessionID, agentName)
	if err != nil {
		return fmt.Errorf("sqlite: clear turns: %w", err)
	}
	return nil
}

// SetConfig switches the trimming policy for subsequent retrievals.
func (s *Store) SetConfig(cfg relay.MemoryConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
