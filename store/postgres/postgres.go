// Package postgres provides a multi-tenant MemoryStore backed by
// PostgreSQL. Unlike the single-tenant backends, every turn is scoped by
// user and application identity in addition to session and agent, so one
// database can serve many deployments without cross-tenant leakage.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

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

// Store implements relay.MemoryStore on a PostgreSQL connection pool.
// All operations require the caller's user and application identity;
// requests without them fail with *relay.MissingIdentityError rather
// than silently widening the query.
type Store struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	counter relay.TokenCounter

	userID  string
	appName string

	mu  sync.RWMutex
	cfg relay.MemoryConfig
}

var _ relay.MemoryStore = (*Store)(nil)

// Open connects to the database at url and verifies the connection.
// userID and appName identify the tenant; both are required.
func Open(ctx context.Context, url, userID, appName string, opts ...StoreOption) (*Store, error) {
	if userID == "" {
		return nil, &relay.MissingIdentityError{Backend: "postgres", Field: "user_id"}
	}
	if appName == "" {
		return nil, &relay.MissingIdentityError{Backend: "postgres", Field: "app_name"}
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{
		pool:    pool,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		counter: relay.HeuristicCounter{},
		userID:  userID,
		appName: appName,
		cfg:     relay.DefaultMemoryConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates the turns table and its tenant-scoped index. Safe to call
// multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		app_name TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB,
		created_at BIGINT NOT NULL,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		s.logger.Error("postgres: init failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("postgres: init turns: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS turns_tenant_idx
		ON turns(user_id, app_name, session_id, agent_name, created_at)`)
	if err != nil {
		return fmt.Errorf("postgres: init turns index: %w", err)
	}
	s.logger.Info("postgres: init completed", "duration", time.Since(start))
	return nil
}

// StoreTurn appends a turn under the store's tenant identity.
func (s *Store) StoreTurn(ctx context.Context, turn relay.Turn) error {
	start := time.Now()
	var metadata []byte
	if len(turn.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(turn.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, user_id, app_name, session_id, agent_name, role, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		turn.ID, s.userID, s.appName, turn.SessionID, turn.AgentName, turn.Role, turn.Content, metadata, turn.CreatedAt)
	if err != nil {
		s.logger.Error("postgres: store turn failed", "id", turn.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("postgres: store turn: %w", err)
	}
	s.logger.Debug("postgres: turn stored", "id", turn.ID, "role", turn.Role, "duration", time.Since(start))
	return nil
}

// Turns returns the scope's turns in insertion order, trimmed by the
// active config. The query's identity fields must match the store's
// tenant; empty fields are rejected with *relay.MissingIdentityError.
func (s *Store) Turns(ctx context.Context, q relay.TurnQuery) ([]relay.Turn, error) {
	if q.UserID == "" {
		return nil, &relay.MissingIdentityError{Backend: "postgres", Field: "user_id"}
	}
	if q.AppName == "" {
		return nil, &relay.MissingIdentityError{Backend: "postgres", Field: "app_name"}
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, agent_name, role, content, metadata, created_at
		 FROM turns
		 WHERE user_id = $1 AND app_name = $2 AND session_id = $3 AND agent_name = $4
		 ORDER BY created_at, inserted_at`,
		q.UserID, q.AppName, q.SessionID, q.AgentName)
	if err != nil {
		s.logger.Error("postgres: load turns failed", "session", q.SessionID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("postgres: load turns: %w", err)
	}
	defer rows.Close()

	var turns []relay.Turn
	for rows.Next() {
		var (
			t        relay.Turn
			metadata []byte
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.AgentName, &t.Role, &t.Content, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode metadata: %w", err)
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
	s.logger.Debug("postgres: turns loaded", "session", q.SessionID, "total", len(turns), "returned", len(trimmed), "duration", time.Since(start))
	return trimmed, nil
}

// Clear discards all turns for the scope within the store's tenant.
func (s *Store) Clear(ctx context.Context, sessionID, agentName string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM turns WHERE user_id = $1 AND app_name = $2 AND session_id = $3 AND agent_name = $4`,
		s.userID, s.appName, sessionID, agentName)
	if err != nil {
		return fmt.Errorf("postgres: clear turns: %w", err)
	}
	return nil
}

// SetConfig switches the trimming policy for subsequent retrievals.
func (s *Store) SetConfig(cfg relay.MemoryConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
