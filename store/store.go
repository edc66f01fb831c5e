// Package store selects a MemoryStore backend from deployment
// configuration. Every backend exposes the identical
// StoreTurn/Turns/Clear/SetConfig contract, so swapping the backend URL
// never changes agent behavior — only durability and tenancy.
package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/okanta/relay"
	"github.com/okanta/relay/store/inmemory"
	"github.com/okanta/relay/store/postgres"
	"github.com/okanta/relay/store/sqlite"
)

// Option configures the opened backend.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	counter relay.TokenCounter
	userID  string
	appName string
}

// WithLogger sets the structured logger passed to the backend.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTokenCounter sets the estimator used by token-budget trimming.
func WithTokenCounter(c relay.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// WithIdentity sets the tenant identity. Required by the postgres
// backend; the single-tenant backends ignore it.
func WithIdentity(userID, appName string) Option {
	return func(o *options) {
		o.userID = userID
		o.appName = appName
	}
}

// Open constructs a MemoryStore from a backend URL:
//
//	in_memory                volatile, per-process
//	sqlite://memory.db       durable, single-tenant
//	postgres://host/db       durable, multi-tenant (identity required)
//
// Anything else is an *relay.InvalidBackendError — there is no fallback.
func Open(ctx context.Context, url string, opts ...Option) (relay.MemoryStore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case url == "in_memory" || url == "":
		var mopts []inmemory.StoreOption
		if o.counter != nil {
			mopts = append(mopts, inmemory.WithTokenCounter(o.counter))
		}
		return inmemory.New(mopts...), nil

	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		var sopts []sqlite.StoreOption
		if o.logger != nil {
			sopts = append(sopts, sqlite.WithLogger(o.logger))
		}
		if o.counter != nil {
			sopts = append(sopts, sqlite.WithTokenCounter(o.counter))
		}
		st, err := sqlite.Open(path, sopts...)
		if err != nil {
			return nil, err
		}
		if err := st.Init(ctx); err != nil {
			return nil, err
		}
		return st, nil

	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		var popts []postgres.StoreOption
		if o.logger != nil {
			popts = append(popts, postgres.WithLogger(o.logger))
		}
		if o.counter != nil {
			popts = append(popts, postgres.WithTokenCounter(o.counter))
		}
		st, err := postgres.Open(ctx, url, o.userID, o.appName, popts...)
		if err != nil {
			return nil, err
		}
		if err := st.Init(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil

	default:
		return nil, &relay.InvalidBackendError{Backend: url}
	}
}
