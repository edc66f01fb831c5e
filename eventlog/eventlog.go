// Package eventlog selects an EventStore backend from deployment
// configuration. The choice is made once at process start and is fixed for
// the process lifetime; both backends expose the identical
// Append/Events/Stream contract.
package eventlog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/okanta/relay"
	"github.com/okanta/relay/eventlog/memory"
	"github.com/okanta/relay/eventlog/sqlite"
)

// Option configures the opened backend.
type Option func(*options)

type options struct {
	logger *slog.Logger
	replay bool
}

// WithLogger sets the structured logger passed to the backend.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReplay enables history replay for late subscribers. Only the durable
// backend honors it; the volatile backend is live-only by contract.
func WithReplay() Option {
	return func(o *options) { o.replay = true }
}

// Open constructs an EventStore from a backend URL:
//
//	memory               volatile, per-process
//	sqlite://events.db   durable, replay-capable
//
// Anything else is an *relay.InvalidBackendError — there is no fallback.
func Open(ctx context.Context, url string, opts ...Option) (relay.EventStore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case url == "memory" || url == "":
		var mopts []memory.LogOption
		if o.logger != nil {
			mopts = append(mopts, memory.WithLogger(o.logger))
		}
		return memory.NewLog(mopts...), nil

	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		var sopts []sqlite.LogOption
		if o.logger != nil {
			sopts = append(sopts, sqlite.WithLogger(o.logger))
		}
		if o.replay {
			sopts = append(sopts, sqlite.WithReplay())
		}
		log, err := sqlite.Open(path, sopts...)
		if err != nil {
			return nil, err
		}
		if err := log.Init(ctx); err != nil {
			return nil, err
		}
		return log, nil

	default:
		return nil, &relay.InvalidBackendError{Backend: url}
	}
}
