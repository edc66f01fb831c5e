package relay

import "context"

// EventStore is an append-only, per-session ordered log of typed events
// with a live subscription stream. Session logs are independent and created
// lazily on first append. Implementations must be safe for concurrent use
// across sessions.
//
// Backends are selected once at process start (see eventlog.Open) and are
// interchangeable: eventlog/memory is volatile and per-process,
// eventlog/sqlite is durable and can replay history to late subscribers.
type EventStore interface {
	// Append validates the event's payload against the registered shape for
	// its type (PayloadMismatchError on disagreement), appends it to the
	// session's log, and publishes it to live subscribers. Append never
	// blocks on slow subscribers.
	Append(ctx context.Context, sessionID string, ev Event) error

	// Events returns the full ordered log for a session. A session with no
	// appends yields an empty slice, never an error.
	Events(ctx context.Context, sessionID string) ([]Event, error)

	// Stream returns a live event channel for a session. The channel is
	// lazy, infinite, and non-restartable: it closes only when ctx is
	// cancelled. A subscriber observes every event appended after the call
	// returns, exactly once, in append order. Whether events appended
	// before subscription are replayed is backend policy: eventlog/memory
	// never replays, eventlog/sqlite replays when opened with replay
	// enabled.
	Stream(ctx context.Context, sessionID string) (<-chan Event, error)
}
