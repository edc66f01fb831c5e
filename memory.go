package relay

import (
	"context"
	"fmt"
)

// TrimMode selects how retrieval bounds conversation history.
type TrimMode string

const (
	// TrimTokenBudget keeps the most recent turns whose cumulative token
	// estimate does not exceed the configured value.
	TrimTokenBudget TrimMode = "token_budget"
	// TrimTurnCount keeps at most the configured number of most recent turns.
	TrimTurnCount TrimMode = "turn_count"
	// TrimUnbounded disables trimming.
	TrimUnbounded TrimMode = "unbounded"
)

// MemoryConfig is the active trimming policy. It is read by every retrieval
// and mutated only via SetConfig; changing it never alters stored history,
// only what subsequent retrievals return.
type MemoryConfig struct {
	Mode  TrimMode `json:"mode"`
	Value int      `json:"value,omitempty"`
}

// DefaultMemoryConfig returns the unbounded policy.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{Mode: TrimUnbounded}
}

// ParseTrimMode maps a configuration string onto a TrimMode. The empty
// string means unbounded; any other unrecognized value is rejected rather
// than silently behaving as unbounded.
func ParseTrimMode(s string) (TrimMode, error) {
	switch m := TrimMode(s); m {
	case "":
		return TrimUnbounded, nil
	case TrimTokenBudget, TrimTurnCount, TrimUnbounded:
		return m, nil
	default:
		return "", fmt.Errorf("unknown trim mode %q", s)
	}
}

// MemoryStore persists conversation turns per session/agent scope. All
// backends implement the same capability interface; backend-specific
// required query fields (multi-tenant identity) are validated by the
// backend itself, not by branching in the router.
//
// Implementations must isolate sessions from each other: a retrieval for
// one session never observes turns stored under another.
type MemoryStore interface {
	// StoreTurn appends a turn to its session/agent scope.
	StoreTurn(ctx context.Context, turn Turn) error

	// Turns returns the ordered turns for the query's scope, trimmed
	// according to the active MemoryConfig. Backends that require identity
	// fields return a *MissingIdentityError when they are absent.
	Turns(ctx context.Context, q TurnQuery) ([]Turn, error)

	// Clear irreversibly discards all turns for the scope. Clearing a scope
	// that does not exist is a no-op.
	Clear(ctx context.Context, sessionID, agentName string) error

	// SetConfig switches the trimming policy for subsequent retrievals.
	SetConfig(cfg MemoryConfig)

	// Close releases backend resources.
	Close() error
}

// TrimTurns applies a MemoryConfig to an ordered turn history and returns
// the retained suffix. All backends share this so the policy behaves
// identically regardless of storage. The counter is only consulted in
// token-budget mode; a nil counter falls back to the heuristic estimate.
func TrimTurns(turns []Turn, cfg MemoryConfig, counter TokenCounter) []Turn {
	switch cfg.Mode {
	case TrimTurnCount:
		if cfg.Value <= 0 {
			return nil
		}
		if len(turns) > cfg.Value {
			return turns[len(turns)-cfg.Value:]
		}
		return turns
	case TrimTokenBudget:
		if cfg.Value <= 0 {
			return nil
		}
		if counter == nil {
			counter = HeuristicCounter{}
		}
		budget := cfg.Value
		// Walk backwards so the most recent turns win; a turn that would
		// push the sum over budget is excluded along with everything older.
		start := len(turns)
		for i := len(turns) - 1; i >= 0; i-- {
			cost := counter.Count(turns[i].Content)
			if cost > budget {
				break
			}
			budget -= cost
			start = i
		}
		return turns[start:]
	default:
		return turns
	}
}
