package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/okanta/relay"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreTurnRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stored := relay.Turn{
		ID: relay.NewID(), SessionID: "s1", AgentName: "a1",
		Role: relay.RoleTool, Content: "8",
		Metadata:  map[string]string{"tool": "add"},
		CreatedAt: 1700000000,
	}
	if err := s.StoreTurn(ctx, stored); err != nil {
		t.Fatal(err)
	}

	turns, err := s.Turns(ctx, relay.TurnQuery{SessionID: "s1", AgentName: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatalf("len = %d, want 1", len(turns))
	}
	got := turns[0]
	if got.ID != stored.ID || got.Role != relay.RoleTool || got.Content != "8" || got.CreatedAt != 1700000000 {
		t.Errorf("turn = %+v", got)
	}
	if got.Metadata["tool"] != "add" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestTurnsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	_ = s.StoreTurn(ctx, relay.Turn{ID: relay.NewID(), SessionID: "s1", AgentName: "a1", Role: relay.RoleUser, Content: "keep", CreatedAt: 1})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if err := s2.Init(ctx); err != nil {
		t.Fatal(err)
	}
	turns, err := s2.Turns(ctx, relay.TurnQuery{SessionID: "s1", AgentName: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Content != "keep" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestTrimAppliedAtRetrieval(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_ = s.StoreTurn(ctx, relay.Turn{
			ID: relay.NewID(), SessionID: "s1", AgentName: "a1",
			Role: relay.RoleUser, Content: fmt.Sprintf("m%d", i), CreatedAt: int64(i),
		})
	}

	s.SetConfig(relay.MemoryConfig{Mode: relay.TrimTurnCount, Value: 2})
	turns, err := s.Turns(ctx, relay.TurnQuery{SessionID: "s1", AgentName: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Content != "m4" || turns[1].Content != "m5" {
		t.Errorf("turns = %+v", turns)
	}

	s.SetConfig(relay.DefaultMemoryConfig())
	turns, _ = s.Turns(ctx, relay.TurnQuery{SessionID: "s1", AgentName: "a1"})
	if len(turns) != 6 {
		t.Errorf("len = %d, want 6 — trimming must not delete rows", len(turns))
	}
}

func TestClearScopes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.StoreTurn(ctx, relay.Turn{ID: relay.NewID(), SessionID: "s1", AgentName: "a1", Role: relay.RoleUser, Content: "x", CreatedAt: 1})
	_ = s.StoreTurn(ctx, relay.Turn{ID: relay.NewID(), SessionID: "s1", AgentName: "a2", Role: relay.RoleUser, Content: "y", CreatedAt: 2})

	if err := s.Clear(ctx, "s1", "a1"); err != nil {
		t.Fatal(err)
	}
	if turns, _ := s.Turns(ctx, relay.TurnQuery{SessionID: "s1", AgentName: "a1"}); len(turns) != 0 {
		t.Error("a1 scope not cleared")
	}
	if turns, _ := s.Turns(ctx, relay.TurnQuery{SessionID: "s1", AgentName: "a2"}); len(turns) != 1 {
		t.Error("clear crossed agent scopes")
	}
}
