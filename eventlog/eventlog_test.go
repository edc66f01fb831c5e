package eventlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/okanta/relay"
)

func TestOpenMemory(t *testing.T) {
	for _, url := range []string{"memory", ""} {
		es, err := Open(context.Background(), url)
		if err != nil {
			t.Fatalf("Open(%q): %v", url, err)
		}
		if es == nil {
			t.Fatalf("Open(%q) returned nil store", url)
		}
	}
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	es, err := Open(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatal(err)
	}
	ev := relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: "hi"})
	if err := es.Append(context.Background(), "s1", ev); err != nil {
		t.Fatal(err)
	}
	events, err := es.Events(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("len = %d, want 1", len(events))
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "redis://localhost")
	var invalid *relay.InvalidBackendError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *InvalidBackendError", err)
	}
	if invalid.Backend != "redis://localhost" {
		t.Errorf("Backend = %q", invalid.Backend)
	}
}
