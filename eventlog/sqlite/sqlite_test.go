package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/okanta/relay"
)

func openTestLog(t *testing.T, opts ...LogOption) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "events.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestAppendAndEventsRoundTrip(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	appended := []relay.Event{
		relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: "hi"}),
		relay.NewEvent(relay.EventToolCallResult, "a1", relay.ToolCallResultPayload{Tool: "add", Result: "8", DurationMS: 3, Step: 0}),
		relay.NewEvent(relay.EventFinalAnswer, "a1", relay.FinalAnswerPayload{Content: "8", Steps: 1}),
	}
	for _, ev := range appended {
		if err := log.Append(ctx, "s1", ev); err != nil {
			t.Fatal(err)
		}
	}

	events, err := log.Events(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	// Payloads come back as the same typed structs, not raw JSON.
	if p, ok := events[1].Payload.(relay.ToolCallResultPayload); !ok || p.Result != "8" || p.DurationMS != 3 {
		t.Errorf("payload = %#v", events[1].Payload)
	}
	for i := range events {
		if events[i].ID != appended[i].ID {
			t.Errorf("event %d: ID = %q, want %q", i, events[i].ID, appended[i].ID)
		}
	}
}

func TestEventsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, "s1", relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: "persist me"})); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if err := reopened.Init(ctx); err != nil {
		t.Fatal(err)
	}

	events, err := reopened.Events(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Payload.(relay.UserMessagePayload).Content != "persist me" {
		t.Errorf("events = %+v", events)
	}
}

func TestStreamWithReplay(t *testing.T) {
	log := openTestLog(t, WithReplay())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		ev := relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: fmt.Sprintf("old%d", i)})
		if err := log.Append(ctx, "s1", ev); err != nil {
			t.Fatal(err)
		}
	}

	ch, err := log.Stream(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, "s1", relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: "live"})); err != nil {
		t.Fatal(err)
	}

	want := []string{"old0", "old1", "old2", "live"}
	for i, w := range want {
		select {
		case ev := <-ch:
			if got := ev.Payload.(relay.UserMessagePayload).Content; got != w {
				t.Fatalf("event %d = %q, want %q", i, got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestStreamWithoutReplayIsLiveOnly(t *testing.T) {
	log := openTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := log.Append(ctx, "s1", relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: "old"})); err != nil {
		t.Fatal(err)
	}
	ch, err := log.Stream(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, "s1", relay.NewEvent(relay.EventUserMessage, "a1", relay.UserMessagePayload{Content: "new"})); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if got := ev.Payload.(relay.UserMessagePayload).Content; got != "new" {
			t.Fatalf("first event = %q, want new", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestAppendRejectsBadPayload(t *testing.T) {
	log := openTestLog(t)
	ev := relay.NewEvent(relay.EventFinalAnswer, "a1", relay.UserMessagePayload{Content: "wrong shape"})
	if err := log.Append(context.Background(), "s1", ev); err == nil {
		t.Fatal("bad payload accepted")
	}
}
