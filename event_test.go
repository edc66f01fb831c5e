package relay

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidatePayloadAcceptsRegisteredShapes(t *testing.T) {
	cases := []struct {
		typ     EventType
		payload any
	}{
		{EventUserMessage, UserMessagePayload{Content: "hi"}},
		{EventAgentMessage, AgentMessagePayload{Content: "thinking", Step: 0}},
		{EventToolCallStarted, ToolCallStartedPayload{Tool: "add", Args: map[string]any{"a": 1.0}, Step: 1}},
		{EventToolCallResult, ToolCallResultPayload{Tool: "add", Result: "8", DurationMS: 3, Step: 1}},
		{EventToolCallError, ToolCallErrorPayload{Tool: "add", Error: "boom", Kind: "execution", Step: 1}},
		{EventFinalAnswer, FinalAnswerPayload{Content: "done", Steps: 2}},
	}
	for _, c := range cases {
		if err := ValidatePayload(NewEvent(c.typ, "a1", c.payload)); err != nil {
			t.Errorf("ValidatePayload(%s) = %v, want nil", c.typ, err)
		}
	}
}

func TestValidatePayloadRejectsMismatch(t *testing.T) {
	cases := []struct {
		name    string
		typ     EventType
		payload any
	}{
		{"wrong struct", EventUserMessage, FinalAnswerPayload{Content: "x"}},
		{"pointer instead of value", EventUserMessage, &UserMessagePayload{Content: "x"}},
		{"nil payload", EventFinalAnswer, nil},
		{"unknown type", EventType("made_up"), UserMessagePayload{Content: "x"}},
		{"raw string", EventAgentMessage, "just text"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidatePayload(NewEvent(c.typ, "a1", c.payload))
			var mismatch *PayloadMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("ValidatePayload = %v, want *PayloadMismatchError", err)
			}
		})
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	orig := ToolCallResultPayload{Tool: "add", Result: "8", DurationMS: 42, Step: 3}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodePayload(EventToolCallResult, data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decoded.(ToolCallResultPayload)
	if !ok {
		t.Fatalf("decoded payload is %T, want ToolCallResultPayload", decoded)
	}
	if got != orig {
		t.Errorf("decoded = %+v, want %+v", got, orig)
	}

	// Decoded payloads must pass validation like live ones.
	if err := ValidatePayload(NewEvent(EventToolCallResult, "a1", decoded)); err != nil {
		t.Errorf("replayed payload failed validation: %v", err)
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	if _, err := DecodePayload(EventType("nope"), []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestNewEventStampsIDAndTimestamp(t *testing.T) {
	ev := NewEvent(EventUserMessage, "a1", UserMessagePayload{Content: "hi"})
	if ev.ID == "" {
		t.Error("event ID is empty")
	}
	if ev.Timestamp == 0 {
		t.Error("event timestamp is zero")
	}
	if ev.AgentName != "a1" {
		t.Errorf("AgentName = %q, want a1", ev.AgentName)
	}
}
