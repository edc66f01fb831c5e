package relay

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// EventType identifies the kind of a run event.
type EventType string

const (
	// EventUserMessage records the user input that started a run.
	EventUserMessage EventType = "user_message"
	// EventAgentMessage records raw model output for one step.
	EventAgentMessage EventType = "agent_message"
	// EventToolCallStarted records a tool dispatch, before execution.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolCallResult records a successful tool execution.
	EventToolCallResult EventType = "tool_call_result"
	// EventToolCallError records a failed or timed-out tool execution.
	EventToolCallError EventType = "tool_call_error"
	// EventFinalAnswer records the answer that terminated the run.
	EventFinalAnswer EventType = "final_answer"
)

// --- Payload shapes, one struct per event type ---

// UserMessagePayload is the payload for EventUserMessage.
type UserMessagePayload struct {
	Content string `json:"content"`
}

// AgentMessagePayload is the payload for EventAgentMessage.
type AgentMessagePayload struct {
	Content string `json:"content"`
	Step    int    `json:"step"`
}

// ToolCallStartedPayload is the payload for EventToolCallStarted.
type ToolCallStartedPayload struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
	Step int            `json:"step"`
}

// ToolCallResultPayload is the payload for EventToolCallResult.
type ToolCallResultPayload struct {
	Tool       string `json:"tool"`
	Result     string `json:"result"`
	DurationMS int64  `json:"duration_ms"`
	Step       int    `json:"step"`
}

// ToolCallErrorPayload is the payload for EventToolCallError.
// Kind distinguishes timeouts from tool-raised failures.
type ToolCallErrorPayload struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
	Kind  string `json:"kind"` // "timeout", "not_found", "invalid_arguments", "execution"
	Step  int    `json:"step"`
}

// FinalAnswerPayload is the payload for EventFinalAnswer.
type FinalAnswerPayload struct {
	Content string `json:"content"`
	Steps   int    `json:"steps"`
}

// Event is one immutable entry in a session's event log. Events are created
// by the agent loop at each state transition and are never mutated after
// Append — only appended and read.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	AgentName string    `json:"agent_name"`
	Payload   any       `json:"payload"`
	Timestamp int64     `json:"timestamp"`
}

// payloadShapes is the closed mapping from event type to the exact payload
// struct each type carries. Appending an event whose payload is any other
// runtime type is a PayloadMismatchError.
var payloadShapes = map[EventType]reflect.Type{
	EventUserMessage:     reflect.TypeOf(UserMessagePayload{}),
	EventAgentMessage:    reflect.TypeOf(AgentMessagePayload{}),
	EventToolCallStarted: reflect.TypeOf(ToolCallStartedPayload{}),
	EventToolCallResult:  reflect.TypeOf(ToolCallResultPayload{}),
	EventToolCallError:   reflect.TypeOf(ToolCallErrorPayload{}),
	EventFinalAnswer:     reflect.TypeOf(FinalAnswerPayload{}),
}

// NewEvent builds an event with a fresh ID and timestamp. The payload is
// not validated here; backends validate on Append.
func NewEvent(t EventType, agentName string, payload any) Event {
	return Event{
		ID:        NewID(),
		Type:      t,
		AgentName: agentName,
		Payload:   payload,
		Timestamp: NowUnix(),
	}
}

// ValidatePayload checks the event's payload against the registered shape
// for its type. Unknown types and shape mismatches return a
// *PayloadMismatchError. Every EventStore backend calls this on Append.
func ValidatePayload(ev Event) error {
	want, ok := payloadShapes[ev.Type]
	if !ok {
		return &PayloadMismatchError{Type: ev.Type, Got: typeName(ev.Payload), Want: "registered event type"}
	}
	if ev.Payload == nil || reflect.TypeOf(ev.Payload) != want {
		return &PayloadMismatchError{Type: ev.Type, Got: typeName(ev.Payload), Want: want.String()}
	}
	return nil
}

// DecodePayload reconstructs a typed payload from its JSON encoding, using
// the shape registered for the event type. Durable backends use this when
// reading events back so that replayed events carry the same payload types
// as live ones.
func DecodePayload(t EventType, data []byte) (any, error) {
	want, ok := payloadShapes[t]
	if !ok {
		return nil, &PayloadMismatchError{Type: t, Got: "raw bytes", Want: "registered event type"}
	}
	p := reflect.New(want)
	if err := json.Unmarshal(data, p.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p.Elem().Interface(), nil
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
