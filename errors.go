package relay

import (
	"fmt"
	"strconv"
	"time"
)

// PayloadMismatchError reports an event whose payload does not match the
// shape registered for its type. This is a programming error in the caller,
// not a recoverable runtime condition.
type PayloadMismatchError struct {
	Type EventType
	Got  string // runtime type of the offending payload
	Want string // registered payload type
}

func (e *PayloadMismatchError) Error() string {
	return fmt.Sprintf("event %q: payload is %s, want %s", e.Type, e.Got, e.Want)
}

// InvalidBackendError reports an unrecognized backend name or URL at
// construction time. The router never falls back to a different backend.
type InvalidBackendError struct {
	Backend string
}

func (e *InvalidBackendError) Error() string {
	return fmt.Sprintf("invalid backend %q", e.Backend)
}

// MissingIdentityError reports a retrieval against a multi-tenant backend
// without the identity fields it requires.
type MissingIdentityError struct {
	Backend string
	Field   string // "user_id" or "app_name"
}

func (e *MissingIdentityError) Error() string {
	return fmt.Sprintf("%s: %s is required", e.Backend, e.Field)
}

// ToolNotFoundError reports an execution request for a name that was never
// registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// InvalidArgumentsError reports arguments that fail the tool's declared
// parameter schema before the callable is invoked.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %s", e.Tool, e.Reason)
}

// ToolExecutionError wraps a failure (error or panic) raised inside a tool.
// The original message is preserved; the raw value is never propagated.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
}

// ModelCallError reports a failed call to the model collaborator after any
// configured retries were exhausted.
type ModelCallError struct {
	Provider string
	Err      error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call (%s): %v", e.Provider, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// HTTPError is a transport-level failure from an HTTP provider. The retry
// wrapper treats 429 and 503 as transient and honors RetryAfter.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value: either delay-seconds
// ("120") or an HTTP-date. Returns 0 for empty, malformed, or past values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
