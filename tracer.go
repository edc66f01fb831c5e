package relay

import (
	"context"
	"io"
	"log/slog"
)

// Tracer creates spans for agent runs, model calls, and tool dispatches.
// The observer package provides an OTEL-backed implementation. When no
// Tracer is configured, span creation is skipped entirely.
type Tracer interface {
	// Start creates a span with the given name and attributes, returning a
	// child context carrying the span. Callers must call Span.End().
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span is a traced operation.
type Span interface {
	// SetAttr adds attributes after creation.
	SetAttr(attrs ...SpanAttr)
	// Error records an error and marks the span failed.
	Error(err error)
	// End completes the span. Must be called exactly once.
	End()
}

// SpanAttr is a key-value attribute attached to a span.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr creates a string-typed span attribute.
func StringAttr(k, v string) SpanAttr { return SpanAttr{Key: k, Value: v} }

// IntAttr creates an int-typed span attribute.
func IntAttr(k string, v int) SpanAttr { return SpanAttr{Key: k, Value: v} }

// BoolAttr creates a bool-typed span attribute.
func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }

// nopLogger discards everything. Used wherever a logger option was not set
// so call sites never nil-check.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
