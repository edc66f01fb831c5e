package relay

import "context"

// ModelProvider abstracts the language-model collaborator. The agent loop
// treats Complete as an opaque, possibly slow, possibly failing call;
// transport failures should be wrapped in *HTTPError so the retry wrapper
// can classify them.
type ModelProvider interface {
	// Complete sends the system prompt and accumulated transcript and
	// returns the model's textual reply.
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	// Name returns the provider name (e.g. "openai", "gemini").
	Name() string
}
