// Package relay is an agent-orchestration runtime for Go.
//
// It drives a loop in which a language model proposes actions, those actions
// are executed against registered tools (local functions or remote MCP
// servers), and results are fed back until the model produces a final
// answer. Everything that happens during a run is published to an
// append-only, per-session event log and persisted to a pluggable
// conversation memory backend.
//
// # Quick Start
//
//	provider := openai.New(baseURL, apiKey, "gpt-4o-mini")
//	events := memory.NewLog()
//	mem, _ := store.Open(ctx, "in_memory")
//
//	reg := relay.NewRegistry()
//	calc.Register(reg)
//
//	agent := relay.NewAgent(
//		"assistant",
//		"You are a helpful assistant.",
//		provider,
//		relay.WithTools(reg),
//		relay.WithEvents(events),
//		relay.WithMemory(mem),
//		relay.WithLimits(relay.Limits{MaxSteps: 8, ToolTimeout: 30 * time.Second}),
//	)
//
//	result, err := agent.Run(ctx, sessionID, "What is 5 + 3?")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [ModelProvider] — the language-model collaborator (opaque, possibly slow)
//   - [EventStore] — append-only session event log with live subscription
//   - [MemoryStore] — conversation turn persistence with trimming policy
//   - [Registry] — tool name → callable + declared parameter schema
//   - [Tracer] — optional span instrumentation (observer provides OTEL)
//
// # Included Implementations
//
// Event logs: eventlog/memory (volatile), eventlog/sqlite (durable, replay).
// Memory stores: store/inmemory, store/sqlite, store/postgres.
// Providers: provider/openai (OpenAI-compatible HTTP APIs).
// Tools: tools/calc, tools/clock, tools/shell, tools/web, plus remote tools
// via the mcp package.
//
// See cmd/relay for a complete command-line application.
package relay
