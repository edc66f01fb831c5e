package relay

import (
	"context"
	"log/slog"
	"time"
)

// Default budgets applied when a limit is left zero.
const (
	defaultMaxSteps     = 10
	defaultRequestLimit = 25
	defaultToolTimeout  = 30 * time.Second
)

// Limits bounds one run. Each limit is a hard ceiling checked strictly
// before the next model call is issued, so a run never exceeds its
// configured step count. TotalTokensLimit of zero means unlimited.
type Limits struct {
	MaxSteps         int
	RequestLimit     int
	TotalTokensLimit int
	ToolTimeout      time.Duration
}

// withDefaults fills unset limits.
func (l Limits) withDefaults() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = defaultMaxSteps
	}
	if l.RequestLimit <= 0 {
		l.RequestLimit = defaultRequestLimit
	}
	if l.ToolTimeout <= 0 {
		l.ToolTimeout = defaultToolTimeout
	}
	return l
}

// Outcome classifies how a run terminated. Every terminal state returns a
// structured RunResult; the error return from Run is reserved for caller
// cancellation and misuse.
type Outcome string

const (
	// OutcomeFinalAnswer means the model produced a final answer.
	OutcomeFinalAnswer Outcome = "final_answer"
	// OutcomeBudgetExceeded means a step, request, or token budget tripped.
	// Not an error: the result carries the partial transcript.
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	// OutcomeModelError means model communication failed after retries.
	OutcomeModelError Outcome = "model_error"
)

// StepTrace summarizes one tool dispatch for the run result.
type StepTrace struct {
	Tool     string        `json:"tool"`
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
	IsError  bool          `json:"is_error"`
}

// RunResult is the structured terminal state of a run.
type RunResult struct {
	Outcome Outcome `json:"outcome"`
	// Answer is set for OutcomeFinalAnswer.
	Answer string `json:"answer,omitempty"`
	// BudgetReason names the tripped budget for OutcomeBudgetExceeded.
	BudgetReason string `json:"budget_reason,omitempty"`
	// Err carries the model failure for OutcomeModelError.
	Err error `json:"-"`

	Steps           []StepTrace `json:"steps,omitempty"`
	Usage           Usage       `json:"usage"`
	LastObservation string      `json:"last_observation,omitempty"`
}

// Agent drives the Thought → Action → Observation loop for one configured
// instruction, provider, and tool set. Agents are stateless across runs —
// all conversational state lives in the MemoryStore and EventStore — so a
// single Agent may serve many sessions concurrently.
type Agent struct {
	name         string
	provider     ModelProvider
	tools        *Registry
	events       EventStore
	memory       MemoryStore
	prompt       PromptBuilder
	limits       Limits
	gen          GenerationConfig
	counter      TokenCounter
	tracer       Tracer
	logger       *slog.Logger
	userID       string
	appName      string
	parseRetries int
}

// AgentOption configures an Agent at construction.
type AgentOption func(*Agent)

// WithTools attaches the tool registry. Without it the agent can only
// answer directly.
func WithTools(reg *Registry) AgentOption {
	return func(a *Agent) { a.tools = reg }
}

// WithEvents attaches the event store. All state transitions emit an event.
func WithEvents(es EventStore) AgentOption {
	return func(a *Agent) { a.events = es }
}

// WithMemory attaches the conversation memory store, typically opened via
// store.Open. Without it each run starts from an empty transcript.
func WithMemory(m MemoryStore) AgentOption {
	return func(a *Agent) { a.memory = m }
}

// WithLimits sets the run budgets.
func WithLimits(l Limits) AgentOption {
	return func(a *Agent) { a.limits = l }
}

// WithGeneration sets provider-level generation settings for every call.
func WithGeneration(g GenerationConfig) AgentOption {
	return func(a *Agent) { a.gen = g }
}

// WithPromptSuffix overrides the default behavioral suffix in the system
// prompt.
func WithPromptSuffix(s string) AgentOption {
	return func(a *Agent) { a.prompt.Suffix = s }
}

// WithClock overrides the timestamp source used in the system prompt.
// Tests use this for reproducible prompts.
func WithClock(now func() time.Time) AgentOption {
	return func(a *Agent) { a.prompt.Now = now }
}

// WithTokenCounter sets the estimator for token budgets and usage
// accounting. Defaults to the heuristic counter.
func WithTokenCounter(c TokenCounter) AgentOption {
	return func(a *Agent) { a.counter = c }
}

// WithTracer enables span instrumentation for runs, model calls, and tool
// dispatches.
func WithTracer(t Tracer) AgentOption {
	return func(a *Agent) { a.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithIdentity sets the tenant identity forwarded on memory queries.
// Required when the memory backend is multi-tenant (store/postgres).
func WithIdentity(userID, appName string) AgentOption {
	return func(a *Agent) { a.userID = userID; a.appName = appName }
}

// NewAgent creates an agent with the given name, base system instruction,
// and model provider.
func NewAgent(name, instruction string, provider ModelProvider, opts ...AgentOption) *Agent {
	a := &Agent{
		name:         name,
		provider:     provider,
		prompt:       PromptBuilder{Instruction: instruction},
		counter:      HeuristicCounter{},
		logger:       nopLogger,
		parseRetries: 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limits = a.limits.withDefaults()
	if a.tools == nil {
		a.tools = NewRegistry()
	}
	return a
}

// Name returns the agent name, stamped on every event and turn.
func (a *Agent) Name() string { return a.name }

// Run executes one end-to-end loop for a user message within a session.
// The returned RunResult always distinguishes its outcome kind; the error
// is non-nil only for context cancellation or a broken memory/event
// backend, never for budget exhaustion or model failure.
func (a *Agent) Run(ctx context.Context, sessionID, input string) (RunResult, error) {
	a.logger.Info("run started", "agent", a.name, "session", sessionID)

	var span Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "agent.run",
			StringAttr("agent.name", a.name),
			StringAttr("session.id", sessionID))
		defer span.End()
	}

	result, err := a.runLoop(ctx, sessionID, input)

	if span != nil {
		span.SetAttr(
			StringAttr("run.outcome", string(result.Outcome)),
			IntAttr("tokens.input", result.Usage.InputTokens),
			IntAttr("tokens.output", result.Usage.OutputTokens))
		if err != nil {
			span.Error(err)
		}
	}
	a.logger.Info("run finished", "agent", a.name, "session", sessionID,
		"outcome", string(result.Outcome),
		"steps", len(result.Steps),
		"tokens.input", result.Usage.InputTokens,
		"tokens.output", result.Usage.OutputTokens)
	return result, err
}

// query builds the memory query for a session, carrying tenant identity
// when configured.
func (a *Agent) query(sessionID string) TurnQuery {
	return TurnQuery{
		SessionID: sessionID,
		AgentName: a.name,
		UserID:    a.userID,
		AppName:   a.appName,
	}
}
