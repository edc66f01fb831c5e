package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	actionAdd   = `Action: {"tool": "add", "parameters": {"a": 3, "b": 5}}`
	finalEight  = "Final Answer: The sum is 8."
	answerEight = "The sum is 8."
)

func newTestAgent(t *testing.T, provider ModelProvider, opts ...AgentOption) (*Agent, *memStore, *memEvents) {
	t.Helper()
	mem := newMemStore()
	events := newMemEvents()
	base := []AgentOption{WithMemory(mem), WithEvents(events)}
	return NewAgent("tester", "You are a test agent.", provider, append(base, opts...)...), mem, events
}

func TestRunToolCallThenFinalAnswer(t *testing.T) {
	provider := &scriptProvider{script: []string{actionAdd, finalEight}}
	reg := NewRegistry()
	addTool(t, reg)
	agent, mem, events := newTestAgent(t, provider, WithTools(reg))

	result, err := agent.Run(context.Background(), "s1", "What is 3 + 5?")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeFinalAnswer {
		t.Fatalf("Outcome = %s, want final_answer", result.Outcome)
	}
	if result.Answer != answerEight {
		t.Errorf("Answer = %q, want %q", result.Answer, answerEight)
	}
	if provider.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", provider.callCount())
	}

	// Event log records every state transition in order.
	want := []EventType{
		EventUserMessage,
		EventAgentMessage,
		EventToolCallStarted,
		EventToolCallResult,
		EventAgentMessage,
		EventFinalAnswer,
	}
	got := events.types("s1")
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Memory holds user input, tool observation, and the final agent turn.
	turns := mem.all()
	if len(turns) != 3 {
		t.Fatalf("stored %d turns, want 3", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleTool || turns[2].Role != RoleAgent {
		t.Errorf("turn roles = %s/%s/%s", turns[0].Role, turns[1].Role, turns[2].Role)
	}
	if turns[1].Metadata["tool"] != "add" {
		t.Errorf("tool turn metadata = %v", turns[1].Metadata)
	}
	if turns[1].Content != "8" {
		t.Errorf("observation = %q, want 8", turns[1].Content)
	}

	// One dispatch trace with the tool's output.
	if len(result.Steps) != 1 || result.Steps[0].Tool != "add" || result.Steps[0].IsError {
		t.Errorf("Steps = %+v", result.Steps)
	}
}

func TestRunObservationFeedsNextPrompt(t *testing.T) {
	provider := &scriptProvider{script: []string{actionAdd, finalEight}}
	reg := NewRegistry()
	addTool(t, reg)
	agent, _, _ := newTestAgent(t, provider, WithTools(reg))

	if _, err := agent.Run(context.Background(), "s1", "sum please"); err != nil {
		t.Fatal(err)
	}

	// The second request's transcript must contain the tool observation.
	second := provider.requests[1]
	found := false
	for _, m := range second.Transcript {
		if m.Role == "tool" && m.Content == "8" {
			found = true
		}
	}
	if !found {
		t.Errorf("observation missing from second transcript: %+v", second.Transcript)
	}
}

func TestRunMaxStepsExactBudget(t *testing.T) {
	// The model never finishes; with MaxSteps=3 exactly 3 calls are issued.
	provider := &scriptProvider{script: []string{actionAdd}}
	reg := NewRegistry()
	addTool(t, reg)
	agent, _, _ := newTestAgent(t, provider, WithTools(reg),
		WithLimits(Limits{MaxSteps: 3}))

	result, err := agent.Run(context.Background(), "s1", "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeBudgetExceeded {
		t.Fatalf("Outcome = %s, want budget_exceeded", result.Outcome)
	}
	if result.BudgetReason != "max_steps" {
		t.Errorf("BudgetReason = %q, want max_steps", result.BudgetReason)
	}
	if provider.callCount() != 3 {
		t.Errorf("model calls = %d, want exactly 3", provider.callCount())
	}
	if len(result.Steps) != 3 {
		t.Errorf("Steps = %d, want 3", len(result.Steps))
	}
	if result.LastObservation != "8" {
		t.Errorf("LastObservation = %q", result.LastObservation)
	}
}

func TestRunRequestLimit(t *testing.T) {
	provider := &scriptProvider{script: []string{actionAdd}}
	reg := NewRegistry()
	addTool(t, reg)
	agent, _, _ := newTestAgent(t, provider, WithTools(reg),
		WithLimits(Limits{MaxSteps: 100, RequestLimit: 2}))

	result, err := agent.Run(context.Background(), "s1", "go")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeBudgetExceeded || result.BudgetReason != "request_limit" {
		t.Fatalf("got %s/%s, want budget_exceeded/request_limit", result.Outcome, result.BudgetReason)
	}
	if provider.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", provider.callCount())
	}
}

func TestRunTokenBudget(t *testing.T) {
	provider := &scriptProvider{
		script: []string{actionAdd},
		usage:  Usage{InputTokens: 60, OutputTokens: 50},
	}
	reg := NewRegistry()
	addTool(t, reg)
	agent, _, _ := newTestAgent(t, provider, WithTools(reg),
		WithLimits(Limits{MaxSteps: 100, TotalTokensLimit: 100}))

	result, err := agent.Run(context.Background(), "s1", "go")
	if err != nil {
		t.Fatal(err)
	}
	// First call consumes 110 tokens; the check before the second call trips.
	if result.Outcome != OutcomeBudgetExceeded || result.BudgetReason != "total_tokens_limit" {
		t.Fatalf("got %s/%s, want budget_exceeded/total_tokens_limit", result.Outcome, result.BudgetReason)
	}
	if provider.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", provider.callCount())
	}
	if result.Usage.Total() != 110 {
		t.Errorf("Usage.Total = %d, want 110", result.Usage.Total())
	}
}

func TestRunParseRetryOncePerStep(t *testing.T) {
	provider := &scriptProvider{script: []string{
		"I'm not sure what to do here.",
		finalEight,
	}}
	agent, _, _ := newTestAgent(t, provider)

	result, err := agent.Run(context.Background(), "s1", "sum please")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeFinalAnswer || result.Answer != answerEight {
		t.Fatalf("got %s %q", result.Outcome, result.Answer)
	}
	if provider.callCount() != 2 {
		t.Errorf("model calls = %d, want 2 (original + retry)", provider.callCount())
	}

	// The retry transcript carries the corrective instruction ephemerally.
	retry := provider.requests[1].Transcript
	last := retry[len(retry)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "neither an action nor a final answer") {
		t.Errorf("retry transcript missing corrective instruction: %+v", last)
	}
}

func TestRunParseRetryInstructionNotPersisted(t *testing.T) {
	provider := &scriptProvider{script: []string{"gibberish", finalEight}}
	agent, mem, _ := newTestAgent(t, provider)

	if _, err := agent.Run(context.Background(), "s1", "hello"); err != nil {
		t.Fatal(err)
	}
	for _, turn := range mem.all() {
		if strings.Contains(turn.Content, "neither an action nor a final answer") {
			t.Error("corrective instruction leaked into persisted memory")
		}
	}
}

func TestRunUnparseableTwiceBecomesFinalAnswer(t *testing.T) {
	provider := &scriptProvider{script: []string{"mumble one", "mumble two"}}
	agent, _, events := newTestAgent(t, provider)

	result, err := agent.Run(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeFinalAnswer {
		t.Fatalf("Outcome = %s, want final_answer", result.Outcome)
	}
	if result.Answer != "mumble two" {
		t.Errorf("Answer = %q, want raw text of the second reply", result.Answer)
	}
	got := events.types("s1")
	if got[len(got)-1] != EventFinalAnswer {
		t.Errorf("last event = %s, want final_answer", got[len(got)-1])
	}
}

func TestRunToolNotFoundContinuesLoop(t *testing.T) {
	provider := &scriptProvider{script: []string{
		`Action: {"tool": "nope", "parameters": {}}`,
		finalEight,
	}}
	agent, mem, events := newTestAgent(t, provider)

	result, err := agent.Run(context.Background(), "s1", "go")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeFinalAnswer {
		t.Fatalf("Outcome = %s, want final_answer after recovering", result.Outcome)
	}

	var errEv *ToolCallErrorPayload
	evs, _ := events.Events(context.Background(), "s1")
	for _, ev := range evs {
		if p, ok := ev.Payload.(ToolCallErrorPayload); ok {
			errEv = &p
		}
	}
	if errEv == nil {
		t.Fatal("no tool_call_error event emitted")
	}
	if errEv.Kind != "not_found" {
		t.Errorf("Kind = %q, want not_found", errEv.Kind)
	}

	// The observation names the failure so the model can adapt.
	var toolTurn *Turn
	for _, turn := range mem.all() {
		turn := turn
		if turn.Role == RoleTool {
			toolTurn = &turn
		}
	}
	if toolTurn == nil || !strings.Contains(toolTurn.Content, "not_found") {
		t.Errorf("observation = %+v", toolTurn)
	}
}

func TestRunToolTimeout(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	err := reg.Register("slow", "Never finishes in time", nil,
		func(_ context.Context, _ map[string]any) (any, error) {
			// Ignores cancellation on purpose: the dispatcher must abandon
			// the wait and discard this late result.
			<-release
			return "late", nil
		})
	if err != nil {
		t.Fatal(err)
	}
	defer close(release)

	provider := &scriptProvider{script: []string{
		`Action: {"tool": "slow", "parameters": {}}`,
		finalEight,
	}}
	agent, _, events := newTestAgent(t, provider, WithTools(reg),
		WithLimits(Limits{ToolTimeout: 50 * time.Millisecond}))

	start := time.Now()
	result, err := agent.Run(context.Background(), "s1", "go")
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run blocked on slow tool: %s", elapsed)
	}
	if result.Outcome != OutcomeFinalAnswer {
		t.Fatalf("Outcome = %s, want final_answer — timeout must not kill the run", result.Outcome)
	}

	evs, _ := events.Events(context.Background(), "s1")
	var timedOut bool
	for _, ev := range evs {
		if p, ok := ev.Payload.(ToolCallErrorPayload); ok && p.Kind == "timeout" {
			timedOut = true
		}
	}
	if !timedOut {
		t.Error("no timeout tool_call_error event")
	}
	if len(result.Steps) != 1 || !result.Steps[0].IsError {
		t.Errorf("Steps = %+v", result.Steps)
	}
}

func TestRunModelErrorIsOutcomeNotError(t *testing.T) {
	provider := &scriptProvider{errs: []error{errors.New("connection refused")}}
	agent, _, _ := newTestAgent(t, provider)

	result, err := agent.Run(context.Background(), "s1", "go")
	if err != nil {
		t.Fatalf("err = %v, want nil — model failure is an outcome", err)
	}
	if result.Outcome != OutcomeModelError {
		t.Fatalf("Outcome = %s, want model_error", result.Outcome)
	}
	var callErr *ModelCallError
	if !errors.As(result.Err, &callErr) {
		t.Fatalf("result.Err = %v, want *ModelCallError", result.Err)
	}
	if callErr.Provider != "script" {
		t.Errorf("Provider = %q", callErr.Provider)
	}
}

func TestRunCancellationReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &scriptProvider{script: []string{finalEight}}
	agent, _, _ := newTestAgent(t, provider)

	_, err := agent.Run(ctx, "s1", "go")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunSessionsAreIsolated(t *testing.T) {
	provider := &scriptProvider{script: []string{finalEight}}
	agent, mem, _ := newTestAgent(t, provider)

	if _, err := agent.Run(context.Background(), "s1", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := agent.Run(context.Background(), "s2", "second"); err != nil {
		t.Fatal(err)
	}

	s1, _ := mem.Turns(context.Background(), TurnQuery{SessionID: "s1", AgentName: "tester"})
	for _, turn := range s1 {
		if turn.Content == "second" {
			t.Error("s2 content visible in s1")
		}
	}
	// The second run's first transcript must not contain s1 history.
	for _, m := range provider.requests[1].Transcript {
		if m.Content == "first" {
			t.Error("s1 history leaked into s2 transcript")
		}
	}
}

func TestRunWithoutMemoryOrEvents(t *testing.T) {
	provider := &scriptProvider{script: []string{finalEight}}
	agent := NewAgent("bare", "instruction", provider)

	result, err := agent.Run(context.Background(), "s1", "go")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeFinalAnswer || result.Answer != answerEight {
		t.Errorf("got %s %q", result.Outcome, result.Answer)
	}
}

func TestRunSystemPromptAdvertisesTools(t *testing.T) {
	provider := &scriptProvider{script: []string{finalEight}}
	reg := NewRegistry()
	addTool(t, reg)
	agent, _, _ := newTestAgent(t, provider, WithTools(reg))

	if _, err := agent.Run(context.Background(), "s1", "go"); err != nil {
		t.Fatal(err)
	}
	system := provider.requests[0].System
	if !strings.Contains(system, "You are a test agent.") {
		t.Error("instruction missing from system prompt")
	}
	if !strings.Contains(system, "add: Add two numbers") {
		t.Error("tool advertisement missing from system prompt")
	}
	if !strings.Contains(system, "Final Answer:") {
		t.Error("behavior protocol missing from system prompt")
	}
}
