package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// parseRetryInstruction is appended to the transcript (never persisted)
// when the model's reply contained neither an action nor a final answer.
const parseRetryInstruction = `Your last reply contained neither an action nor a final answer. Reply with exactly one of:
Action: {"tool": "<name>", "parameters": {...}}
Final Answer: <answer>`

// maxObservationLen caps the rune length of an observation turn so a tool
// that dumps megabytes does not blow up every subsequent prompt. Event
// payloads keep the full content.
const maxObservationLen = 100_000

// runLoop is the core state machine: AWAITING_MODEL → PARSING_RESPONSE →
// {DISPATCHING_TOOL | FINALIZING} → loop | TERMINATED.
func (a *Agent) runLoop(ctx context.Context, sessionID, input string) (RunResult, error) {
	var (
		result   RunResult
		requests int
	)

	// Persist and announce the user message before the first model call so
	// the event log is a complete record even if the run dies immediately.
	if err := a.persistTurn(ctx, sessionID, RoleUser, input, nil); err != nil {
		return result, err
	}
	if err := a.emit(ctx, sessionID, EventUserMessage, UserMessagePayload{Content: input}); err != nil {
		return result, err
	}

	for step := 0; ; step++ {
		if reason := a.checkBudgets(step, requests, result.Usage); reason != "" {
			a.logger.Warn("budget exceeded", "agent", a.name, "session", sessionID,
				"reason", reason, "steps", step, "requests", requests, "tokens", result.Usage.Total())
			result.Outcome = OutcomeBudgetExceeded
			result.BudgetReason = reason
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		transcript, err := a.buildTranscript(ctx, sessionID)
		if err != nil {
			return result, err
		}
		system := a.prompt.Build(a.tools.Schemas())

		text, callErr := a.callModel(ctx, system, transcript, &result.Usage)
		requests++
		if callErr != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Outcome = OutcomeModelError
			result.Err = &ModelCallError{Provider: a.provider.Name(), Err: callErr}
			return result, nil
		}
		if err := a.emit(ctx, sessionID, EventAgentMessage, AgentMessagePayload{Content: text, Step: step}); err != nil {
			return result, err
		}

		parsed, parseErr := parseResponse(text)
		for attempt := 0; parseErr != nil && attempt < a.parseRetries; attempt++ {
			// Recoverable: re-prompt once per step with a corrective
			// instruction, still subject to the request budget.
			if reason := a.checkBudgets(step, requests, result.Usage); reason != "" {
				result.Outcome = OutcomeBudgetExceeded
				result.BudgetReason = reason
				return result, nil
			}
			retryTranscript := append(append([]Message{}, transcript...),
				AssistantMessage(text), UserMessage(parseRetryInstruction))
			text, callErr = a.callModel(ctx, system, retryTranscript, &result.Usage)
			requests++
			if callErr != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Outcome = OutcomeModelError
				result.Err = &ModelCallError{Provider: a.provider.Name(), Err: callErr}
				return result, nil
			}
			if err := a.emit(ctx, sessionID, EventAgentMessage, AgentMessagePayload{Content: text, Step: step}); err != nil {
				return result, err
			}
			parsed, parseErr = parseResponse(text)
		}
		if parseErr != nil {
			// Still undirected after the retry: the raw text becomes the
			// final answer rather than failing the run.
			a.logger.Warn("unparseable model output, treating as final answer",
				"agent", a.name, "session", sessionID, "step", step)
			parsed = parsedResponse{Answer: text, IsFinal: true}
		}

		if parsed.IsFinal {
			if err := a.finalize(ctx, sessionID, parsed.Answer, step); err != nil {
				return result, err
			}
			result.Outcome = OutcomeFinalAnswer
			result.Answer = parsed.Answer
			return result, nil
		}

		observation, trace, err := a.dispatch(ctx, sessionID, step, parsed.Tool, parsed.Params)
		if err != nil {
			return result, err
		}
		result.Steps = append(result.Steps, trace)
		result.LastObservation = observation

		if err := a.persistTurn(ctx, sessionID, RoleTool, observation, map[string]string{"tool": parsed.Tool}); err != nil {
			return result, err
		}
	}
}

// checkBudgets returns the name of the first exceeded budget, or "".
// Enforced strictly before issuing the next model call.
func (a *Agent) checkBudgets(steps, requests int, usage Usage) string {
	if steps >= a.limits.MaxSteps {
		return "max_steps"
	}
	if requests >= a.limits.RequestLimit {
		return "request_limit"
	}
	if a.limits.TotalTokensLimit > 0 && usage.Total() >= a.limits.TotalTokensLimit {
		return "total_tokens_limit"
	}
	return ""
}

// buildTranscript loads the trimmed history for the session and maps turn
// roles onto the model protocol. The transcript is rebuilt every step so
// the trimming policy applies uniformly to observations appended mid-run.
func (a *Agent) buildTranscript(ctx context.Context, sessionID string) ([]Message, error) {
	if a.memory == nil {
		return nil, nil
	}
	turns, err := a.memory.Turns(ctx, a.query(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleAgent:
			messages = append(messages, AssistantMessage(t.Content))
		case RoleTool:
			messages = append(messages, ToolMessage(t.Content))
		default:
			messages = append(messages, UserMessage(t.Content))
		}
	}
	return messages, nil
}

// callModel issues one provider call with span instrumentation and token
// accounting. When the provider does not report usage, both sides are
// estimated with the configured counter.
func (a *Agent) callModel(ctx context.Context, system string, transcript []Message, usage *Usage) (string, error) {
	callCtx := ctx
	var span Span
	if a.tracer != nil {
		callCtx, span = a.tracer.Start(ctx, "agent.model_call",
			StringAttr("provider", a.provider.Name()),
			IntAttr("transcript.len", len(transcript)))
		defer span.End()
	}

	resp, err := a.provider.Complete(callCtx, CompletionRequest{
		System:     system,
		Transcript: transcript,
		Config:     a.gen,
	})
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return "", err
	}

	sample := resp.Usage
	if sample == (Usage{}) {
		sample = Usage{
			InputTokens:  countMessages(a.counter, system, transcript),
			OutputTokens: a.counter.Count(resp.Text),
		}
	}
	usage.add(sample)
	if span != nil {
		span.SetAttr(IntAttr("tokens.input", sample.InputTokens), IntAttr("tokens.output", sample.OutputTokens))
	}
	return resp.Text, nil
}

// dispatch executes one tool call under the configured wall-clock timeout
// and returns the observation text fed into the next prompt. Tool failures
// are not fatal: the error becomes the observation and the loop continues.
func (a *Agent) dispatch(ctx context.Context, sessionID string, step int, tool string, args map[string]any) (string, StepTrace, error) {
	if err := a.emit(ctx, sessionID, EventToolCallStarted, ToolCallStartedPayload{Tool: tool, Args: args, Step: step}); err != nil {
		return "", StepTrace{}, err
	}

	dispatchCtx := ctx
	var span Span
	if a.tracer != nil {
		dispatchCtx, span = a.tracer.Start(ctx, "agent.tool_call", StringAttr("tool.name", tool))
		defer span.End()
	}

	start := time.Now()
	output, kind := a.executeBounded(dispatchCtx, tool, args)
	elapsed := time.Since(start)

	argsJSON, _ := json.Marshal(args)
	trace := StepTrace{Tool: tool, Input: string(argsJSON), Duration: elapsed}

	if kind != "" {
		trace.Output = output
		trace.IsError = true
		if span != nil {
			span.Error(errors.New(output))
		}
		a.logger.Warn("tool call failed", "agent", a.name, "session", sessionID,
			"tool", tool, "kind", kind, "duration", elapsed)
		if err := a.emit(ctx, sessionID, EventToolCallError, ToolCallErrorPayload{Tool: tool, Error: output, Kind: kind, Step: step}); err != nil {
			return "", trace, err
		}
		observation := fmt.Sprintf("Tool %q failed (%s): %s", tool, kind, output)
		return observation, trace, nil
	}

	trace.Output = truncate(output, 500)
	a.logger.Debug("tool call ok", "agent", a.name, "session", sessionID,
		"tool", tool, "duration", elapsed)
	if err := a.emit(ctx, sessionID, EventToolCallResult, ToolCallResultPayload{
		Tool: tool, Result: output, DurationMS: elapsed.Milliseconds(), Step: step,
	}); err != nil {
		return "", trace, err
	}
	return truncate(output, maxObservationLen), trace, nil
}

// executeBounded runs the registry call in a goroutine and waits at most
// ToolTimeout. Timing out abandons the wait — the tool may run to
// completion in the background and its late result is discarded (the
// result channel is buffered so the goroutine never leaks blocked).
// Returns (output, "") on success or (message, kind) on failure.
func (a *Agent) executeBounded(ctx context.Context, tool string, args map[string]any) (string, string) {
	type outcome struct {
		value any
		err   error
	}
	resCh := make(chan outcome, 1)
	toolCtx, cancel := context.WithTimeout(ctx, a.limits.ToolTimeout)
	defer cancel()

	go func() {
		v, err := a.tools.Execute(toolCtx, tool, args)
		resCh <- outcome{value: v, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return res.err.Error(), errorKind(res.err)
		}
		return stringify(res.value), ""
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err().Error(), "timeout"
		}
		return fmt.Sprintf("timed out after %s", a.limits.ToolTimeout), "timeout"
	}
}

// finalize emits the final answer and persists it as an agent turn.
func (a *Agent) finalize(ctx context.Context, sessionID, answer string, step int) error {
	if err := a.emit(ctx, sessionID, EventFinalAnswer, FinalAnswerPayload{Content: answer, Steps: step + 1}); err != nil {
		return err
	}
	return a.persistTurn(ctx, sessionID, RoleAgent, answer, nil)
}

// emit appends an event when an event store is configured. A payload
// mismatch here is a programming error and propagates.
func (a *Agent) emit(ctx context.Context, sessionID string, t EventType, payload any) error {
	if a.events == nil {
		return nil
	}
	if err := a.events.Append(ctx, sessionID, NewEvent(t, a.name, payload)); err != nil {
		return fmt.Errorf("emit %s: %w", t, err)
	}
	return nil
}

// persistTurn stores a turn when a memory store is configured.
func (a *Agent) persistTurn(ctx context.Context, sessionID, role, content string, metadata map[string]string) error {
	if a.memory == nil {
		return nil
	}
	turn := Turn{
		ID:        NewID(),
		SessionID: sessionID,
		AgentName: a.name,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: NowUnix(),
	}
	if err := a.memory.StoreTurn(ctx, turn); err != nil {
		return fmt.Errorf("persist %s turn: %w", role, err)
	}
	return nil
}

// errorKind maps a registry error onto the event taxonomy.
func errorKind(err error) string {
	var notFound *ToolNotFoundError
	var invalidArgs *InvalidArgumentsError
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invalidArgs):
		return "invalid_arguments"
	default:
		return "execution"
	}
}

// stringify renders a tool result as observation text.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.RawMessage:
		return string(t)
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(out)
	}
}

// truncate limits a string to n runes, marking trimmed content.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}
