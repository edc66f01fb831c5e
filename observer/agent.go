package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/okanta/relay"
)

// RecordRun records run-level metrics for one completed agent run.
// Safe to call with a nil Instruments (observer disabled).
func RecordRun(ctx context.Context, inst *Instruments, agentName string, result relay.RunResult, elapsed time.Duration) {
	if inst == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrAgentName.String(agentName),
		AttrOutcome.String(string(result.Outcome)),
	)
	inst.AgentRuns.Add(ctx, 1, attrs)
	inst.RunDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	inst.RunSteps.Record(ctx, int64(len(result.Steps)), attrs)
}

// RecordEvent translates loop events into tool metrics. Wire it into
// whatever consumer drains the session's event stream; events that carry
// no metric are ignored.
func RecordEvent(ctx context.Context, inst *Instruments, ev relay.Event) {
	if inst == nil {
		return
	}
	switch p := ev.Payload.(type) {
	case relay.ToolCallResultPayload:
		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(p.Tool),
			AttrToolStatus.String("ok"),
		))
		inst.ToolDuration.Record(ctx, float64(p.DurationMS),
			metric.WithAttributes(AttrToolName.String(p.Tool)))
	case relay.ToolCallErrorPayload:
		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(p.Tool),
			AttrToolStatus.String("error"),
		))
	}
}
