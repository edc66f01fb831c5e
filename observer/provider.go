package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/okanta/relay"
)

// ObservedProvider wraps a relay.ModelProvider with OTEL instrumentation.
type ObservedProvider struct {
	inner relay.ModelProvider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces,
// metrics, and logs for every completion call.
func WrapProvider(inner relay.ModelProvider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

var _ relay.ModelProvider = (*ObservedProvider)(nil)

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Complete(ctx context.Context, req relay.CompletionRequest) (relay.Completion, error) {
	model := req.Config.Model
	if model == "" {
		model = o.model
	}
	ctx, span := o.inst.Tracer.Start(ctx, "model.complete",
		trace.WithAttributes(
			AttrModelName.String(model),
			AttrModelProvider.String(o.inner.Name()),
		))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Complete(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrTokensInput.Int(resp.Usage.InputTokens),
		AttrTokensOutput.Int(resp.Usage.OutputTokens),
	)

	attrs := metric.WithAttributes(
		AttrModelName.String(model),
		AttrModelProvider.String(o.inner.Name()),
	)
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
		AttrModelName.String(model),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
		AttrModelName.String(model),
		attribute.String("direction", "output"),
	))
	o.inst.ModelRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModelName.String(model),
		AttrModelProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.ModelDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("model call completed"))
	rec.AddAttributes(
		otellog.String("model.name", model),
		otellog.String("model.provider", o.inner.Name()),
		otellog.Int("model.tokens.input", resp.Usage.InputTokens),
		otellog.Int("model.tokens.output", resp.Usage.OutputTokens),
		otellog.Float64("model.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return resp, err
}
