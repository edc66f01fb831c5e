package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for agent observability spans and metrics.
var (
	AttrModelName     = attribute.Key("model.name")
	AttrModelProvider = attribute.Key("model.provider")

	AttrTokensInput  = attribute.Key("model.tokens.input")
	AttrTokensOutput = attribute.Key("model.tokens.output")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")

	AttrAgentName = attribute.Key("agent.name")
	AttrSessionID = attribute.Key("session.id")
	AttrOutcome   = attribute.Key("run.outcome")
)
