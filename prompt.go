package relay

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// defaultBehaviorSuffix tells the model how to drive the loop: emit exactly
// one action as a JSON object, or finish with a Final Answer line.
const defaultBehaviorSuffix = `You work in steps. At each step, do exactly one of the following:

1. Call a tool. Reply with a single JSON object on its own line:
   Action: {"tool": "<name>", "parameters": {...}}
   Use only the tools listed below with their declared parameters.

2. Finish. Reply with:
   Final Answer: <your answer to the user>

Never combine an action and a final answer in one reply. Tool results are
returned to you as observations before your next step.`

// PromptBuilder composes the model-facing system prompt: base instruction,
// behavioral suffix, advertised tool schemas, and the current timestamp.
type PromptBuilder struct {
	// Instruction is the agent's base system instruction.
	Instruction string
	// Suffix overrides the default behavioral protocol text when non-empty.
	Suffix string
	// Now supplies the timestamp; nil means time.Now.
	Now func() time.Time
}

// Build renders the system prompt. Tool schemas are listed in stable
// (name-sorted) order so prompts are reproducible across runs.
func (b *PromptBuilder) Build(tools map[string]ToolSchema) string {
	suffix := b.Suffix
	if suffix == "" {
		suffix = defaultBehaviorSuffix
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	var sb strings.Builder
	if b.Instruction != "" {
		sb.WriteString(b.Instruction)
		sb.WriteString("\n\n")
	}
	sb.WriteString(suffix)

	if len(tools) > 0 {
		sb.WriteString("\n\nAvailable tools:\n")
		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ts := tools[name]
			sb.WriteString("- ")
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(ts.Description)
			if len(ts.InputSchema) > 0 {
				compact, err := compactJSON(ts.InputSchema)
				if err == nil {
					sb.WriteString("\n  parameters: ")
					sb.WriteString(compact)
				}
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nCurrent time: ")
	sb.WriteString(now().Format(time.RFC3339))
	return sb.String()
}

func compactJSON(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}
