package relay

import (
	"encoding/json"
	"errors"
	"strings"
)

// errNoDirective marks model output that contains neither an action nor a
// final-answer marker. Recoverable: the loop re-prompts once per step.
var errNoDirective = errors.New("no action or final answer in model output")

// parsedResponse is the structured form of one model reply.
type parsedResponse struct {
	// Tool and Params are set when the reply is an action.
	Tool   string
	Params map[string]any
	// Answer is set when the reply is a final answer.
	Answer string
	// IsFinal distinguishes the two; exactly one form is populated.
	IsFinal bool
}

// finalAnswerMarker precedes the terminal reply in the step protocol.
const finalAnswerMarker = "Final Answer:"

// parseResponse extracts a structured action or final answer from raw model
// text. Actions are a JSON object carrying "tool" and "parameters", with or
// without an "Action:" prefix, optionally inside a markdown fence. A final
// answer wins when both appear — models occasionally echo a past action
// while concluding, and treating that as a dispatch would loop forever.
func parseResponse(text string) (parsedResponse, error) {
	if idx := strings.Index(text, finalAnswerMarker); idx >= 0 {
		answer := strings.TrimSpace(text[idx+len(finalAnswerMarker):])
		return parsedResponse{Answer: answer, IsFinal: true}, nil
	}

	raw, ok := extractActionJSON(text)
	if !ok {
		return parsedResponse{}, errNoDirective
	}

	var action struct {
		Tool       string         `json:"tool"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return parsedResponse{}, errNoDirective
	}
	if action.Tool == "" {
		return parsedResponse{}, errNoDirective
	}
	if action.Parameters == nil {
		action.Parameters = map[string]any{}
	}
	return parsedResponse{Tool: action.Tool, Params: action.Parameters}, nil
}

// extractActionJSON finds the first balanced JSON object in the text that
// mentions a "tool" key. Handles fenced blocks by ignoring the fence
// characters — brace matching alone is enough.
func extractActionJSON(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if strings.Contains(candidate, `"tool"`) {
						return candidate, true
					}
					start = i // skip past this object
					i = len(text)
				}
			}
		}
		if depth != 0 {
			// Unbalanced from this opening brace onward; no later opening
			// brace can balance either.
			return "", false
		}
	}
	return "", false
}
