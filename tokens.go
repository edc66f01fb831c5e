package relay

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token cost of a piece of text. Used by the
// token-budget trimming policy and by the agent loop's token accounting
// when the provider does not report usage.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates tokens as len(text)/4, the usual rule of
// thumb for English text. It is the fallback when no tokenizer is
// available and the default for backends constructed without one.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// TiktokenCounter counts tokens with a real BPE tokenizer. Safe for
// concurrent use.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter builds a counter for the given model name, falling
// back to the cl100k_base encoding for unknown models.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// countMessages sums the token estimate over a transcript plus the system
// prompt. Used for pre-call budget accounting.
func countMessages(counter TokenCounter, system string, transcript []Message) int {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	n := counter.Count(system)
	for _, m := range transcript {
		n += counter.Count(m.Content)
	}
	return n
}
