// Package openai implements a ModelProvider for any OpenAI-compatible
// chat completions API.
//
// Works with OpenAI, OpenRouter, Groq, Together, DeepSeek, Mistral,
// Ollama, vLLM, LM Studio, and any other server that implements the
// /chat/completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/okanta/relay"
)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client (mainly for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithName overrides the provider name reported in traces and errors
// (default "openai"). Useful when pointing at OpenRouter, Groq, etc.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// Provider implements relay.ModelProvider over the OpenAI chat
// completions wire format. The agent's Thought/Action protocol lives in
// the prompt, so tool-calling API features are deliberately unused: the
// provider only sends messages and returns text.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	name    string
	client  *http.Client
}

var _ relay.ModelProvider = (*Provider)(nil)

// New creates a provider for the API at baseURL (e.g.
// "https://api.openai.com/v1", "http://localhost:11434/v1"). The
// /chat/completions path is appended automatically. A model set in the
// request config overrides the constructor's model.
func New(baseURL, apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		name:    "openai",
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// --- wire types ---

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Message      choiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type choiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Complete sends the system prompt and transcript as one non-streaming
// chat request and returns the model's text.
func (p *Provider) Complete(ctx context.Context, req relay.CompletionRequest) (relay.Completion, error) {
	body := p.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return relay.Completion{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return relay.Completion{}, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return relay.Completion{}, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return relay.Completion{}, &relay.HTTPError{
			Status:     resp.StatusCode,
			Body:       string(data),
			RetryAfter: relay.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return relay.Completion{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return relay.Completion{}, fmt.Errorf("openai: response has no choices")
	}

	out := relay.Completion{Text: chatResp.Choices[0].Message.Content}
	if chatResp.Usage != nil {
		out.Usage = relay.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// buildBody maps the provider-neutral request onto the OpenAI wire shape.
func (p *Provider) buildBody(req relay.CompletionRequest) chatRequest {
	model := req.Config.Model
	if model == "" {
		model = p.model
	}
	// Zero config values are omitted so the server applies its defaults.
	body := chatRequest{
		Model:       model,
		MaxTokens:   req.Config.MaxTokens,
		Temperature: float64(req.Config.Temperature),
		TopP:        float64(req.Config.TopP),
	}

	msgs := make([]message, 0, len(req.Transcript)+1)
	if req.System != "" {
		msgs = append(msgs, message{Role: "system", Content: req.System})
	}
	for _, m := range req.Transcript {
		msgs = append(msgs, message{Role: m.Role, Content: m.Content})
	}
	body.Messages = msgs
	return body
}
