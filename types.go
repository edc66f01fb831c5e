package relay

// --- Conversation turns (memory records) ---

// Turn roles. Observations from tool calls use RoleTool.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleTool  = "tool"
)

// Turn is one persisted conversational turn. Turns are owned by whichever
// MemoryStore backend is active; the router only forwards them.
type Turn struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	AgentName string            `json:"agent_name"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// TurnQuery selects turns for retrieval. SessionID and AgentName are always
// required. UserID and AppName are required only by multi-tenant backends
// (store/postgres); single-tenant backends ignore them.
type TurnQuery struct {
	SessionID string
	AgentName string
	UserID    string
	AppName   string
}

// --- Model protocol types ---

// Message is one entry of the model-facing transcript.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "tool"
	Content string `json:"content"`
}

// GenerationConfig carries provider-level generation settings. The zero
// value means "provider defaults".
type GenerationConfig struct {
	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
	Temperature      float32 `json:"temperature,omitempty"`
	TopP             float32 `json:"top_p,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	MaxContextLength int     `json:"max_context_length,omitempty"`
}

// CompletionRequest is the input to a ModelProvider call.
type CompletionRequest struct {
	System     string           `json:"system"`
	Transcript []Message        `json:"transcript"`
	Config     GenerationConfig `json:"config"`
}

// Completion is the model's reply. Usage is optional — providers that do
// not report token counts leave it zero and the agent loop falls back to
// local estimates.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Usage tracks token consumption for a call or an entire run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// add accumulates another usage sample.
func (u *Usage) add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// --- Message constructors ---

func UserMessage(text string) Message      { return Message{Role: "user", Content: text} }
func AssistantMessage(text string) Message { return Message{Role: "assistant", Content: text} }
func ToolMessage(text string) Message      { return Message{Role: "tool", Content: text} }
