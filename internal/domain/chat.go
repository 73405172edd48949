package domain

import "encoding/json"

// Chat roles used in transcripts sent to the language model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the chat loop
// and LLM integrations. Assistant messages carry either Content or ToolCalls;
// tool messages carry ToolCallID and the JSON result in Content.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to run one tool. Arguments is the raw JSON
// object exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest is one round trip to the language model.
type CompletionRequest struct {
	Messages    []ChatMessage
	Tools       []ToolSpec
	Temperature float64
}
