package framework

import "context"

// Chat message roles understood by LLM resources.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleFunction  = "function"
)

// LLM is a language-model resource.
type LLM interface {
	Resource
	// ModelName identifies the backing model in metrics and traces.
	ModelName() string
	Inference(ctx context.Context, params LLMParams) (*LLMResponse, error)
}

// LLMParams is the inference request. Extra carries provider specific knobs.
type LLMParams struct {
	Prompt          string         `json:"prompt,omitempty"`
	Messages        []ChatMessage  `json:"messages,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	RequireTokenLen bool           `json:"require_token_len,omitempty"`
	RequireCost     bool           `json:"require_cost,omitempty"`
	Functions       []Function     `json:"functions,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// ChatMessage is one turn of a chat-completion style request.
type ChatMessage struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// Function declares a callable function with JSON-schema parameters.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// FunctionCall is the model's request to call a function. Arguments is a
// JSON object encoded as text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// LLMResponse is the inference result.
type LLMResponse struct {
	Content        string        `json:"content"`
	FunctionCall   *FunctionCall `json:"function_call,omitempty"`
	InputTokenLen  *int          `json:"input_token_len,omitempty"`
	OutputTokenLen *int          `json:"output_token_len,omitempty"`
	Cost           *float64      `json:"cost,omitempty"`
}
