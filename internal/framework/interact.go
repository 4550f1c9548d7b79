package framework

import (
	"github.com/ConCopilot/concopilot/internal/asset"
	"github.com/ConCopilot/concopilot/internal/message"
)

// InteractParameter is what an interactor hands the cerebrum for one turn.
type InteractParameter struct {
	Instructions    []string           `json:"instructions,omitempty"`
	Command         string             `json:"command,omitempty"`
	MessageHistory  []*message.Message `json:"message_history,omitempty"`
	Assets          []*asset.Asset     `json:"assets,omitempty"`
	Content         string             `json:"content,omitempty"`
	RequireTokenLen bool               `json:"require_token_len,omitempty"`
	RequireCost     bool               `json:"require_cost,omitempty"`
}

// PluginCall is a structured tool invocation returned by the model.
type PluginCall struct {
	PluginName string         `json:"plugin_name"`
	Command    string         `json:"command"`
	Param      map[string]any `json:"param,omitempty"`
}

// InteractResponse is the cerebrum's provider-neutral reply. Counts and cost
// are nil when the model did not report them.
type InteractResponse struct {
	Content        string       `json:"content,omitempty"`
	PluginCalls    []PluginCall `json:"plugin_calls,omitempty"`
	InputTokenLen  *int         `json:"input_token_len,omitempty"`
	OutputTokenLen *int         `json:"output_token_len,omitempty"`
	Cost           *float64     `json:"cost,omitempty"`
}
