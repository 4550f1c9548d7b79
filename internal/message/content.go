package message

import (
	"fmt"
	"strings"
)

// Content types with special meaning.
const (
	ContentTypeCommand = "command"
	ContentTypeText    = "text"
)

// Content is the payload of a message: Text, *Command or Data.
type Content interface {
	isContent()
	// Value returns the JSON-ready form of the content.
	Value() any
}

// Text is free-form text content.
type Text string

func (Text) isContent()   {}
func (t Text) Value() any { return string(t) }

// Command is a plugin invocation together with its result.
type Command struct {
	Command  string `json:"command"`
	Param    any    `json:"param,omitempty"`
	Response any    `json:"response,omitempty"`
}

func (*Command) isContent() {}

func (c *Command) Value() any {
	out := map[string]any{"command": c.Command}
	if c.Param != nil {
		out["param"] = c.Param
	}
	if c.Response != nil {
		out["response"] = c.Response
	}
	return out
}

// Data carries any other structured value.
type Data struct {
	V any
}

func (Data) isContent()   {}
func (d Data) Value() any { return d.V }

// DecodeContent picks the content variant for a loosely typed value. The
// command variant is chosen when contentType is "command" or when an object
// carries a string "command" key.
func DecodeContent(contentType string, v any) (Content, error) {
	switch t := v.(type) {
	case nil:
		if contentType == ContentTypeCommand {
			return nil, fmt.Errorf("%w: command message without content", ErrInvalidMessage)
		}
		return nil, nil
	case Content:
		return t, nil
	case string:
		if contentType == ContentTypeCommand {
			return nil, fmt.Errorf("%w: command content must be an object, got text", ErrInvalidMessage)
		}
		return Text(t), nil
	case map[string]any:
		if name, ok := t["command"].(string); ok || contentType == ContentTypeCommand {
			if !ok {
				return nil, fmt.Errorf("%w: command content has no string \"command\" field", ErrInvalidMessage)
			}
			return &Command{Command: name, Param: t["param"], Response: t["response"]}, nil
		}
		return Data{V: t}, nil
	default:
		if contentType == ContentTypeCommand {
			return nil, fmt.Errorf("%w: command content must be an object, got %T", ErrInvalidMessage, v)
		}
		return Data{V: v}, nil
	}
}

// Signal extracts the control word of a system message: the text itself, the
// command name, or the "content" field of a data object.
func Signal(c Content) string {
	switch t := c.(type) {
	case Text:
		return strings.TrimSpace(string(t))
	case *Command:
		return t.Command
	case Data:
		if m, ok := t.V.(map[string]any); ok {
			if s, ok := m["content"].(string); ok {
				return s
			}
			if s, ok := m["command"].(string); ok {
				return s
			}
		}
	}
	return ""
}
