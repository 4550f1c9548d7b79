// Package messaging turns raw model responses into messages.
package messaging

import (
	"context"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
)

// JSONManager parses model output that encodes one message, or a list of
// messages, as JSON. Plugin calls from function calling become command
// messages.
type JSONManager struct {
	*component.Base
}

var _ framework.MessageManager = (*JSONManager)(nil)

func NewJSONManager(d *config.Descriptor, opts ...component.Option) (*JSONManager, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeMessageManager)}, opts...)...)
	if err != nil {
		return nil, err
	}
	m := &JSONManager{Base: b}
	m.Commands().Handle("parse", parseCommand(m))
	return m, nil
}

func (m *JSONManager) Parse(_ context.Context, resp *framework.InteractResponse, threadID string) ([]*message.Message, error) {
	if resp == nil {
		return nil, nil
	}
	var msgs []*message.Message
	if resp.Content != "" {
		parsed, err := m.parseContent(resp.Content)
		if err != nil {
			m.Logger().Warn("response content parse failed, keeping it as text: %v", err)
			parsed = []*message.Message{{Content: message.Text(resp.Content)}}
		}
		msgs = append(msgs, parsed...)
	}
	msgs = append(msgs, pluginCallMessages(resp.PluginCalls)...)
	for _, msg := range msgs {
		msg.ThreadID = threadID
		msg.Stamp(m.Clock())
	}
	return msgs, nil
}

func (m *JSONManager) parseContent(content string) ([]*message.Message, error) {
	v, err := RepairJSON(content)
	if err != nil {
		return nil, err
	}
	items, isList := v.([]any)
	if !isList {
		items = []any{v}
	}
	msgs := make([]*message.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemMessage(item)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func itemMessage(item any) (*message.Message, error) {
	if obj, ok := item.(map[string]any); ok {
		return message.FromMap(obj)
	}
	content, err := message.DecodeContent("", item)
	if err != nil {
		return nil, err
	}
	return &message.Message{Content: content}, nil
}

func pluginCallMessages(calls []framework.PluginCall) []*message.Message {
	msgs := make([]*message.Message, 0, len(calls))
	for _, call := range calls {
		msgs = append(msgs, message.NewCommand(nil,
			&message.Identity{Role: message.RolePlugin, Name: call.PluginName},
			call.Command, call.Param))
	}
	return msgs
}

func parseCommand(m framework.MessageManager) component.Handler {
	return func(ctx context.Context, param any) (any, error) {
		p, err := component.Param[struct {
			Response framework.InteractResponse `json:"response"`
			ThreadID string                     `json:"thrd_id"`
		}](param)
		if err != nil {
			return nil, err
		}
		msgs, err := m.Parse(ctx, &p.Response, p.ThreadID)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(msgs))
		for _, msg := range msgs {
			out = append(out, msg.Retrieve(message.RetrieveAll))
		}
		return out, nil
	}
}
