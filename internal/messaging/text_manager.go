package messaging

import (
	"context"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
)

// TextManager keeps model output as plain text. When the model asked for a
// plugin call, the first call becomes the message instead.
type TextManager struct {
	*component.Base
}

var _ framework.MessageManager = (*TextManager)(nil)

func NewTextManager(d *config.Descriptor, opts ...component.Option) (*TextManager, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeMessageManager)}, opts...)...)
	if err != nil {
		return nil, err
	}
	m := &TextManager{Base: b}
	m.Commands().Handle("parse", parseCommand(m))
	return m, nil
}

func (m *TextManager) Parse(_ context.Context, resp *framework.InteractResponse, threadID string) ([]*message.Message, error) {
	if resp == nil {
		return nil, nil
	}
	var msg *message.Message
	switch {
	case len(resp.PluginCalls) > 0:
		msg = pluginCallMessages(resp.PluginCalls[:1])[0]
	case resp.Content != "":
		msg = &message.Message{Content: message.Text(resp.Content)}
	default:
		return nil, nil
	}
	msg.ThreadID = threadID
	return []*message.Message{msg.Stamp(m.Clock())}, nil
}
