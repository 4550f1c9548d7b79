package message

import (
	"errors"
	"fmt"

	"github.com/ConCopilot/concopilot/internal/shared/clock"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// ErrInvalidMessage marks envelopes whose content does not fit their content type.
var ErrInvalidMessage = errors.New("invalid message")

var reservedKeys = map[string]struct{}{
	"sender": {}, "receiver": {}, "content_type": {}, "content": {},
	"time": {}, "id": {}, "thrd_id": {},
}

// Message is the envelope exchanged between the user, the cerebrum and plugins.
type Message struct {
	Sender      *Identity
	Receiver    *Identity
	ContentType string
	Content     Content
	Time        string
	ID          string
	ThreadID    string
	// Extra keeps any additional top-level fields, such as the "thoughts"
	// block models like to attach to their replies.
	Extra map[string]any
}

// New builds and validates a message.
func New(sender, receiver *Identity, contentType string, content Content) (*Message, error) {
	msg := &Message{
		Sender:      sender,
		Receiver:    receiver,
		ContentType: contentType,
		Content:     content,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewText builds a text message.
func NewText(sender, receiver *Identity, text string) *Message {
	return &Message{Sender: sender, Receiver: receiver, Content: Text(text)}
}

// NewCommand builds a command message addressed to a plugin.
func NewCommand(sender, receiver *Identity, command string, param any) *Message {
	return &Message{
		Sender:      sender,
		Receiver:    receiver,
		ContentType: ContentTypeCommand,
		Content:     &Command{Command: command, Param: param},
	}
}

// Validate enforces the content-type/content pairing.
func (m *Message) Validate() error {
	if m.ContentType != ContentTypeCommand {
		return nil
	}
	cmd, ok := m.Content.(*Command)
	if !ok || cmd == nil {
		return fmt.Errorf("%w: content_type is \"command\" but content is %T", ErrInvalidMessage, m.Content)
	}
	if cmd.Command == "" {
		return fmt.Errorf("%w: content.command must be set", ErrInvalidMessage)
	}
	return nil
}

// Stamp sets Time from c when it is empty and returns m.
func (m *Message) Stamp(c clock.Clock) *Message {
	if m.Time == "" {
		m.Time = c.Stamp()
	}
	return m
}

// Text returns the text content, if any.
func (m *Message) Text() (string, bool) {
	if t, ok := m.Content.(Text); ok {
		return string(t), true
	}
	return "", false
}

// AsCommand returns the command content, if any.
func (m *Message) AsCommand() (*Command, bool) {
	cmd, ok := m.Content.(*Command)
	return cmd, ok && cmd != nil
}

// ReceiverRole returns the receiver role or "".
func (m *Message) ReceiverRole() string {
	if m.Receiver == nil {
		return ""
	}
	return m.Receiver.Role
}

// Clone returns a copy that shares no identities or extra maps with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Sender = m.Sender.Clone()
	c.Receiver = m.Receiver.Clone()
	if cmd, ok := m.Content.(*Command); ok && cmd != nil {
		cp := *cmd
		c.Content = &cp
	}
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// MarshalJSON writes the wire shape, flattening Extra into the top level.
func (m *Message) MarshalJSON() ([]byte, error) {
	return jsonx.Marshal(m.Retrieve(RetrieveAll))
}

// UnmarshalJSON reads the wire shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = Message{}
		return nil
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// FromMap builds a message from a decoded JSON object. When content_type is
// absent and the content is a command, content_type becomes "command".
func FromMap(raw map[string]any) (*Message, error) {
	sender, err := identityFrom(raw["sender"])
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	receiver, err := identityFrom(raw["receiver"])
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	contentType := scalarString(raw["content_type"])
	content, err := DecodeContent(contentType, raw["content"])
	if err != nil {
		return nil, err
	}
	if _, isCmd := content.(*Command); isCmd && contentType == "" {
		contentType = ContentTypeCommand
	}

	msg := &Message{
		Sender:      sender,
		Receiver:    receiver,
		ContentType: contentType,
		Content:     content,
		Time:        scalarString(raw["time"]),
		ID:          scalarString(raw["id"]),
		ThreadID:    scalarString(raw["thrd_id"]),
	}
	for k, v := range raw {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		if msg.Extra == nil {
			msg.Extra = make(map[string]any)
		}
		msg.Extra[k] = v
	}
	return msg, msg.Validate()
}

func (m *Message) String() string {
	data, err := jsonx.MarshalIndent(m.Retrieve(RetrieveAll), "", "    ")
	if err != nil {
		return fmt.Sprintf("<message %s: %v>", m.ID, err)
	}
	return string(data)
}
