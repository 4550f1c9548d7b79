package interactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/registry"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/storage"

	"github.com/spf13/afero"
)

// ChatSettings is the config section of the chat interactor.
type ChatSettings struct {
	PersistHistory    bool     `yaml:"persist_history"`
	MessageHistoryKey string   `yaml:"message_history_key"`
	HelloMsgRole      string   `yaml:"hello_msg_role"`
	HelloMsgContent   string   `yaml:"hello_msg_content"`
	InstructionFile   string   `yaml:"instruction_file"`
	ExitTokens        []string `yaml:"exit_tokens"`
}

// Chat alternates between the user and the cerebrum: every user text becomes
// one cerebrum turn whose reply goes straight back to the user.
type Chat struct {
	*Basic
	settings     ChatSettings
	instructions []string
	exitTokens   map[string]struct{}
}

var _ framework.Interactor = (*Chat)(nil)

func NewChat(d *config.Descriptor, deps Deps, opts ...component.Option) (*Chat, error) {
	basic, err := NewBasic(d, deps, opts...)
	if err != nil {
		return nil, err
	}
	settings := ChatSettings{
		MessageHistoryKey: "message_history",
		HelloMsgRole:      message.RoleCerebrum,
		HelloMsgContent:   "Hello! What can I do for you?",
		ExitTokens:        []string{"exit", "quit"},
	}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	c := &Chat{Basic: basic, settings: settings, exitTokens: map[string]struct{}{}}
	for _, token := range settings.ExitTokens {
		c.exitTokens[strings.ToLower(strings.TrimSpace(token))] = struct{}{}
	}
	if settings.InstructionFile != "" {
		data, err := afero.ReadFile(c.Fs(), c.ConfigFilePath(settings.InstructionFile))
		if err != nil {
			return nil, &errs.ConfigError{Field: "config.instruction_file", Reason: "cannot read instruction file", Err: err}
		}
		c.instructions = []string{string(data)}
	}
	return c, nil
}

// BuildChat is the registry entry point.
func BuildChat(_ context.Context, r *registry.Registry, d *config.Descriptor, deps ...any) (*Chat, error) {
	in, err := DepsFrom(deps...)
	if err != nil {
		return nil, err
	}
	return NewChat(d, in, component.WithFs(r.Repository().Fs()))
}

// SetupPlugins is a no-op: the chat interactor never calls plugins.
func (c *Chat) SetupPlugins(context.Context) error { return nil }

// InteractLoop greets the user, or resumes a persisted conversation, and
// relays messages until an exit token, a broken pipe, an interrupt or Stop.
func (c *Chat) InteractLoop(ctx context.Context) (err error) {
	started, err := c.start()
	if err != nil || !started {
		return err
	}
	defer c.finish()

	fctx, err := c.sharedContext()
	if err != nil {
		return err
	}
	var history []*message.Message
	if c.settings.PersistHistory {
		if history, err = storage.LoadMessages(fctx.Storage, c.settings.MessageHistoryKey); err != nil {
			return err
		}
		defer func() {
			if saveErr := storage.SaveMessages(fctx.Storage, c.settings.MessageHistoryKey, history); saveErr != nil && err == nil {
				err = saveErr
			}
		}()
	}
	c.running()

	var pending []*message.Message
	switch last := len(history) - 1; {
	case last < 0:
		pending = []*message.Message{message.NewText(
			&message.Identity{Role: c.settings.HelloMsgRole},
			&message.Identity{Role: message.RoleUser},
			c.settings.HelloMsgContent,
		).Stamp(c.Clock())}
	case history[last].Sender != nil && history[last].Sender.Role == message.RoleUser:
		userMsg := history[last]
		history = history[:last]
		pending = c.reply(ctx, fctx, userMsg, &history)
	default:
		pending = []*message.Message{history[last]}
	}

	ui := fctx.UserInterface
	for !c.stopping() && ctx.Err() == nil {
		for _, msg := range pending {
			if err := ui.SendMsgUser(msg); err != nil {
				if ended(ctx, err) {
					return nil
				}
				return err
			}
		}
		userMsg, err := c.waitUser(ctx, ui)
		if err != nil {
			if ended(ctx, err) {
				return nil
			}
			pending = []*message.Message{c.systemError(err)}
			continue
		}
		if userMsg == nil {
			return nil
		}
		if text, _ := userMsg.Text(); c.isExit(text) {
			return nil
		}
		pending = c.reply(ctx, fctx, userMsg, &history)
	}
	return nil
}

func (c *Chat) isExit(text string) bool {
	_, ok := c.exitTokens[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// reply runs one cerebrum turn for userMsg. Failures become a system message
// for the user.
func (c *Chat) reply(ctx context.Context, fctx *framework.Context, userMsg *message.Message, history *[]*message.Message) []*message.Message {
	msgs, err := c.turn(ctx, fctx, userMsg, history)
	if err != nil {
		c.Logger().Error("chat turn failed: %v", err)
		return []*message.Message{c.systemError(err)}
	}
	return msgs
}

func (c *Chat) turn(ctx context.Context, fctx *framework.Context, userMsg *message.Message, history *[]*message.Message) (msgs []*message.Message, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanInteractionTurn, observability.TurnAttrs("chat")...)
	defer func() {
		observability.EndSpan(span, err)
		observability.DefaultMetrics().RecordTurn(ctx, "chat", observability.Status(err))
	}()

	text, ok := userMsg.Text()
	if !ok {
		return nil, fmt.Errorf("%w: the chat interactor only accepts text from the user", message.ErrInvalidMessage)
	}
	resp, err := c.Cerebrum.Interact(ctx, &framework.InteractParameter{
		Instructions:   c.instructions,
		Command:        text,
		MessageHistory: *history,
		Assets:         sortedAssets(fctx.Assets),
	}, c.LLMParams())
	if err != nil {
		return nil, err
	}
	*history = append(*history, asUser(userMsg).Stamp(c.Clock()))

	msgs, err = c.MessageManager.Parse(ctx, resp, userMsg.ThreadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, &errs.ParseError{Input: resp.Content, Err: fmt.Errorf("cerebrum returned no message")}
	}
	brain := c.cerebrumIdentity()
	for _, msg := range msgs {
		msg.Sender = brain.Clone()
		if msg.Receiver == nil {
			msg.Receiver = &message.Identity{Role: message.RoleUser}
		}
		*history = append(*history, msg.Stamp(c.Clock()))
	}
	return msgs, nil
}

func (c *Chat) systemError(err error) *message.Message {
	return message.NewText(
		&message.Identity{Role: message.RoleSystem},
		&message.Identity{Role: message.RoleUser},
		errorText(err),
	).Stamp(c.Clock())
}
