// Package component provides Base, the shared implementation behind every
// plugin, resource and manager: identity, prompt, resource binding and the
// command message protocol.
package component

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/shared/clock"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/id"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/spf13/afero"
)

// DefaultID is the placeholder id that asks for a generated one.
const DefaultID = "default"

// Option customises a Base.
type Option func(*Base)

// WithClock sets the clock used to stamp replies.
func WithClock(c clock.Clock) Option {
	return func(b *Base) { b.clock = c }
}

// WithType overrides the component type taken from the descriptor.
func WithType(t string) Option {
	return func(b *Base) { b.typ = t }
}

// WithFs sets the filesystem prompt files are read from.
func WithFs(fs afero.Fs) Option {
	return func(b *Base) { b.fs = fs }
}

// WithLogger replaces the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Base) { b.logger = logger }
}

// Base implements framework.Plugin. Embedders register command handlers on
// Commands(), or call Bind with their own Commander.
type Base struct {
	desc   *config.Descriptor
	id     string
	name   string
	typ    string
	prompt string

	clock  clock.Clock
	fs     afero.Fs
	logger logging.Logger

	commands  *Commands
	commander framework.Commander

	resources []framework.Resource
	context   *framework.Context

	outMu  sync.Mutex
	outbox []*message.Message
}

// New derives the component identity from d.
func New(d *config.Descriptor, opts ...Option) (*Base, error) {
	if d == nil {
		return nil, errs.NewConfigError("descriptor", "component descriptor is required")
	}
	b := &Base{desc: d, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(b)
	}
	if b.typ == "" {
		b.typ = d.Type
	}
	if b.typ == "" {
		b.typ = config.TypePlugin
	}

	b.id = d.ConfigString("id")
	if b.id == "" || b.id == DefaultID {
		b.id = id.NewUUID()
	}

	b.name = d.ConfigString("name")
	if b.name == "" {
		b.name = d.Name
	}
	if b.name == "" && d.Info != nil {
		b.name = d.Info.Title
	}
	if bool(d.AsPlugin) && b.name == "" {
		return nil, errs.NewConfigError("name", "plugin %s/%s/%s must have a name", d.GroupID, d.ArtifactID, d.Version)
	}

	prompt, err := b.loadPrompt()
	if err != nil {
		return nil, err
	}
	b.prompt = prompt

	if logging.IsNil(b.logger) {
		label := d.ArtifactID
		if label == "" {
			label = b.typ
		}
		b.logger = logging.NewComponentLogger(label)
	}
	b.commands = NewCommands(b.name)
	return b, nil
}

func (b *Base) loadPrompt() (string, error) {
	info := b.desc.Info
	if info == nil {
		return "", nil
	}
	if info.Prompt != "" {
		return info.Prompt, nil
	}
	var path string
	switch {
	case info.PromptFileName != "":
		path = b.desc.FilePath(info.PromptFileName)
	case info.PromptFilePath != "":
		path = info.PromptFilePath
	default:
		return "", nil
	}
	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return "", &errs.ConfigError{Field: "info.prompt", Reason: "cannot read prompt file " + path, Err: err}
	}
	return string(data), nil
}

// Bind routes OnMsg and Command through c instead of the command table.
func (b *Base) Bind(c framework.Commander) {
	b.commander = c
}

func (b *Base) GroupID() string    { return b.desc.GroupID }
func (b *Base) ArtifactID() string { return b.desc.ArtifactID }
func (b *Base) Version() string    { return b.desc.Version }
func (b *Base) ID() string         { return b.id }
func (b *Base) Name() string       { return b.name }
func (b *Base) Type() string       { return b.typ }
func (b *Base) AsPlugin() bool     { return bool(b.desc.AsPlugin) }

func (b *Base) Config() *config.Descriptor { return b.desc }

func (b *Base) ConfigFilePath(file string) string { return b.desc.FilePath(file) }

// Coordinates returns the (group, artifact, version) triple.
func (b *Base) Coordinates() errs.Coordinates { return b.desc.Coordinates() }

// Identity addresses this component under role.
func (b *Base) Identity(role string) *message.Identity {
	return &message.Identity{Role: role, ID: b.id, Name: b.name}
}

func (b *Base) Logger() logging.Logger { return b.logger }
func (b *Base) Clock() clock.Clock     { return b.clock }
func (b *Base) Fs() afero.Fs           { return b.fs }

// Commands returns the component's command table.
func (b *Base) Commands() *Commands { return b.commands }

// Command runs name through the bound Commander or the command table.
func (b *Base) Command(ctx context.Context, name string, param any) (any, error) {
	if b.commander != nil {
		return b.commander.Command(ctx, name, param)
	}
	return b.commands.Run(ctx, name, param)
}

func (b *Base) Prompt() string          { return b.prompt }
func (b *Base) SetPrompt(prompt string) { b.prompt = prompt }

// Context returns the shared context handed over by ConfigContext.
func (b *Base) Context() *framework.Context { return b.context }

func (b *Base) ConfigContext(ctx *framework.Context) { b.context = ctx }

// ConfigResources binds every resource the descriptor declares.
func (b *Base) ConfigResources(provider framework.ResourceProvider) error {
	refs, err := b.desc.AllResourceRefs()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}
	if provider == nil {
		return errs.NewConfigError("resources", "%s declares resources but no resource manager is available", b.name)
	}
	bound := make([]framework.Resource, 0, len(refs))
	for _, ref := range refs {
		r := provider.GetResource(framework.QueryFor(ref))
		if r == nil {
			return errs.NewConfigError("resources", "no resource found for id=%q name=%q type=%q", ref.ID, ref.Name, ref.Type)
		}
		if err := checkCollision("resource", bound, r); err != nil {
			return err
		}
		bound = append(bound, r)
	}
	b.resources = bound
	return nil
}

// Resources returns the bound resources in declaration order.
func (b *Base) Resources() []framework.Resource { return b.resources }

func (b *Base) GetResource(q framework.ResourceQuery) framework.Resource {
	return SelectResource(b.resources, q)
}

// OnMsg validates msg, runs its command and returns the reply.
func (b *Base) OnMsg(ctx context.Context, msg *message.Message) (reply *message.Message, err error) {
	if msg == nil || msg.Receiver == nil {
		return nil, errs.NewRoutingError("message to %s has no receiver", b.name)
	}
	role := msg.Receiver.Role
	if role != message.RolePlugin && role != b.typ {
		return nil, errs.NewRoutingError("%s cannot accept a message addressed to role %q", b.name, role)
	}
	if !b.Identity(role).Matches(*msg.Receiver) {
		return nil, errs.NewRoutingError("message addressed to %s was delivered to %s", msg.Receiver, b.Identity(role))
	}
	if msg.ContentType != message.ContentTypeCommand {
		return nil, fmt.Errorf("%w: %s only accepts command messages, got content_type %q", message.ErrInvalidMessage, b.name, msg.ContentType)
	}
	cmd, ok := msg.AsCommand()
	if !ok || strings.TrimSpace(cmd.Command) == "" {
		return nil, fmt.Errorf("%w: content.command must be set", message.ErrInvalidMessage)
	}
	param := cmd.Param
	if param == nil {
		param = map[string]any{}
	}

	start := time.Now()
	spanCtx, span := observability.StartSpan(ctx, observability.SpanPluginCommand, observability.PluginAttrs(b.name, cmd.Command)...)
	defer func() {
		observability.EndSpan(span, err)
		observability.DefaultMetrics().RecordPluginCommand(ctx, b.name, cmd.Command, observability.Status(err), time.Since(start))
	}()

	b.logger.Debug("command %s from %s", cmd.Command, msg.Sender)
	response, err := b.Command(spanCtx, cmd.Command, param)
	if err != nil {
		return nil, err
	}
	reply = &message.Message{
		Sender:      b.Identity(role),
		Receiver:    msg.Sender.Clone(),
		ContentType: message.ContentTypeCommand,
		Content:     &message.Command{Command: cmd.Command, Response: response},
		ThreadID:    msg.ThreadID,
	}
	return reply.Stamp(b.clock), nil
}

// SendMsg queues a message for the interactor to pick up with GetMsg.
func (b *Base) SendMsg(_ context.Context, msg *message.Message) error {
	if msg == nil {
		return nil
	}
	b.outMu.Lock()
	b.outbox = append(b.outbox, msg.Stamp(b.clock))
	b.outMu.Unlock()
	return nil
}

func (b *Base) HasMsg() bool {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	return len(b.outbox) > 0
}

// GetMsg pops the oldest queued message, or returns nil.
func (b *Base) GetMsg() *message.Message {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if len(b.outbox) == 0 {
		return nil
	}
	msg := b.outbox[0]
	b.outbox[0] = nil
	b.outbox = b.outbox[1:]
	return msg
}
