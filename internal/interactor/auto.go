package interactor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ConCopilot/concopilot/internal/asset"
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

// Commands the auto interactor sends to the cerebrum.
const (
	CommandFirst   = "Determine which next command to use, and respond using the json format specified above."
	CommandNext    = "Determine which next command to use, and respond using the format specified above."
	CommandOnError = "Last command execution threw an error. Check the error in the interaction messages, and try to fix the error and determine which next command to use, and respond using the json format specified above."
	CommandOnPanic = "An error happened during the thinking loop. Check the error in the interaction messages, and try to fix the error and determine which next command to use, and respond using the json format specified above."

	DefaultSummary    = "No summary currently."
	summaryAssetName  = "message summary"
	summaryAssetUsage = "The summary of interaction messages between you, plugins, and the user. This is for reminding you with events from your past."
)

// DefaultAutoInstruction is used when no instruction is configured.
const DefaultAutoInstruction = `You are {ai_name}, acting as the {ai_role} (id {ai_id}) of an autonomous copilot.

GOALS:

{goals}

{plugins}

Reply with one JSON message, or a JSON list of messages, shaped as:
{"receiver": {"role": "plugin|user|system", "name": "<plugin name>"}, "content_type": "command", "content": {"command": "<command>", "param": {}}}
Address the system with the command "exit" once every goal is met.`

// Summarizer condenses a slice of history into a running summary.
type Summarizer interface {
	framework.Plugin
	Summarize(ctx context.Context, contents []any, previous string) (string, error)
}

// AutoSettings is the config section of the auto interactor. The summarizer
// descriptor under config.summarizer is built by BuildAuto.
type AutoSettings struct {
	InstructionFile   string   `yaml:"instruction_file"`
	Instruction       string   `yaml:"instruction"`
	Goals             []string `yaml:"goals"`
	GoalsFilePath     string   `yaml:"goals_file_path"`
	MessageHistoryKey string   `yaml:"message_history_key"`
	MessageSummaryKey string   `yaml:"message_summary_key"`
	SummarizeTokenLen int      `yaml:"summarize_token_len"`
	WithPluginPrompt  bool     `yaml:"with_plugin_prompt"`
}

// Auto pursues a list of goals on its own: every turn it asks the cerebrum
// for the next command and dispatches the reply to a plugin, the user or the
// system.
type Auto struct {
	*Basic
	settings    AutoSettings
	instruction string
	summarizer  Summarizer

	goals        []string
	instructions []string
}

var _ framework.Interactor = (*Auto)(nil)

// NewAuto builds the interactor. summarizer may be nil, which disables
// history compaction.
func NewAuto(d *config.Descriptor, deps Deps, summarizer Summarizer, opts ...component.Option) (*Auto, error) {
	basic, err := NewBasic(d, deps, opts...)
	if err != nil {
		return nil, err
	}
	settings := AutoSettings{
		MessageHistoryKey: "message_history",
		MessageSummaryKey: "message_summary",
		SummarizeTokenLen: 3000,
	}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	a := &Auto{Basic: basic, settings: settings, summarizer: summarizer}
	if a.instruction, err = a.loadInstruction(); err != nil {
		return nil, err
	}
	return a, nil
}

// BuildAuto creates the configured summarizer through r and then the
// interactor.
func BuildAuto(ctx context.Context, r *registry.Registry, d *config.Descriptor, deps ...any) (*Auto, error) {
	in, err := DepsFrom(deps...)
	if err != nil {
		return nil, err
	}
	summarizerRef, err := d.ConfigDescriptor("summarizer")
	if err != nil {
		return nil, err
	}
	var summarizer Summarizer
	if summarizerRef != nil {
		if summarizer, err = registry.Build[Summarizer](ctx, r, summarizerRef); err != nil {
			return nil, fmt.Errorf("summarizer: %w", err)
		}
	}
	return NewAuto(d, in, summarizer, component.WithFs(r.Repository().Fs()))
}

func (a *Auto) loadInstruction() (string, error) {
	switch {
	case a.settings.InstructionFile != "":
		data, err := afero.ReadFile(a.Fs(), a.ConfigFilePath(a.settings.InstructionFile))
		if err != nil {
			return "", &errs.ConfigError{Field: "config.instruction_file", Reason: "cannot read instruction file", Err: err}
		}
		return string(data), nil
	case a.settings.Instruction != "":
		return a.settings.Instruction, nil
	default:
		return DefaultAutoInstruction, nil
	}
}

func (a *Auto) ConfigResources(provider framework.ResourceProvider) error {
	if err := a.Basic.ConfigResources(provider); err != nil {
		return err
	}
	if a.summarizer != nil {
		return a.summarizer.ConfigResources(provider)
	}
	return nil
}

func (a *Auto) ConfigContext(ctx *framework.Context) {
	a.Basic.ConfigContext(ctx)
	if a.summarizer != nil {
		a.summarizer.ConfigContext(ctx)
	}
}

// Instructions returns the rendered standing instructions.
func (a *Auto) Instructions() []string { return append([]string(nil), a.instructions...) }

// Goals returns the goals the interactor pursues.
func (a *Auto) Goals() []string { return append([]string(nil), a.goals...) }

// SetupPrompts generates plugin prompts, collects the goals and renders the
// instruction.
func (a *Auto) SetupPrompts(ctx context.Context) error {
	if err := a.Basic.SetupPrompts(ctx); err != nil {
		return err
	}
	goals, err := a.loadGoals(ctx)
	if err != nil {
		return err
	}
	a.goals = goals

	numbered := make([]string, len(goals))
	for i, goal := range goals {
		numbered[i] = strconv.Itoa(i+1) + ". " + goal
	}
	replacements := []string{
		"{ai_name}", a.Cerebrum.Name(),
		"{ai_role}", a.Cerebrum.Role(),
		"{ai_id}", a.Cerebrum.ID(),
		"{goals}", strings.Join(numbered, "\n"),
	}
	if a.settings.WithPluginPrompt {
		combined := ""
		if a.PluginManager != nil {
			combined = a.PluginManager.CombinedPrompt()
		}
		replacements = append(replacements, "{plugins}", combined)
	}
	a.instructions = []string{strings.NewReplacer(replacements...).Replace(a.instruction)}
	return nil
}

func (a *Auto) loadGoals(ctx context.Context) ([]string, error) {
	if len(a.settings.Goals) > 0 {
		return append([]string(nil), a.settings.Goals...), nil
	}
	if a.settings.GoalsFilePath != "" {
		data, err := afero.ReadFile(a.Fs(), a.settings.GoalsFilePath)
		if err != nil {
			return nil, &errs.ConfigError{Field: "config.goals_file_path", Reason: "cannot read goals", Err: err}
		}
		return splitLines(string(data)), nil
	}
	fctx, err := a.sharedContext()
	if err != nil {
		return nil, err
	}
	reply, err := fctx.UserInterface.OnMsgUser(ctx, message.NewText(
		&message.Identity{Role: message.RoleSystem},
		&message.Identity{Role: message.RoleUser},
		"Please input your goals:",
	))
	if err != nil {
		return nil, fmt.Errorf("ask for goals: %w", err)
	}
	if reply == nil {
		return nil, errs.NewConfigError("goals", "no goals were given")
	}
	text, ok := reply.Text()
	if !ok {
		return nil, errs.NewConfigError("goals", "goals must be sent as text")
	}
	return splitLines(text), nil
}

// SetupPlugins offers the plugins to the cerebrum unless they are already
// part of the instruction.
func (a *Auto) SetupPlugins(ctx context.Context) error {
	if a.settings.WithPluginPrompt {
		return nil
	}
	return a.Basic.SetupPlugins(ctx)
}

type autoState struct {
	fctx    *framework.Context
	history []*message.Message
	start   int
	summary *asset.Asset
}

// InteractLoop runs turns until the cerebrum addresses "exit" to the system,
// Stop is called, ctx is cancelled or the user interface is interrupted.
// Any other failure is recorded in the history and fed back to the cerebrum.
func (a *Auto) InteractLoop(ctx context.Context) error {
	started, err := a.start()
	if err != nil || !started {
		return err
	}
	defer a.finish()

	st, err := a.loadState()
	if err != nil {
		return err
	}
	a.running()

	command := CommandFirst
	for !a.stopping() && ctx.Err() == nil {
		next, exit, err := a.turn(ctx, st, command)
		switch {
		case err != nil && ended(ctx, err):
			return nil
		case err != nil:
			a.Logger().Error("interaction turn failed: %v", err)
			st.history = append(st.history, (&message.Message{
				Sender:   &message.Identity{Role: message.RoleSystem},
				Receiver: a.cerebrumIdentity(),
				Content:  message.Data{V: map[string]any{"content": "error", "error_message": errorText(err)}},
			}).Stamp(a.Clock()))
			command = CommandOnPanic
		case exit:
			return nil
		default:
			command = next
		}
	}
	return nil
}

func (a *Auto) loadState() (*autoState, error) {
	fctx, err := a.sharedContext()
	if err != nil {
		return nil, err
	}
	history, err := storage.LoadMessages(fctx.Storage, a.settings.MessageHistoryKey)
	if err != nil {
		return nil, err
	}
	rawStart, err := fctx.Storage.GetOrDefault(a.startKey(), 0)
	if err != nil {
		return nil, err
	}
	start := toInt(rawStart)
	if start < 0 || start > len(history) {
		start = 0
	}
	rawSummary, err := fctx.Storage.GetOrDefault(a.settings.MessageSummaryKey, DefaultSummary)
	if err != nil {
		return nil, err
	}
	summary, _ := rawSummary.(string)
	if summary == "" {
		summary = DefaultSummary
	}
	st := &autoState{
		fctx:    fctx,
		history: history,
		start:   start,
		summary: asset.New(asset.Asset{
			Type:        "text",
			ID:          a.settings.MessageSummaryKey,
			Name:        summaryAssetName,
			Description: summaryAssetUsage,
			Content:     summary,
		}),
	}
	fctx.Assets[a.settings.MessageSummaryKey] = st.summary
	return st, nil
}

func (a *Auto) startKey() string { return a.settings.MessageHistoryKey + "_start" }

func (a *Auto) turn(ctx context.Context, st *autoState, command string) (next string, exit bool, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanInteractionTurn, observability.TurnAttrs("auto")...)
	defer func() {
		observability.EndSpan(span, err)
		outcome := observability.Status(err)
		if exit {
			outcome = "exit"
		}
		observability.DefaultMetrics().RecordTurn(ctx, "auto", outcome)
	}()

	ui := st.fctx.UserInterface
	if ui.HasUserMsg() {
		count, err := a.drainUser(ctx, st, ui)
		if err != nil {
			return "", false, err
		}
		command += fmt.Sprintf(" Note that %d incoming user message detected.", count)
	}

	resp, err := a.interact(ctx, st, command)
	if err != nil {
		return "", false, err
	}
	msgs, err := a.MessageManager.Parse(ctx, resp, "")
	if err != nil {
		return "", false, &errs.ParseError{Input: resp.Content, Err: err}
	}
	if len(msgs) == 0 {
		return "", false, &errs.ParseError{Input: resp.Content, Err: fmt.Errorf("cerebrum returned no message")}
	}

	brain := a.cerebrumIdentity()
	st.history = append(st.history, message.NewText(&message.Identity{Role: message.RoleUser}, brain, command).Stamp(a.Clock()))
	for _, msg := range msgs {
		msg.Sender = brain.Clone()
		st.history = append(st.history, msg.Stamp(a.Clock()))
	}
	if err := storage.SaveMessages(st.fctx.Storage, a.settings.MessageHistoryKey, st.history); err != nil {
		return "", false, err
	}

	next = CommandNext
	for _, msg := range msgs {
		signal, err := a.dispatch(ctx, st, msg)
		if err != nil {
			return "", false, err
		}
		switch signal {
		case signalExit:
			return "", true, nil
		case signalError:
			next = CommandOnError
		}
	}
	return next, false, nil
}

func (a *Auto) drainUser(ctx context.Context, st *autoState, ui framework.UserInterface) (int, error) {
	count := 0
	for ui.HasUserMsg() {
		msg, err := ui.GetUserMsg()
		if err != nil {
			return count, err
		}
		if msg == nil {
			break
		}
		own, err := a.handleOwnCommand(ctx, msg)
		if err != nil {
			return count, err
		}
		if own {
			continue
		}
		st.history = append(st.history, asUser(msg).Stamp(a.Clock()))
		count++
	}
	return count, nil
}

func (a *Auto) interact(ctx context.Context, st *autoState, command string) (*framework.InteractResponse, error) {
	resp, err := a.Cerebrum.Interact(ctx, &framework.InteractParameter{
		Instructions:    a.instructions,
		Command:         command,
		MessageHistory:  st.history[st.start:],
		Assets:          sortedAssets(st.fctx.Assets),
		RequireTokenLen: true,
		RequireCost:     true,
	}, a.LLMParams())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("cerebrum %s returned no response", a.Cerebrum.Name())
	}
	if a.summarizer != nil && resp.InputTokenLen != nil && *resp.InputTokenLen > a.settings.SummarizeTokenLen {
		if err := a.summarize(ctx, st); err != nil {
			return nil, fmt.Errorf("summarize history: %w", err)
		}
	}
	return resp, nil
}

// summarize folds the history window into the running summary and moves the
// window start past it. The full history stays in storage.
func (a *Auto) summarize(ctx context.Context, st *autoState) error {
	window := st.history[st.start:]
	contents := make([]any, len(window))
	for i, msg := range window {
		contents[i] = msg
	}
	previous, _ := st.summary.Content.(string)
	summary, err := a.summarizer.Summarize(ctx, contents, previous)
	if err != nil {
		return err
	}
	st.summary.Content = summary
	if err := st.fctx.Storage.Put(a.settings.MessageSummaryKey, summary); err != nil {
		return err
	}
	st.start = len(st.history)
	return st.fctx.Storage.Put(a.startKey(), st.start)
}

type signal int

const (
	signalNone signal = iota
	signalError
	signalExit
)

func (a *Auto) dispatch(ctx context.Context, st *autoState, msg *message.Message) (signal, error) {
	if msg.Receiver == nil {
		return signalNone, nil
	}
	switch msg.Receiver.Role {
	case message.RoleSystem:
		switch word := message.Signal(msg.Content); word {
		case "error":
			return signalError, nil
		case "exit":
			return signalExit, nil
		default:
			return signalNone, errs.NewRoutingError("unknown system signal %q, only \"error\" and \"exit\" are accepted", word)
		}
	case message.RoleUser:
		ui := st.fctx.UserInterface
		if err := ui.SendMsgUser(msg); err != nil {
			return signalNone, err
		}
		reply, err := a.waitUser(ctx, ui)
		if err != nil {
			return signalNone, err
		}
		if reply == nil {
			return signalExit, nil
		}
		st.history = append(st.history, asUser(reply).Stamp(a.Clock()))
	case message.RolePlugin:
		p := a.lookupPlugin(msg.Receiver)
		if p == nil {
			return signalNone, errs.NewRoutingError("no such plugin with the name: %s", msg.Receiver.Name)
		}
		reply, err := p.OnMsg(ctx, msg)
		if err != nil {
			return signalNone, err
		}
		if reply != nil {
			st.history = append(st.history, reply.Stamp(a.Clock()))
		}
	default:
		return signalNone, errs.NewRoutingError("unknown receiver role %q, only \"system\", \"user\" and \"plugin\" are accepted", msg.Receiver.Role)
	}
	return signalNone, nil
}

func (a *Auto) lookupPlugin(to *message.Identity) framework.Plugin {
	if a.PluginManager == nil {
		return nil
	}
	if to.Name != "" {
		return a.PluginManager.GetPlugin("", to.Name)
	}
	return a.PluginManager.GetPlugin(to.ID, "")
}

func asUser(msg *message.Message) *message.Message {
	if msg.Sender == nil || msg.Sender.Role != message.RoleUser {
		msg.Sender = &message.Identity{Role: message.RoleUser}
	}
	return msg
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}
