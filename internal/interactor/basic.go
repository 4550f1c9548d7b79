// Package interactor drives the interaction loop between the user, the
// cerebrum and the plugins of a copilot.
package interactor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ConCopilot/concopilot/internal/asset"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

// Deps are the collaborators handed to an interactor factory, in this order.
type Deps struct {
	ResourceManager framework.ResourceManager
	Cerebrum        framework.Cerebrum
	PluginManager   framework.PluginManager
	MessageManager  framework.MessageManager
}

// DepsFrom reads (resourceManager, cerebrum, pluginManager, messageManager)
// from factory arguments. Missing trailing values stay nil.
func DepsFrom(deps ...any) (Deps, error) {
	var out Deps
	for i, dep := range deps {
		if dep == nil {
			continue
		}
		ok := true
		switch i {
		case 0:
			out.ResourceManager, ok = dep.(framework.ResourceManager)
		case 1:
			out.Cerebrum, ok = dep.(framework.Cerebrum)
		case 2:
			out.PluginManager, ok = dep.(framework.PluginManager)
		case 3:
			out.MessageManager, ok = dep.(framework.MessageManager)
		default:
			return out, fmt.Errorf("interactor takes at most 4 dependencies, got %d", len(deps))
		}
		if !ok {
			return out, fmt.Errorf("interactor dependency %d has unexpected type %T", i, dep)
		}
	}
	return out, nil
}

// Basic holds what every interactor shares: its collaborators, the lifecycle
// and the model parameter overrides set with set_llm_param.
type Basic struct {
	*component.Base
	lifecycle
	Deps

	llmMu     sync.Mutex
	llmParams map[string]any
}

// NewBasic validates deps and registers the set_llm_param command.
func NewBasic(d *config.Descriptor, deps Deps, opts ...component.Option) (*Basic, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeInteractor)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if deps.Cerebrum == nil {
		return nil, errs.NewConfigError("cerebrum", "interactor %s requires a cerebrum", b.Name())
	}
	if deps.MessageManager == nil {
		return nil, errs.NewConfigError("message_manager", "interactor %s requires a message manager", b.Name())
	}
	basic := &Basic{Base: b, Deps: deps, llmParams: map[string]any{}}
	basic.Commands().Handle("set_llm_param", basic.setLLMParamCommand)
	return basic, nil
}

// SetupPrompts lets the plugin manager fill in missing plugin prompts.
func (b *Basic) SetupPrompts(ctx context.Context) error {
	if b.PluginManager == nil {
		return nil
	}
	return b.PluginManager.GeneratePrompt(ctx)
}

// SetupPlugins hands the plugin catalog to the cerebrum.
func (b *Basic) SetupPlugins(context.Context) error {
	if b.PluginManager == nil {
		return b.Cerebrum.SetupPlugins(nil)
	}
	return b.Cerebrum.SetupPlugins(b.PluginManager)
}

// LLMParams returns a copy of the current overrides.
func (b *Basic) LLMParams() map[string]any {
	b.llmMu.Lock()
	defer b.llmMu.Unlock()
	out := make(map[string]any, len(b.llmParams))
	for k, v := range b.llmParams {
		out[k] = v
	}
	return out
}

// SetLLMParam merges update into the overrides and drops the keys in remove.
func (b *Basic) SetLLMParam(update map[string]any, remove []string) map[string]any {
	b.llmMu.Lock()
	for k, v := range update {
		b.llmParams[k] = v
	}
	for _, k := range remove {
		delete(b.llmParams, k)
	}
	b.llmMu.Unlock()
	return b.LLMParams()
}

func (b *Basic) setLLMParamCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[struct {
		Update map[string]any `json:"update"`
		Remove []string       `json:"remove"`
	}](param)
	if err != nil {
		return nil, err
	}
	return map[string]any{"param": b.SetLLMParam(p.Update, p.Remove)}, nil
}

// cerebrumIdentity addresses the cerebrum.
func (b *Basic) cerebrumIdentity() *message.Identity {
	return &message.Identity{Role: message.RoleCerebrum, ID: b.Cerebrum.ID(), Name: b.Cerebrum.Name()}
}

// sharedContext returns the context handed over by ConfigContext, failing
// when the storage or the user interface is missing.
func (b *Basic) sharedContext() (*framework.Context, error) {
	fctx := b.Context()
	switch {
	case fctx == nil:
		return nil, errs.NewConfigError("context", "interactor %s has no context, call ConfigContext first", b.Name())
	case fctx.Storage == nil:
		return nil, errs.NewConfigError("storage", "interactor %s has no storage", b.Name())
	case fctx.UserInterface == nil:
		return nil, errs.NewConfigError("user_interface", "interactor %s has no user interface", b.Name())
	}
	if fctx.Assets == nil {
		fctx.Assets = asset.Map{}
	}
	return fctx, nil
}

// handleOwnCommand runs msg when it is a command addressed to the interactor
// itself and reports whether it was one.
func (b *Basic) handleOwnCommand(ctx context.Context, msg *message.Message) (bool, error) {
	if msg == nil || msg.ReceiverRole() != message.RoleInteractor {
		return false, nil
	}
	cmd, ok := msg.AsCommand()
	if !ok {
		return false, nil
	}
	if _, err := b.Command(ctx, cmd.Command, cmd.Param); err != nil {
		return true, fmt.Errorf("interactor command %s: %w", cmd.Command, err)
	}
	return true, nil
}

// waitUser blocks until the user sends a message that is not an interactor
// command. A nil message means the user interface pipeline is broken.
func (b *Basic) waitUser(ctx context.Context, ui framework.UserInterface) (*message.Message, error) {
	for {
		msg, err := ui.WaitUserMsg(ctx)
		if err != nil || msg == nil {
			if msg == nil && err == nil {
				b.Logger().Error("user interface pipeline is broken")
			}
			return nil, err
		}
		own, err := b.handleOwnCommand(ctx, msg)
		if err != nil {
			return nil, err
		}
		if !own {
			return msg, nil
		}
	}
}

// ended reports errors that end the loop instead of being fed back.
func ended(ctx context.Context, err error) bool {
	return errs.IsInterrupted(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil
}

// errorText renders err the way it is shown to the model and the user.
func errorText(err error) string {
	return errs.TypeName(err) + ": " + err.Error()
}

func sortedAssets(m asset.Map) []*asset.Asset {
	out := m.Values()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
