// Package plugin holds the plugin manager, the prompt generators and the
// bundled plugins.
package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/registry"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

// Manager owns the plugins of a copilot and keeps their registration order.
type Manager struct {
	*component.Base

	generator framework.PromptGenerator

	mu      sync.RWMutex
	plugins []framework.Plugin
}

var _ framework.PluginManager = (*Manager)(nil)

// NewManager returns a manager without plugins. generator may be nil, in
// which case prompts are rendered from the plugin descriptors alone.
func NewManager(d *config.Descriptor, generator framework.PromptGenerator, opts ...component.Option) (*Manager, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypePluginManager)}, opts...)...)
	if err != nil {
		return nil, err
	}
	m := &Manager{Base: b, generator: generator}
	m.Commands().Handle("list_plugins", m.listPlugins)
	return m, nil
}

// BuildManager creates the prompt generator and every plugin listed in
// plugins and config.plugins.
func BuildManager(ctx context.Context, r *registry.Registry, d *config.Descriptor, opts ...component.Option) (*Manager, error) {
	genRef, err := d.ConfigDescriptor("plugin_prompt_generator")
	if err != nil {
		return nil, err
	}
	if genRef == nil {
		genRef = d.Generator
	}
	var generator framework.PromptGenerator
	if genRef != nil {
		if generator, err = registry.Build[framework.PromptGenerator](ctx, r, genRef); err != nil {
			return nil, fmt.Errorf("plugin prompt generator: %w", err)
		}
	}

	m, err := NewManager(d, generator, opts...)
	if err != nil {
		return nil, err
	}
	extra, err := d.ConfigDescriptors("plugins")
	if err != nil {
		return nil, err
	}
	for _, ref := range append(append([]*config.Descriptor(nil), d.Plugins...), extra...) {
		p, err := registry.Build[framework.Plugin](ctx, r, ref)
		if err != nil {
			return nil, err
		}
		if err := m.AddPlugin(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Generator returns the prompt generator, nil when none is configured.
func (m *Manager) Generator() framework.PromptGenerator { return m.generator }

// AddPlugin registers p. The plugin must be marked as_plugin, carry a name
// and an info section, and declare at least one command. Ids and names must
// be unique.
func (m *Manager) AddPlugin(p framework.Plugin) error {
	if p == nil {
		return errs.NewConfigError("plugins", "plugin is nil")
	}
	d := p.Config()
	switch {
	case !p.AsPlugin():
		return errs.NewConfigError("as_plugin", "%s is not marked as_plugin", coordinatesOf(p))
	case strings.TrimSpace(p.Name()) == "":
		return errs.NewConfigError("name", "plugin %s has no name", coordinatesOf(p))
	case d == nil || d.Info == nil:
		return errs.NewConfigError("info", "plugin %s has no info section", coordinatesOf(p))
	case len(d.Commands) == 0:
		return errs.NewConfigError("commands", "plugin %s declares no commands", coordinatesOf(p))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := component.CheckCollision("plugin", m.plugins, p); err != nil {
		return err
	}
	m.plugins = append(m.plugins, p)
	return nil
}

// Plugins returns the plugins in registration order.
func (m *Manager) Plugins() []framework.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]framework.Plugin(nil), m.plugins...)
}

func (m *Manager) GetPlugin(id, name string) framework.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return component.SelectPlugin(m.plugins, id, name)
}

// GeneratePrompt asks the generator for the prompt of every plugin that has
// none yet.
func (m *Manager) GeneratePrompt(ctx context.Context) error {
	for _, p := range m.Plugins() {
		if strings.TrimSpace(p.Prompt()) != "" {
			continue
		}
		var (
			prompt string
			err    error
		)
		if m.generator != nil {
			prompt, err = m.generator.GeneratePrompt(ctx, p)
		} else {
			prompt, err = RenderPrompt(p, "")
		}
		if err != nil {
			return fmt.Errorf("generate prompt for plugin %s: %w", p.Name(), err)
		}
		p.SetPrompt(prompt)
		m.Logger().Debug("generated prompt for plugin %s", p.Name())
	}
	return nil
}

// CombinedPrompt joins the plugin prompts with a blank line.
func (m *Manager) CombinedPrompt() string {
	plugins := m.Plugins()
	prompts := make([]string, 0, len(plugins))
	for _, p := range plugins {
		prompts = append(prompts, p.Prompt())
	}
	return strings.Join(prompts, "\n\n")
}

func (m *Manager) ConfigResources(provider framework.ResourceProvider) error {
	if err := m.Base.ConfigResources(provider); err != nil {
		return err
	}
	if m.generator != nil {
		if err := m.generator.ConfigResources(provider); err != nil {
			return fmt.Errorf("plugin prompt generator: %w", err)
		}
	}
	for _, p := range m.Plugins() {
		if err := p.ConfigResources(provider); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

func (m *Manager) ConfigContext(ctx *framework.Context) {
	m.Base.ConfigContext(ctx)
	if m.generator != nil {
		m.generator.ConfigContext(ctx)
	}
	for _, p := range m.Plugins() {
		p.ConfigContext(ctx)
	}
}

func (m *Manager) listPlugins(context.Context, any) (any, error) {
	plugins := m.Plugins()
	out := make([]map[string]any, 0, len(plugins))
	for _, p := range plugins {
		commands := make([]string, 0, len(p.Config().Commands))
		for _, c := range p.Config().Commands {
			commands = append(commands, c.CommandName)
		}
		out = append(out, map[string]any{"id": p.ID(), "name": p.Name(), "commands": commands})
	}
	return out, nil
}

func coordinatesOf(c framework.Component) errs.Coordinates {
	return errs.Coordinates{GroupID: c.GroupID(), ArtifactID: c.ArtifactID(), Version: c.Version()}
}
