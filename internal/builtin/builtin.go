// Package builtin registers the factories of the components that ship with
// ConCopilot.
package builtin

import (
	"context"

	"github.com/ConCopilot/concopilot/internal/cerebrum"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/copilot"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/interactor"
	"github.com/ConCopilot/concopilot/internal/messaging"
	"github.com/ConCopilot/concopilot/internal/plugin"
	"github.com/ConCopilot/concopilot/internal/registry"
	"github.com/ConCopilot/concopilot/internal/resource"
	"github.com/ConCopilot/concopilot/internal/storage"
	"github.com/ConCopilot/concopilot/internal/userinterface"
)

// Group is the group id of every built-in component.
const Group = "org.concopilot.basic"

// Artifact ids of the built-in components.
const (
	ResourceManager       = "resource-manager"
	DiskResource          = "disk"
	ScriptedModel         = "scripted-model"
	PluginManager         = "plugin-manager"
	StaticPromptGenerator = "static-prompt-generator"
	LLMPromptGenerator    = "llm-prompt-generator"
	Summarizer            = "summarizer"
	Echo                  = "echo"
	DiskStorage           = "disk-storage"
	MemoryStorage         = "memory-storage"
	JSONMessageManager    = "json-message-manager"
	TextMessageManager    = "text-message-manager"
	ChatCerebrum          = "chat-cerebrum"
	AutoInteractor        = "auto-interactor"
	ChatInteractor        = "chat-interactor"
	CmdInterface          = "cmd-interface"
	DuplexInterface       = "duplex-interface"
	Copilot               = "copilot"
)

// StorageSettings are the options every built-in storage factory reads on top
// of the storage's own settings.
type StorageSettings struct {
	// CacheSize puts an LRU read cache of that many values in front of the
	// storage. Zero disables it.
	CacheSize int `yaml:"cache_size"`
}

// Register adds every built-in factory to r under Group, for any version.
func Register(r *registry.Registry) error {
	factories := map[string]registry.Factory{
		ResourceManager: func(ctx context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return resource.BuildManager(ctx, r, d, options(r)...)
		},
		DiskResource: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return resource.NewDisk(d, r.Repository().Fs(), r.Settings().WorkingDirectory, options(r)...)
		},
		ScriptedModel: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return resource.NewScriptedLLM(d, options(r)...)
		},
		PluginManager: func(ctx context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return plugin.BuildManager(ctx, r, d, options(r)...)
		},
		StaticPromptGenerator: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return plugin.NewStaticPromptGenerator(d, options(r)...)
		},
		LLMPromptGenerator: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return plugin.NewLLMPromptGenerator(d, options(r)...)
		},
		Summarizer: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return plugin.NewSummarizer(d, options(r)...)
		},
		Echo: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return plugin.NewEcho(d, options(r)...)
		},
		DiskStorage: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			s, err := storage.NewDisk(d, r.Settings().WorkingDirectory, options(r)...)
			if err != nil {
				return nil, err
			}
			return cached(d, s)
		},
		MemoryStorage: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			s, err := storage.NewMemory(d, options(r)...)
			if err != nil {
				return nil, err
			}
			return cached(d, s)
		},
		JSONMessageManager: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return messaging.NewJSONManager(d, options(r)...)
		},
		TextMessageManager: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return messaging.NewTextManager(d, options(r)...)
		},
		ChatCerebrum: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return cerebrum.NewChat(d, options(r)...)
		},
		AutoInteractor: func(ctx context.Context, r *registry.Registry, d *config.Descriptor, deps ...any) (any, error) {
			return interactor.BuildAuto(ctx, r, d, deps...)
		},
		ChatInteractor: func(ctx context.Context, r *registry.Registry, d *config.Descriptor, deps ...any) (any, error) {
			return interactor.BuildChat(ctx, r, d, deps...)
		},
		CmdInterface: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return userinterface.NewCmd(d, nil, options(r)...)
		},
		DuplexInterface: func(_ context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (any, error) {
			return userinterface.NewDuplex(d, options(r)...)
		},
		Copilot: func(ctx context.Context, r *registry.Registry, d *config.Descriptor, deps ...any) (any, error) {
			return copilot.Build(ctx, r, d, deps...)
		},
	}
	for artifact, f := range factories {
		if err := r.Register(Group, artifact, "", f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with every built-in factory registered.
func NewRegistry(settings config.Settings, opts ...registry.Option) (*registry.Registry, error) {
	r := registry.New(settings, opts...)
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

func options(r *registry.Registry) []component.Option {
	opts := []component.Option{component.WithFs(r.Repository().Fs())}
	if c := r.Settings().Clock; c != nil {
		opts = append(opts, component.WithClock(c))
	}
	return opts
}

func cached(d *config.Descriptor, s framework.Storage) (any, error) {
	var settings StorageSettings
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	if settings.CacheSize <= 0 {
		return s, nil
	}
	return storage.NewCached(s, settings.CacheSize)
}
