// Package framework defines the contracts shared by every copilot component:
// plugins, resources, storages, user interfaces, cerebrums, message managers,
// interactors and copilots.
package framework

import (
	"context"

	"github.com/ConCopilot/concopilot/internal/asset"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/message"
)

// Context is shared by reference with every component for one copilot run.
// The asset map is not synchronised; components coordinate their own access.
type Context struct {
	Storage       Storage
	Assets        asset.Map
	UserInterface UserInterface
}

// Commander executes a named command.
type Commander interface {
	Command(ctx context.Context, name string, param any) (any, error)
}

// Component is the identity and lifecycle contract every component obeys.
type Component interface {
	Commander

	GroupID() string
	ArtifactID() string
	Version() string
	ID() string
	Name() string
	Type() string
	AsPlugin() bool

	// Config returns the descriptor the component was built from.
	Config() *config.Descriptor
	// ConfigFilePath resolves file against the component's config folder.
	// An empty file names the descriptor itself.
	ConfigFilePath(file string) string

	// ConfigResources pulls the declared resources from provider.
	ConfigResources(provider ResourceProvider) error
	// ConfigContext hands over the shared context.
	ConfigContext(ctx *Context)
}

// Plugin is a component that accepts command messages.
type Plugin interface {
	Component

	// OnMsg runs the command carried by msg and returns the reply addressed
	// to msg's sender.
	OnMsg(ctx context.Context, msg *message.Message) (*message.Message, error)
	SendMsg(ctx context.Context, msg *message.Message) error
	HasMsg() bool
	GetMsg() *message.Message

	Prompt() string
	SetPrompt(prompt string)

	Resources() []Resource
	GetResource(q ResourceQuery) Resource
}

// ResourceQuery selects a resource. An ID of "default" counts as unset.
type ResourceQuery struct {
	ID   string
	Name string
	Type string
}

// QueryFor converts a descriptor resource reference.
func QueryFor(ref config.ResourceRef) ResourceQuery {
	return ResourceQuery{ID: ref.ID, Name: ref.Name, Type: ref.Type}
}

// ResourceProvider looks resources up.
type ResourceProvider interface {
	GetResource(q ResourceQuery) Resource
}

// Resource is an infrastructure dependency with an explicit lifecycle.
type Resource interface {
	Plugin
	ResourceType() string
	Initialize(ctx context.Context) error
	Finalize(ctx context.Context) error
}

// ResourceManager owns the resources of a copilot.
type ResourceManager interface {
	Plugin
	ResourceProvider
	All() []Resource
	Initialize(ctx context.Context) error
	Finalize(ctx context.Context) error
}

// PluginCatalog exposes a set of plugins to cerebrums and interactors.
type PluginCatalog interface {
	Plugins() []Plugin
	GetPlugin(id, name string) Plugin
	CombinedPrompt() string
}

// PluginManager owns the plugins of a copilot.
type PluginManager interface {
	Plugin
	PluginCatalog
	// GeneratePrompt fills the prompt of every plugin that has none.
	GeneratePrompt(ctx context.Context) error
}

// PromptGenerator writes a prompt describing plugin for the model.
type PromptGenerator interface {
	Plugin
	GeneratePrompt(ctx context.Context, plugin Plugin) (string, error)
}

// Storage keeps long-term copilot memory.
type Storage interface {
	Plugin
	// Get returns the value for key and whether it exists.
	Get(key string) (any, bool, error)
	// GetOrDefault returns def when key is absent.
	GetOrDefault(key string, def any) (any, error)
	Put(key string, value any) error
	// Remove deletes key and returns the removed value, nil if absent.
	Remove(key string) (any, error)
	// SubStorage returns a dedicated area of this storage.
	SubStorage(key string) (Storage, error)
	RemoveSubStorage(key string) (bool, error)
}

// UserInterface carries messages between the copilot and its user.
type UserInterface interface {
	Plugin
	SendMsgUser(msg *message.Message) error
	// OnMsgUser sends msg and waits for the user's reply.
	OnMsgUser(ctx context.Context, msg *message.Message) (*message.Message, error)
	HasUserMsg() bool
	// GetUserMsg returns the next pending user message, or nil.
	GetUserMsg() (*message.Message, error)
	WaitUserMsg(ctx context.Context) (*message.Message, error)
}

// Interruptible is implemented by user interfaces whose blocked waits can be
// released from another goroutine.
type Interruptible interface {
	Interrupt()
	Interrupted() bool
}

// MessageManager turns a raw model response into messages.
type MessageManager interface {
	Plugin
	Parse(ctx context.Context, resp *InteractResponse, threadID string) ([]*message.Message, error)
}

// Cerebrum translates interaction parameters into LLM calls and back.
type Cerebrum interface {
	Plugin
	Role() string
	SetupPlugins(catalog PluginCatalog) error
	Model() LLM
	// Interact runs one model turn. llmParams override inference parameters.
	Interact(ctx context.Context, param *InteractParameter, llmParams map[string]any) (*InteractResponse, error)
}

// Interactor drives the interaction loop.
type Interactor interface {
	Plugin
	SetupPrompts(ctx context.Context) error
	SetupPlugins(ctx context.Context) error
	InteractLoop(ctx context.Context) error
	Stop()
	State() State
}

// Copilot is the top-level assembly.
type Copilot interface {
	Plugin
	Initialize(ctx context.Context) error
	RunInteraction(ctx context.Context) error
	Finalize(ctx context.Context) error
	Run(ctx context.Context) error
}
