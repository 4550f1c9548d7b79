// Package copilot assembles the components of a copilot and runs its
// interaction loop, in the foreground or on a background goroutine.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ConCopilot/concopilot/internal/asset"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/registry"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Start when a background run is active.
var ErrAlreadyRunning = errors.New("copilot is already running")

// Parts are the components a copilot owns. PluginManager may be nil.
type Parts struct {
	ResourceManager framework.ResourceManager
	Storage         framework.Storage
	UserInterface   framework.UserInterface
	Cerebrum        framework.Cerebrum
	PluginManager   framework.PluginManager
	MessageManager  framework.MessageManager
	Interactor      framework.Interactor
}

func (p Parts) validate() error {
	switch {
	case p.ResourceManager == nil:
		return errs.NewConfigError("config.resource_manager", "copilot requires a resource manager")
	case p.Storage == nil:
		return errs.NewConfigError("config.storage", "copilot requires a storage")
	case p.UserInterface == nil:
		return errs.NewConfigError("config.user_interface", "copilot requires a user interface")
	case p.Cerebrum == nil:
		return errs.NewConfigError("config.cerebrum", "copilot requires a cerebrum")
	case p.MessageManager == nil:
		return errs.NewConfigError("config.message_manager", "copilot requires a message manager")
	case p.Interactor == nil:
		return errs.NewConfigError("config.interactor", "copilot requires an interactor")
	}
	return nil
}

// Components lists the owned parts in initialisation order.
func (p Parts) Components() []framework.Component {
	out := []framework.Component{p.ResourceManager, p.Storage, p.UserInterface, p.Cerebrum}
	if p.PluginManager != nil {
		out = append(out, p.PluginManager)
	}
	return append(out, p.MessageManager, p.Interactor)
}

// Basic runs initialize → interaction loop → finalize over its parts.
type Basic struct {
	*component.Base
	Parts

	mu      sync.Mutex
	group   *errgroup.Group
	cancel  context.CancelFunc
	context *framework.Context
}

var _ framework.Copilot = (*Basic)(nil)

// New assembles a copilot from already built parts.
func New(d *config.Descriptor, parts Parts, opts ...component.Option) (*Basic, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeCopilot)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := parts.validate(); err != nil {
		return nil, err
	}
	c := &Basic{Base: b, Parts: parts}
	c.Commands().Handle("state", func(context.Context, any) (any, error) {
		return map[string]any{"state": c.Interactor.State().String()}, nil
	})
	return c, nil
}

// Build creates every part named in d's config through r. The interactor
// receives (resource manager, cerebrum, plugin manager, message manager).
func Build(ctx context.Context, r *registry.Registry, d *config.Descriptor, _ ...any) (*Basic, error) {
	var (
		parts Parts
		err   error
	)
	if parts.ResourceManager, err = buildPart[framework.ResourceManager](ctx, r, d, "resource_manager", true); err != nil {
		return nil, err
	}
	if parts.Storage, err = buildPart[framework.Storage](ctx, r, d, "storage", true); err != nil {
		return nil, err
	}
	if parts.UserInterface, err = buildPart[framework.UserInterface](ctx, r, d, "user_interface", true); err != nil {
		return nil, err
	}
	if parts.Cerebrum, err = buildPart[framework.Cerebrum](ctx, r, d, "cerebrum", true); err != nil {
		return nil, err
	}
	if parts.PluginManager, err = buildPart[framework.PluginManager](ctx, r, d, "plugin_manager", false); err != nil {
		return nil, err
	}
	if parts.MessageManager, err = buildPart[framework.MessageManager](ctx, r, d, "message_manager", true); err != nil {
		return nil, err
	}

	var pluginManager any
	if parts.PluginManager != nil {
		pluginManager = parts.PluginManager
	}
	if parts.Interactor, err = buildPart[framework.Interactor](ctx, r, d, "interactor", true,
		parts.ResourceManager, parts.Cerebrum, pluginManager, parts.MessageManager); err != nil {
		return nil, err
	}
	return New(d, parts, component.WithFs(r.Repository().Fs()))
}

func buildPart[T any](ctx context.Context, r *registry.Registry, d *config.Descriptor, key string, required bool, deps ...any) (T, error) {
	var zero T
	ref, err := d.ConfigDescriptor(key)
	if err != nil {
		return zero, err
	}
	if ref == nil {
		if required {
			return zero, errs.NewConfigError("config."+key, "copilot %s does not configure a %s", d.Name, key)
		}
		return zero, nil
	}
	part, err := registry.Build[T](ctx, r, ref, deps...)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", key, err)
	}
	return part, nil
}

// SharedContext returns the context handed to every part, nil before
// Initialize.
func (c *Basic) SharedContext() *framework.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context
}

// Initialize brings resources up, binds them, shares one context across
// every part and lets the interactor prepare prompts and plugins.
func (c *Basic) Initialize(ctx context.Context) error {
	if err := c.ResourceManager.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize resources: %w", err)
	}
	if err := c.Base.ConfigResources(c.ResourceManager); err != nil {
		return err
	}
	for _, part := range c.Parts.Components() {
		if err := part.ConfigResources(c.ResourceManager); err != nil {
			return fmt.Errorf("config resources of %s: %w", part.Name(), err)
		}
	}

	fctx := &framework.Context{Storage: c.Storage, Assets: asset.Map{}, UserInterface: c.UserInterface}
	c.mu.Lock()
	c.context = fctx
	c.mu.Unlock()
	c.Base.ConfigContext(fctx)
	for _, part := range c.Parts.Components() {
		part.ConfigContext(fctx)
	}

	if err := c.Interactor.SetupPrompts(ctx); err != nil {
		return fmt.Errorf("setup prompts: %w", err)
	}
	if err := c.Interactor.SetupPlugins(ctx); err != nil {
		return fmt.Errorf("setup plugins: %w", err)
	}
	c.Logger().Info("copilot %s initialized", c.Name())
	return nil
}

// RunInteraction runs the interactor loop to completion.
func (c *Basic) RunInteraction(ctx context.Context) error {
	return c.Interactor.InteractLoop(ctx)
}

// Finalize releases the resources.
func (c *Basic) Finalize(ctx context.Context) error {
	if err := c.ResourceManager.Finalize(ctx); err != nil {
		return fmt.Errorf("finalize resources: %w", err)
	}
	c.Logger().Info("copilot %s finalized", c.Name())
	return nil
}

// Run initializes, runs the loop and finalizes. Finalize runs even when an
// earlier step failed; its error is joined with theirs.
func (c *Basic) Run(ctx context.Context) (err error) {
	metrics := observability.DefaultMetrics()
	metrics.CopilotStarted(ctx)
	defer metrics.CopilotStopped(ctx)

	defer func() {
		// Finalize with a context that survives cancellation of the run.
		if ferr := c.Finalize(context.WithoutCancel(ctx)); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	return c.RunInteraction(ctx)
}

// Start runs the copilot on a background goroutine.
func (c *Basic) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		defer cancel()
		return c.Run(ctx)
	})
	c.group, c.cancel = &group, cancel
	return nil
}

// Interrupt stops the interactor, cancels a background run and releases any
// wait on the user interface.
func (c *Basic) Interrupt() {
	c.Interactor.Stop()
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ui, ok := c.UserInterface.(framework.Interruptible); ok {
		ui.Interrupt()
	}
}

// Wait blocks until a background run ends and returns its error. It returns
// nil when Start was never called.
func (c *Basic) Wait() error {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group == nil {
		return nil
	}
	err := group.Wait()
	c.mu.Lock()
	c.group, c.cancel = nil, nil
	c.mu.Unlock()
	return err
}
