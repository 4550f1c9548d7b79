package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/registry"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

// Manager owns the resources of a copilot. Resources are initialized and
// finalized one by one in registration order.
type Manager struct {
	*component.Base

	mu        sync.RWMutex
	resources []framework.Resource
}

var _ framework.ResourceManager = (*Manager)(nil)

// NewManager returns an empty manager.
func NewManager(d *config.Descriptor, opts ...component.Option) (*Manager, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeResourceManager)}, opts...)...)
	if err != nil {
		return nil, err
	}
	m := &Manager{Base: b}
	m.Commands().Handle("list_resources", m.listResources)
	return m, nil
}

// BuildManager creates a manager and every resource its descriptor lists in
// resources and config.resources.
func BuildManager(ctx context.Context, r *registry.Registry, d *config.Descriptor, opts ...component.Option) (*Manager, error) {
	m, err := NewManager(d, opts...)
	if err != nil {
		return nil, err
	}
	refs, err := d.AllResourceRefs()
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.Component == nil {
			return nil, errs.NewConfigError("resources", "resource manager entries must name group_id, artifact_id and version")
		}
		res, err := registry.Build[framework.Resource](ctx, r, ref.Component)
		if err != nil {
			return nil, err
		}
		if err := m.AddResource(res); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddResource registers res. Ids and names must be unique.
func (m *Manager) AddResource(res framework.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := component.CheckCollision("resource", m.resources, res); err != nil {
		return err
	}
	m.resources = append(m.resources, res)
	return nil
}

// All returns the resources in registration order.
func (m *Manager) All() []framework.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]framework.Resource(nil), m.resources...)
}

func (m *Manager) Resources() []framework.Resource { return m.All() }

func (m *Manager) GetResource(q framework.ResourceQuery) framework.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return component.SelectResource(m.resources, q)
}

// ConfigResources does nothing: the manager is the provider.
func (m *Manager) ConfigResources(framework.ResourceProvider) error { return nil }

func (m *Manager) ConfigContext(ctx *framework.Context) {
	m.Base.ConfigContext(ctx)
	for _, res := range m.All() {
		res.ConfigContext(ctx)
	}
}

// Initialize stops at the first resource that fails.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, res := range m.All() {
		if err := res.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize resource %s: %w", describe(res), err)
		}
		m.Logger().Debug("initialized resource %s", describe(res))
	}
	return nil
}

// Finalize finalizes every resource and joins the failures.
func (m *Manager) Finalize(ctx context.Context) error {
	var failures []error
	for _, res := range m.All() {
		if err := res.Finalize(ctx); err != nil {
			m.Logger().Warn("finalize resource %s: %v", describe(res), err)
			failures = append(failures, fmt.Errorf("finalize resource %s: %w", describe(res), err))
		}
	}
	return errors.Join(failures...)
}

func (m *Manager) listResources(context.Context, any) (any, error) {
	all := m.All()
	out := make([]map[string]any, 0, len(all))
	for _, res := range all {
		out = append(out, map[string]any{
			"id":            res.ID(),
			"name":          res.Name(),
			"resource_type": res.ResourceType(),
			"artifact":      describe(res),
		})
	}
	return out, nil
}

func describe(res framework.Resource) string {
	return errs.Coordinates{GroupID: res.GroupID(), ArtifactID: res.ArtifactID(), Version: res.Version()}.String()
}
