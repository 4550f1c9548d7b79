// Package registry turns component descriptors into live components. A
// descriptor reference is resolved into a config file through the
// repository, merged with the reference's own config, provisioned, and handed
// to the factory registered for its (group, artifact) pair.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/repository"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

const defaultDescriptorCacheSize = 128

// Factory constructs a component from its resolved descriptor. Composite
// components use r to build their children.
type Factory func(ctx context.Context, r *Registry, d *config.Descriptor, deps ...any) (any, error)

// ArtifactKey identifies a factory. Both parts are compared case-insensitively.
type ArtifactKey struct {
	GroupID    string
	ArtifactID string
}

func keyOf(groupID, artifactID string) ArtifactKey {
	return ArtifactKey{GroupID: strings.ToLower(groupID), ArtifactID: strings.ToLower(artifactID)}
}

func (k ArtifactKey) String() string { return k.GroupID + "/" + k.ArtifactID }

// Registry holds factories and builds components.
type Registry struct {
	settings    config.Settings
	repo        *repository.Repository
	fs          afero.Fs
	provisioner Provisioner
	logger      logging.Logger

	mu        sync.RWMutex
	factories map[ArtifactKey]map[string]Factory

	descriptors *lru.Cache[string, cachedDescriptor]
}

type Option func(*Registry)

// WithRepository sets the package repository. Descriptors are read from its
// filesystem.
func WithRepository(repo *repository.Repository) Option {
	return func(r *Registry) { r.repo = repo }
}

// WithFs sets the filesystem of the default repository.
func WithFs(fs afero.Fs) Option {
	return func(r *Registry) { r.fs = fs }
}

// WithProvisioner replaces the setup hook.
func WithProvisioner(p Provisioner) Option {
	return func(r *Registry) { r.provisioner = p }
}

func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func New(settings config.Settings, opts ...Option) *Registry {
	r := &Registry{
		settings:  settings,
		factories: make(map[ArtifactKey]map[string]Factory),
		logger:    logging.NewComponentLogger("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	if r.repo == nil {
		repoOpts := []repository.Option{repository.WithLogger(r.logger)}
		if r.fs != nil {
			repoOpts = append(repoOpts, repository.WithFs(r.fs))
		}
		r.repo = repository.New(settings, repoOpts...)
	}
	r.fs = r.repo.Fs()
	if r.provisioner == nil {
		r.provisioner = &CommandProvisioner{Logger: r.logger}
	}
	cache, err := lru.New[string, cachedDescriptor](defaultDescriptorCacheSize)
	if err == nil {
		r.descriptors = cache
	}
	return r
}

func (r *Registry) Settings() config.Settings          { return r.settings }
func (r *Registry) Repository() *repository.Repository { return r.repo }

// Register binds f to (groupID, artifactID). An empty version serves every
// version without a pinned factory.
func (r *Registry) Register(groupID, artifactID, version string, f Factory) error {
	if groupID == "" || artifactID == "" || f == nil {
		return errs.NewConfigError("factory", "group id, artifact id and factory are required")
	}
	key := keyOf(groupID, artifactID)
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.factories[key]
	if versions == nil {
		versions = make(map[string]Factory)
		r.factories[key] = versions
	}
	if _, exists := versions[version]; exists {
		coords := errs.Coordinates{GroupID: groupID, ArtifactID: artifactID, Version: version}
		return &errs.CollisionError{Kind: "factory", Field: "artifact", Key: key.String(), Existing: coords, Incoming: coords}
	}
	versions[version] = f
	return nil
}

// MustRegister is Register that panics on a collision.
func (r *Registry) MustRegister(groupID, artifactID, version string, f Factory) {
	if err := r.Register(groupID, artifactID, version, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory pinned to the descriptor's version, or the
// version-independent one.
func (r *Registry) Lookup(groupID, artifactID, version string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.factories[keyOf(groupID, artifactID)]
	if versions == nil {
		return nil, false
	}
	if f, ok := versions[version]; ok {
		return f, true
	}
	if v, err := config.ParseVersion(version); err == nil {
		if f, ok := versions[v.Raw]; ok {
			return f, true
		}
	}
	f, ok := versions[""]
	return f, ok
}

// Keys lists the registered artifacts.
func (r *Registry) Keys() []ArtifactKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]ArtifactKey, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	return keys
}

// CreateComponent resolves ref and constructs the component it names.
func (r *Registry) CreateComponent(ctx context.Context, ref *config.Descriptor, deps ...any) (any, error) {
	d, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return r.Construct(ctx, d, deps...)
}

// Create constructs the component described by the config file at path,
// without consulting the repository.
func (r *Registry) Create(ctx context.Context, path string, deps ...any) (any, error) {
	d, err := r.load(path)
	if err != nil {
		return nil, err
	}
	if d.Config == nil {
		d.Config = map[string]any{}
	}
	return r.Construct(ctx, d, deps...)
}

// Construct provisions d and runs its factory.
func (r *Registry) Construct(ctx context.Context, d *config.Descriptor, deps ...any) (component any, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanRegistryCreate,
		observability.ArtifactAttrs(d.GroupID, d.ArtifactID, d.Version)...)
	defer func() { observability.EndSpan(span, err) }()

	if d.Setup != nil && len(d.Setup.Commands) > 0 {
		if r.settings.SkipSetup {
			r.logger.Debug("skip setup of %s/%s/%s", d.GroupID, d.ArtifactID, d.Version)
		} else if err := r.provisioner.Provision(ctx, d); err != nil {
			return nil, err
		}
	}

	f, ok := r.Lookup(d.GroupID, d.ArtifactID, d.Version)
	if !ok {
		return nil, errs.NewConfigError("artifact_id", "no factory registered for %s/%s/%s", d.GroupID, d.ArtifactID, d.Version)
	}
	component, err = f(ctx, r, d, deps...)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s/%s: %w", d.GroupID, d.ArtifactID, d.Version, err)
	}
	if component == nil {
		return nil, errs.NewConfigError("artifact_id", "factory for %s/%s/%s returned nothing", d.GroupID, d.ArtifactID, d.Version)
	}
	r.logger.Debug("created %s/%s/%s as %T", d.GroupID, d.ArtifactID, d.Version, component)
	return component, nil
}

// Build creates the component named by ref and asserts its type.
func Build[T any](ctx context.Context, r *Registry, ref *config.Descriptor, deps ...any) (T, error) {
	var zero T
	v, err := r.CreateComponent(ctx, ref, deps...)
	if err != nil {
		return zero, err
	}
	return assertType[T](ref, v)
}

// BuildFile is Build for a config file path.
func BuildFile[T any](ctx context.Context, r *Registry, path string, deps ...any) (T, error) {
	var zero T
	v, err := r.Create(ctx, path, deps...)
	if err != nil {
		return zero, err
	}
	return assertType[T](&config.Descriptor{ConfigFile: path}, v)
}

func assertType[T any](ref *config.Descriptor, v any) (T, error) {
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, errs.NewConfigError("type", "%s/%s/%s built %T, which is not a %s",
			ref.GroupID, ref.ArtifactID, ref.Version, v, reflect.TypeFor[T]())
	}
	return typed, nil
}
