// Package resource holds the resource manager and the built-in resources: a
// rooted disk and a scripted language model.
package resource

import (
	"context"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

// Resource types of the built-in resources.
const (
	TypeDisk  = "disk"
	TypeModel = "model"
)

// Base is the component base of a resource. Initialize and Finalize do
// nothing; resources that hold connections override them.
type Base struct {
	*component.Base
	resourceType string
}

// NewBase checks that d describes a resource and records its resource type
// in lower case.
func NewBase(d *config.Descriptor, opts ...component.Option) (*Base, error) {
	if d != nil && d.Type != "" && d.Type != config.TypeResource {
		return nil, errs.NewConfigError("type", "%s/%s/%s is a %q, not a resource", d.GroupID, d.ArtifactID, d.Version, d.Type)
	}
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeResource)}, opts...)...)
	if err != nil {
		return nil, err
	}
	rt := strings.ToLower(strings.TrimSpace(d.ResourceType))
	if rt == "" {
		return nil, errs.NewConfigError("resource_type", "%s/%s/%s must declare a resource_type", d.GroupID, d.ArtifactID, d.Version)
	}
	return &Base{Base: b, resourceType: rt}, nil
}

func (b *Base) ResourceType() string { return b.resourceType }

func (b *Base) Initialize(context.Context) error { return nil }
func (b *Base) Finalize(context.Context) error   { return nil }

// ConfigResources does nothing: resources do not depend on each other.
func (b *Base) ConfigResources(framework.ResourceProvider) error { return nil }
