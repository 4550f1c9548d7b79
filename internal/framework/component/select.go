package component

import (
	"github.com/ConCopilot/concopilot/internal/framework"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

type coordinated interface {
	GroupID() string
	ArtifactID() string
	Version() string
}

func coordinatesOf(c coordinated) errs.Coordinates {
	return errs.Coordinates{GroupID: c.GroupID(), ArtifactID: c.ArtifactID(), Version: c.Version()}
}

// SelectResource picks a resource from rs. A real id wins and any name or type
// given alongside must agree with it. A name comes next, then the first
// resource of the requested type.
func SelectResource(rs []framework.Resource, q framework.ResourceQuery) framework.Resource {
	switch {
	case q.ID != "" && q.ID != DefaultID:
		for _, r := range rs {
			if r.ID() == q.ID {
				if (q.Name != "" && r.Name() != q.Name) || (q.Type != "" && r.ResourceType() != q.Type) {
					return nil
				}
				return r
			}
		}
	case q.Name != "":
		for _, r := range rs {
			if r.Name() == q.Name {
				if q.Type != "" && r.ResourceType() != q.Type {
					return nil
				}
				return r
			}
		}
	case q.Type != "":
		for _, r := range rs {
			if r.ResourceType() == q.Type {
				return r
			}
		}
	}
	return nil
}

// SelectPlugin picks a plugin by id, falling back to name. When both are
// given they must refer to the same plugin.
func SelectPlugin(ps []framework.Plugin, id, name string) framework.Plugin {
	if id != "" && id != DefaultID {
		for _, p := range ps {
			if p.ID() == id {
				if name != "" && p.Name() != name {
					return nil
				}
				return p
			}
		}
		return nil
	}
	if name != "" {
		for _, p := range ps {
			if p.Name() == name {
				return p
			}
		}
	}
	return nil
}

// CheckCollision reports a CollisionError when incoming shares a non-empty id
// or name with any of existing.
func CheckCollision[T framework.Component](kind string, existing []T, incoming T) error {
	return checkCollision(kind, existing, incoming)
}

func checkCollision[T framework.Component](kind string, existing []T, incoming T) error {
	for _, e := range existing {
		field, key := "", ""
		switch {
		case incoming.ID() != "" && e.ID() == incoming.ID():
			field, key = "id", incoming.ID()
		case incoming.Name() != "" && e.Name() == incoming.Name():
			field, key = "name", incoming.Name()
		default:
			continue
		}
		return &errs.CollisionError{
			Kind:     kind,
			Field:    field,
			Key:      key,
			Existing: coordinatesOf(e),
			Incoming: coordinatesOf(incoming),
		}
	}
	return nil
}
