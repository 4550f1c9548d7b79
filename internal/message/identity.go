package message

import (
	"fmt"
	"strconv"

	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// Well-known identity roles.
const (
	RoleUser       = "user"
	RolePlugin     = "plugin"
	RoleSystem     = "system"
	RoleCerebrum   = "cerebrum"
	RoleInteractor = "interactor"
)

// Identity tags the sender or receiver of a message.
type Identity struct {
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Matches reports whether two identities route to the same party: equal roles
// and either equal non-empty IDs or equal non-empty names.
func (i Identity) Matches(other Identity) bool {
	if i.Role != other.Role {
		return false
	}
	if i.ID != "" && i.ID == other.ID {
		return true
	}
	return i.Name != "" && i.Name == other.Name
}

func (i Identity) String() string {
	return fmt.Sprintf("%s(id=%s, name=%s)", i.Role, i.ID, i.Name)
}

// Clone returns a copy of i, or nil for a nil receiver.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// UnmarshalJSON accepts numeric ids and a bare role string.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw any
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := identityFrom(raw)
	if err != nil {
		return err
	}
	if id == nil {
		*i = Identity{}
		return nil
	}
	*i = *id
	return nil
}

func identityFrom(v any) (*Identity, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *Identity:
		return t.Clone(), nil
	case Identity:
		return &t, nil
	case string:
		return &Identity{Role: t}, nil
	case map[string]any:
		return &Identity{
			Role: scalarString(t["role"]),
			ID:   scalarString(t["id"]),
			Name: scalarString(t["name"]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: identity must be an object, got %T", ErrInvalidMessage, v)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case jsonx.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
