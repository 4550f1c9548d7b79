package asset

import (
	"fmt"
	"reflect"

	"github.com/ConCopilot/concopilot/internal/shared/id"
)

// Asset is a named, typed value shared across an interaction by reference.
type Asset struct {
	Type        string `json:"asset_type" yaml:"asset_type"`
	ID          string `json:"asset_id" yaml:"asset_id"`
	Name        string `json:"asset_name,omitempty" yaml:"asset_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Content     any    `json:"content,omitempty" yaml:"content,omitempty"`
}

// New returns a copy of a with a generated ID when none was given.
func New(a Asset) *Asset {
	if a.ID == "" {
		a.ID = id.NewUUID()
	}
	return &a
}

// Fields exposes the asset as a mapping keyed by its wire names, which is how
// AssetRef field paths address it.
func (a *Asset) Fields() map[string]any {
	return map[string]any{
		"asset_type":   a.Type,
		"asset_id":     a.ID,
		"asset_name":   a.Name,
		"description":  a.Description,
		"content_type": a.ContentType,
		"content":      a.Content,
	}
}

// Meta returns a JSON-safe description of the asset.
func (a *Asset) Meta() map[string]any {
	out, _ := Meta(a.Fields(), false).(map[string]any)
	return out
}

// Map holds the assets of one running copilot. It is not synchronised.
type Map map[string]*Asset

// Values returns the assets in unspecified order.
func (m Map) Values() []*Asset {
	out := make([]*Asset, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

// Meta reduces v to maps, slices, strings, numbers and bools. Nil map values
// are dropped unless keepNil is set; values of other kinds become their type
// name.
func Meta(v any, keepNil bool) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case fmt.Stringer:
		return t.String()
	case *Asset:
		return t.Meta()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val := iter.Value().Interface()
			if val == nil && !keepNil {
				continue
			}
			out[fmt.Sprint(iter.Key().Interface())] = Meta(val, keepNil)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Meta(rv.Index(i).Interface(), keepNil)
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Meta(rv.Elem().Interface(), keepNil)
	default:
		return rv.Type().String()
	}
}

// IsTrivial reports whether v is made only of plain data.
func IsTrivial(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if !IsTrivial(iter.Key().Interface()) || !IsTrivial(iter.Value().Interface()) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !IsTrivial(rv.Index(i).Interface()) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
