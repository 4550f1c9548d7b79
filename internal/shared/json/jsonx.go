package jsonx

import "github.com/goccy/go-json"

// Thin wrapper so message, storage and asset code share one JSON implementation.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
	Valid         = json.Valid
)

type RawMessage = json.RawMessage
type Number = json.Number

// Normalize round-trips v through JSON so callers get plain maps, slices,
// strings, float64s and bools regardless of the concrete input types.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode converts a loosely typed value (typically decoded from storage) into out.
func Decode(v any, out any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	return Unmarshal(data, out)
}
