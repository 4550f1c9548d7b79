package asset

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

const scheme = "asset://"

// emptySegment stands for an empty field name. url.PathEscape always writes
// '%' as "%25", so a bare '%' never collides with an escaped segment.
const emptySegment = "%"

var (
	refURLPattern       = regexp.MustCompile(`(?i)^\s*(?:<\|)?\s*(asset:/(?:/[^/]+?)+/?)\s*(?:\|>)?\s*$`)
	refEmbeddingPattern = regexp.MustCompile(`^\s*<\|\s*(.*?)\s*\|>`)
)

// Ref points at a value nested inside an asset.
type Ref struct {
	AssetID   string   `json:"asset_id" yaml:"asset_id"`
	FieldPath []string `json:"field_path" yaml:"field_path"`
}

// URL renders the reference as asset://<id>/<segment>/...
func (r Ref) URL() string {
	return r.urlAt(len(r.FieldPath))
}

func (r Ref) String() string { return r.URL() }

func (r Ref) urlAt(level int) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(url.PathEscape(r.AssetID))
	for _, seg := range r.FieldPath[:level] {
		b.WriteByte('/')
		if seg == "" {
			b.WriteString(emptySegment)
			continue
		}
		b.WriteString(url.PathEscape(seg))
	}
	return strings.TrimRight(b.String(), "/")
}

// ParseURL decodes an asset reference URL, optionally wrapped in <| |>.
func ParseURL(s string) (*Ref, error) {
	m := refURLPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("not an asset reference URL: %q", s)
	}
	raw := m[1]
	if !strings.EqualFold(raw[:len(scheme)], scheme) {
		return nil, fmt.Errorf("asset reference URL scheme must be %q: %q", "asset", s)
	}
	parts := strings.Split(strings.Trim(raw[len(scheme):], "/"), "/")

	id, err := url.PathUnescape(parts[0])
	if err != nil {
		return nil, fmt.Errorf("asset id in %q: %w", s, err)
	}
	ref := &Ref{AssetID: id}
	for _, p := range parts[1:] {
		if p == emptySegment {
			ref.FieldPath = append(ref.FieldPath, "")
			continue
		}
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("field path in %q: %w", s, err)
		}
		ref.FieldPath = append(ref.FieldPath, seg)
	}
	return ref, nil
}

// TryConvert recognises a structured map, a Ref, a URL string or an embedded
// <| ... |> marker. Anything else, including malformed input, yields nil.
func TryConvert(v any) *Ref {
	switch t := v.(type) {
	case *Ref:
		if t == nil {
			return nil
		}
		cp := *t
		cp.FieldPath = append([]string(nil), t.FieldPath...)
		return &cp
	case Ref:
		return TryConvert(&t)
	case map[string]any:
		return fromMap(t)
	case string:
		if refURLPattern.MatchString(t) {
			ref, err := ParseURL(t)
			if err != nil {
				return nil
			}
			return ref
		}
		if m := refEmbeddingPattern.FindStringSubmatch(t); m != nil {
			return fromEmbedding(m[1])
		}
	}
	return nil
}

func fromMap(m map[string]any) *Ref {
	id, ok := m["asset_id"].(string)
	if !ok {
		return nil
	}
	path, present := m["field_path"]
	if !present {
		return nil
	}
	ref := &Ref{AssetID: id}
	switch p := path.(type) {
	case nil:
	case []string:
		ref.FieldPath = append([]string(nil), p...)
	case []any:
		for _, seg := range p {
			ref.FieldPath = append(ref.FieldPath, fmt.Sprint(seg))
		}
	default:
		return nil
	}
	return ref
}

func fromEmbedding(inner string) *Ref {
	if len(inner) >= len(scheme) && strings.EqualFold(inner[:len(scheme)], scheme) {
		ref, err := ParseURL(inner)
		if err != nil {
			return nil
		}
		return ref
	}
	if strings.HasPrefix(inner, "{") && strings.HasSuffix(inner, "}") {
		var m map[string]any
		if err := jsonx.Unmarshal([]byte(inner), &m); err != nil {
			return nil
		}
		return fromMap(m)
	}
	return nil
}

// TryRetrieve resolves v when it is reference-like and returns v unchanged
// otherwise.
func TryRetrieve(v any, assets Map) (any, error) {
	ref := TryConvert(v)
	if ref == nil {
		return v, nil
	}
	return ref.Retrieve(assets)
}

// Retrieve walks the field path from the referenced asset. Map keys are tried
// first, then exported struct fields, then sequence indexes.
func (r Ref) Retrieve(assets Map) (any, error) {
	a, ok := assets[r.AssetID]
	if !ok || a == nil {
		return nil, fmt.Errorf("no such asset found with asset_id `%s`", r.AssetID)
	}

	var value any = a.Fields()
	for level, key := range r.FieldPath {
		next, err := step(value, key)
		if err != nil {
			return nil, fmt.Errorf("asset object at `%s`: %w; try to correct the AssetRef field_path", r.urlAt(level), err)
		}
		value = next
	}
	if len(r.FieldPath) == 0 {
		return a, nil
	}
	return value, nil
}

func step(value any, key string) (any, error) {
	if a, ok := value.(*Asset); ok {
		value = a.Fields()
	}
	if s, ok := value.(string); ok {
		runes := []rune(s)
		i, err := index(key, len(runes))
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil value cannot be indexed by key `%s`", key)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		found := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !found.IsValid() {
			keys := make([]string, 0, rv.Len())
			for _, k := range rv.MapKeys() {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("does not contain key `%s`, only %v are available", key, keys)
		}
		return found.Interface(), nil
	case reflect.Struct:
		if f, ok := structField(rv, key); ok {
			return f.Interface(), nil
		}
	case reflect.Slice, reflect.Array:
		i, err := index(key, rv.Len())
		if err != nil {
			return nil, err
		}
		return rv.Index(i).Interface(), nil
	case reflect.Invalid:
		return nil, fmt.Errorf("nil value cannot be indexed by key `%s`", key)
	}
	return nil, fmt.Errorf("value of type %s has no field `%s` and is neither a mapping nor a sequence", rv.Type(), key)
}

func index(key string, n int) (int, error) {
	i, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("`%s` cannot be converted to an int index", key)
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index `%s` is out of range", key)
	}
	return i, nil
}

func structField(rv reflect.Value, key string) (reflect.Value, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == key || (tag == "" && f.Name == key) || f.Name == key {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}
