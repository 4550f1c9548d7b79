package config

// Merge overlays parent onto child and returns a new map. Keys present in the
// parent win; when both sides hold maps the merge recurses; any other parent
// value, lists included, replaces the child's. Neither input is modified.
func Merge(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range child {
		out[k] = cloneValue(v)
	}
	for k, pv := range parent {
		pm, parentIsMap := asMap(pv)
		cm, childIsMap := asMap(out[k])
		if parentIsMap && childIsMap {
			out[k] = Merge(pm, cm)
			continue
		}
		out[k] = cloneValue(pv)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	}
	return nil, false
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = cloneValue(val)
		}
		return out
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, val := range s {
			out[i] = cloneValue(val)
		}
		return out
	}
	return v
}
