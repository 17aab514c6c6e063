package config

// DeepMerge returns a new map with overlay applied over base. Nested maps
// are merged key by key; any other overlay value replaces the base value.
// Neither input is modified.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = copyValue(v)
	}

	for k, v := range overlay {
		ov, ok := asMap(v)
		if !ok {
			out[k] = copyValue(v)
			continue
		}
		if bv, ok := asMap(out[k]); ok {
			out[k] = DeepMerge(bv, ov)
		} else {
			out[k] = DeepMerge(ov, nil)
		}
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
			if s, ok := k.(string); ok {
				out[s] = v
			}
		}
		return out, true
	}
	return nil, false
}

func copyValue(v any) any {
	if m, ok := asMap(v); ok {
		return DeepMerge(m, nil)
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i := range s {
			out[i] = copyValue(s[i])
		}
		return out
	}
	return v
}
