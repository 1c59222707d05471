package tracing

import (
	"errors"
	"fmt"
	"maps"
)

// copyMap deep-copies nested maps and slices so that a copy never shares
// mutable state with its source. Scalars and other types are shared.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case map[string]string:
		return maps.Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// mergeMap deep-merges src into dst. Nested maps are merged, everything else
// in src overwrites dst.
func mergeMap(dst, src map[string]any) {
	for k, v := range src {
		incoming, ok := v.(map[string]any)
		if !ok {
			dst[k] = copyValue(v)
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			dst[k] = copyMap(incoming)
			continue
		}
		mergeMap(existing, incoming)
	}
}

// errorClass names the concrete type of the innermost wrapped error
func errorClass(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
