// README: Typed accessors over schemaless document fields; absent or null values yield the zero value.
package docstore

import (
	"strings"
	"time"
)

type Fields map[string]any

func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

func (f Fields) Str(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	default:
		return ""
	}
}

// Int64 accepts any numeric encoding; floats are truncated.
func (f Fields) Int64(key string) int64 {
	switch v := f[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	default:
		return 0
	}
}

func (f Fields) Float64(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return 0
	}
}

func (f Fields) Bool(key string) bool {
	v, _ := f[key].(bool)
	return v
}

func (f Fields) Time(key string) *time.Time {
	switch v := f[key].(type) {
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v
		return &t
	case *time.Time:
		return v
	default:
		return nil
	}
}

func (f Fields) Map(key string) Fields {
	switch v := f[key].(type) {
	case map[string]any:
		return Fields(v)
	case Fields:
		return v
	default:
		return Fields{}
	}
}

// Clone deep-copies nested maps and slices; scalar values are shared.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Fields(t).Clone())
	case Fields:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// lookup resolves a dotted path such as "pickup.lat".
func (f Fields) lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := map[string]any(f)
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		switch next := v.(type) {
		case map[string]any:
			cur = next
		case Fields:
			cur = next
		default:
			return nil, false
		}
	}
	return nil, false
}
