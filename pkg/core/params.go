package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Params holds request parameters keyed by name.
type Params map[string]any

// Clone returns a shallow copy of p. Slice values are copied.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		if s, ok := v.([]string); ok {
			v = slices.Clone(s)
		}
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	maps.Copy(out, other)
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// String returns the string form of a parameter, or "" when absent.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// Strings returns a list parameter. A scalar is returned as a one-element list.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case nil:
		return nil
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	default:
		return []string{FormatValue(v)}
	}
}

// FormatValue renders a parameter value for a URL.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ",")
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", x)
	}
}
