// Package provideropts models the per-provider option bags attached to
// messages and content parts, most notably the cache-control marker.
package provideropts

import (
	"maps"
	"reflect"
)

const (
	// KeyCacheControl is the option key holding a cache-control marker.
	KeyCacheControl = "cacheControl"
	// KeyType is the marker field naming the cache kind.
	KeyType = "type"
	// Ephemeral is the only cache kind emitted.
	Ephemeral = "ephemeral"
)

// Well-known provider names.
const (
	Anthropic  = "anthropic"
	OpenRouter = "openrouter"
	Codebuff   = "codebuff"
)

// DefaultCacheProviders lists the providers that receive a cache marker
// whenever a location is anchored.
var DefaultCacheProviders = []string{Anthropic, OpenRouter, Codebuff}

// Options maps a provider name to an arbitrary option bag. A nil Options and
// an empty one are equivalent.
type Options map[string]map[string]any

// Clone returns a deep copy of o. Nested maps and slices are copied so the
// result never aliases o.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}

	out := make(Options, len(o))
	for provider, bag := range o {
		out[provider] = cloneMap(bag)
	}

	return out
}

// Equal reports whether a and b hold the same options. Nil and empty are equal.
func Equal(a, b Options) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// HasCacheControl reports whether o carries a cache marker for provider.
func (o Options) HasCacheControl(provider string) bool {
	cc, ok := o[provider][KeyCacheControl].(map[string]any)
	if !ok {
		return false
	}
	t, _ := cc[KeyType].(string)
	return t != ""
}

// Marker returns a fresh ephemeral cache-control marker.
func Marker() map[string]any {
	return map[string]any{KeyType: Ephemeral}
}

// WithCacheControl returns a copy of o with an ephemeral cache marker set for
// each of the given providers. Other options are preserved.
func WithCacheControl(o Options, providers []string) Options {
	out := o.Clone()
	if out == nil {
		out = make(Options, len(providers))
	}

	for _, p := range providers {
		bag := out[p]
		if bag == nil {
			bag = make(map[string]any, 1)
			out[p] = bag
		}
		bag[KeyCacheControl] = Marker()
	}

	return out
}

// WithoutCacheControl returns a copy of o with the cache marker type removed
// for each of the given providers. Containers left empty by the removal are
// pruned bottom-up; if nothing remains the result is nil. Applying it twice
// yields the same result as applying it once.
func WithoutCacheControl(o Options, providers []string) Options {
	out := o.Clone()

	for _, p := range providers {
		bag, ok := out[p]
		if !ok {
			continue
		}
		if removePath(bag, KeyCacheControl, KeyType) {
			delete(out, p)
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

// removePath deletes the leaf addressed by path inside m and prunes every
// container on the way back up that the deletion left empty. It reports
// whether m itself is empty afterwards. Values along the path that are not
// maps are left untouched.
func removePath(m map[string]any, path ...string) bool {
	if len(path) == 0 {
		return len(m) == 0
	}

	key := path[0]
	if len(path) == 1 {
		delete(m, key)
		return len(m) == 0
	}

	child, ok := m[key].(map[string]any)
	if !ok {
		return len(m) == 0
	}

	if removePath(child, path[1:]...) {
		delete(m, key)
	}

	return len(m) == 0
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
