package features

import (
	"reflect"
	"sort"
)

// DefaultMaxDepth caps how many nested object levels are flattened.
const DefaultMaxDepth = 10

// RootPath is the path of a response whose top level is not an object.
const RootPath = "$"

// Flat is a flattened JSON object: dot-joined leaf paths in traversal order.
type Flat struct {
	Keys   []string
	Values map[string]any
}

// Has reports whether path is a leaf of the flattened object.
func (f *Flat) Has(path string) bool {
	_, ok := f.Values[path]
	return ok
}

// Len returns the number of leaf paths.
func (f *Flat) Len() int { return len(f.Keys) }

// Flatten walks nested objects and records every leaf under its dot-joined
// path. Arrays, scalars, null and empty objects are leaves. Objects nested
// deeper than maxDepth are skipped, as is any object already on the
// current path (a cycle). A top-level array or scalar is a single leaf at
// RootPath.
func Flatten(v any, maxDepth int) *Flat {
	f := &Flat{Values: make(map[string]any)}
	obj, ok := v.(map[string]any)
	if !ok {
		f.Keys = append(f.Keys, RootPath)
		f.Values[RootPath] = v
		return f
	}
	w := walker{flat: f, maxDepth: maxDepth, onPath: make(map[uintptr]bool)}
	w.walk(obj, "", 0)
	return f
}

type walker struct {
	flat     *Flat
	maxDepth int
	onPath   map[uintptr]bool
}

func (w *walker) walk(obj map[string]any, prefix string, depth int) {
	if depth > w.maxDepth {
		return
	}
	id := reflect.ValueOf(obj).Pointer()
	if w.onPath[id] {
		return
	}
	w.onPath[id] = true
	defer delete(w.onPath, id)

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		val := obj[k]
		if child, ok := val.(map[string]any); ok && len(child) > 0 {
			w.walk(child, path, depth+1)
			continue
		}
		w.flat.Keys = append(w.flat.Keys, path)
		w.flat.Values[path] = val
	}
}

// typeName classifies a decoded JSON value. Arrays and objects are
// distinct types.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).Kind().String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
