package task

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// ApplyVars replaces every {{name}} marker in the string leaves of doc with
// the bound value. Unbound markers are kept as written and non-string leaves
// pass through. Maps and slices are rebuilt, so doc itself is not modified.
func ApplyVars(doc any, vars map[string]any) any {
	if len(vars) == 0 {
		return doc
	}
	r := newReplacer(vars)
	return r.walk(doc)
}

type replacer struct {
	*strings.Replacer
}

// newReplacer substitutes all markers in one pass over the input, so a value
// that happens to contain another marker is never expanded again
func newReplacer(vars map[string]any) replacer {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	// longest marker first for deterministic matches on shared prefixes
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	pairs := make([]string, 0, 2*len(names))
	for _, k := range names {
		pairs = append(pairs, "{{"+k+"}}", cast.ToString(vars[k]))
	}
	return replacer{strings.NewReplacer(pairs...)}
}

func (r replacer) walk(v any) any {
	switch t := v.(type) {
	case string:
		return r.Replace(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	default:
		return v
	}
}
