package interpreter

import (
	"fmt"
	"regexp"

	"github.com/lyzr/flowscript/internal/state"
)

// wholePlaceholderRe matches a config string that is *entirely* one
// placeholder, e.g. "{{count}}" — in that case the resolved value's type is
// preserved rather than stringified, so numeric/object config fields round
// trip cleanly.
var wholePlaceholderRe = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)

// placeholderRe matches {{path}} occurrences inside a larger string.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// interpolateConfig walks config recursively, replacing {{path}}
// placeholders in every string leaf with the current state value at that
// path. Substitution happens exactly once per string — the result of a
// substitution is never re-scanned for further placeholders.
func interpolateConfig(config map[string]interface{}, store *state.Store) map[string]interface{} {
	if config == nil {
		return nil
	}
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = interpolateValue(v, store)
	}
	return out
}

func interpolateValue(v interface{}, store *state.Store) interface{} {
	switch t := v.(type) {
	case string:
		return interpolateString(t, store)
	case map[string]interface{}:
		return interpolateConfig(t, store)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = interpolateValue(e, store)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, store *state.Store) interface{} {
	if m := wholePlaceholderRe.FindStringSubmatch(s); m != nil {
		val, found := store.Get(m[1])
		if !found {
			return ""
		}
		return val
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		val, found := store.Get(path)
		if !found {
			return ""
		}
		return stringify(val)
	})
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
