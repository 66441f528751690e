package template

import (
	"math"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/pathutil"
)

// ResolveCollection extracts an array from the first reference in ref.
//
// It never fails: anything that cannot be resolved to an array (no
// reference, no output yet, empty data, a broken path or a non-array
// value at the end of the path) yields an empty slice. A reference without
// a field path wraps non-array data in a single element slice.
func ResolveCollection(ref string, src Source) []any {
	match := Pattern.FindStringSubmatch(ref)
	if match == nil {
		return []any{}
	}

	entry, ok := src.Lookup(SanitizeID(match[1]))
	if !ok || !truthy(entry.Data) {
		return []any{}
	}

	rest := match[2]
	dot := strings.IndexByte(rest, '.')
	if dot == -1 {
		if items, ok := asSlice(entry.Data); ok {
			return items
		}
		return []any{entry.Data}
	}

	value, ok := pathutil.Navigate(entry.Data, rest[dot+1:])
	if !ok {
		return []any{}
	}
	if items, ok := asSlice(value); ok {
		return items
	}
	return []any{}
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil, string, bool, float64, int, int64, map[string]any:
		return nil, false
	}
	normalized, ok := pathutil.Normalize(v)
	if !ok {
		return nil, false
	}
	items, ok := normalized.([]any)
	return items, ok
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}
