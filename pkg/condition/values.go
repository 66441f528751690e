package condition

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/wehubfusion/Daedalus/pkg/pathutil"
	"github.com/wehubfusion/Daedalus/pkg/template"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined is the value of a reference that does not resolve. It is
// distinct from nil, which stands for null.
var Undefined any = undefined{}

// normalize maps arbitrary Go values onto the value domain the interpreter
// understands: nil, Undefined, bool, float64, string, map[string]any and
// []any.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, undefined, bool, float64, string, map[string]any, []any:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	}
	if n, ok := pathutil.Normalize(v); ok {
		return n
	}
	return Undefined
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil, undefined:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	}
	return true
}

func isNullish(v any) bool {
	switch v.(type) {
	case nil, undefined:
		return true
	}
	return false
}

func isObject(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func toNumber(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case undefined:
		return math.NaN()
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		switch s {
		case "Infinity", "+Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, err := strconv.ParseInt(s[2:], 16, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || strings.ContainsAny(s, "_") || strings.EqualFold(s, "inf") || strings.EqualFold(s, "nan") {
			return math.NaN()
		}
		return f
	case []any:
		return toNumber(toString(t))
	}
	return math.NaN()
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case undefined:
		return "undefined"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return template.FormatNumber(t)
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			if isNullish(item) {
				continue
			}
			parts[i] = toString(item)
		}
		return strings.Join(parts, ",")
	}
	return "[object Object]"
}

// toPrimitive converts objects to their string form and leaves primitives.
func toPrimitive(v any) any {
	if isObject(v) {
		return toString(v)
	}
	return v
}

func sameObject(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	return va.Kind() == vb.Kind() && va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
}

func strictEquals(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case undefined:
		_, ok := b.(undefined)
		return ok
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case map[string]any, []any:
		if !isObject(b) {
			return false
		}
		return sameObject(a, b)
	}
	return false
}

func looseEquals(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if isObject(a) && isObject(b) {
		return sameObject(a, b)
	}

	a, b = toPrimitive(a), toPrimitive(b)
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x == y
		}
	case bool:
		if y, ok := b.(bool); ok {
			return x == y
		}
	}
	return toNumber(a) == toNumber(b)
}

func jsLength(s string) float64 {
	return float64(len(utf16.Encode([]rune(s))))
}
