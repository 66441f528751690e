// Package pathutil navigates dotted field paths over node output data.
//
// Node outputs are usually generic JSON-shaped values (map[string]any,
// []any and scalars), but steps may also return typed values such as
// driver documents or structs. Those are normalized through their JSON
// encoding with gjson before navigation continues.
package pathutil

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Navigate walks a dot separated path (for example "user.address.city" or
// "items.0.name") through data.
//
// The second return value is false when the value is undefined: a segment
// was missing, or an intermediate value was not an object or array. A
// present null yields (nil, true). Arrays accept numeric indexes and the
// "length" pseudo field.
func Navigate(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	return walk(data, strings.Split(path, "."))
}

func walk(current any, segments []string) (any, bool) {
	for _, segment := range segments {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case map[string]string:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			value, ok := index(node, segment)
			if !ok {
				return nil, false
			}
			current = value
		case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, json.Number:
			return nil, false
		default:
			normalized, ok := Normalize(node)
			if !ok || !isContainer(normalized) {
				return nil, false
			}
			current = normalized
			value, found := walk(current, []string{segment})
			if !found {
				return nil, false
			}
			current = value
		}
	}
	return current, true
}

func index(items []any, segment string) (any, bool) {
	if segment == "length" {
		return float64(len(items)), true
	}
	i, err := strconv.Atoi(segment)
	if err != nil || i < 0 || i >= len(items) {
		return nil, false
	}
	return items[i], true
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// Normalize converts a typed value into its generic JSON shape
// (map[string]any, []any, float64, string, bool or nil).
func Normalize(v any) (any, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	return gjson.ParseBytes(raw).Value(), true
}

// NavigateJSON evaluates a dotted path against raw JSON using gjson path
// syntax. It is used for payloads that arrive as bytes, such as HTTP
// response bodies.
func NavigateJSON(raw []byte, path string) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if path == "" {
		if !gjson.ValidBytes(raw) {
			return nil, false
		}
		return gjson.ParseBytes(raw).Value(), true
	}
	result := gjson.GetBytes(raw, path)
	return result.Value(), result.Exists()
}
