// Package template resolves {{@nodeId:Label.path}} references against the
// outputs published by previously executed nodes.
//
// A reference names the producing node by id, then a label segment that is
// informational only, then an optional dotted field path into the node's
// data. Node ids are sanitized before lookup, so a reference written with
// the raw id finds the entry stored under its sanitized form.
package template

import (
	"regexp"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/pathutil"
)

// Pattern matches a single template reference. Group 1 is the node id and
// group 2 is "Label" or "Label.field.path".
var Pattern = regexp.MustCompile(`\{\{@([^:]+):([^}]+)\}\}`)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Entry is what one executed node publishes for template resolution.
type Entry struct {
	Label string `json:"label"`
	Data  any    `json:"data"`
}

// Source gives read access to published node outputs keyed by sanitized id.
type Source interface {
	Lookup(sanitizedID string) (Entry, bool)
}

// Map is a Source backed by a plain map.
type Map map[string]Entry

// Lookup implements Source.
func (m Map) Lookup(sanitizedID string) (Entry, bool) {
	e, ok := m[sanitizedID]
	return e, ok
}

// SanitizeID replaces every character outside [a-zA-Z0-9] with an underscore.
func SanitizeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// Resolution is the outcome of resolving one reference to its raw value.
type Resolution struct {
	// Found is false when the referenced node has not published output yet.
	Found bool
	// Defined is false when the node's data is null or the field path does
	// not resolve.
	Defined bool
	Value   any
}

// Lookup resolves the parts of one reference match.
func Lookup(src Source, nodeID, rest string) Resolution {
	entry, ok := src.Lookup(SanitizeID(nodeID))
	if !ok {
		return Resolution{}
	}

	dot := strings.IndexByte(rest, '.')
	if dot == -1 {
		return Resolution{Found: true, Defined: entry.Data != nil, Value: entry.Data}
	}
	if entry.Data == nil {
		return Resolution{Found: true}
	}

	value, defined := pathutil.Navigate(entry.Data, rest[dot+1:])
	if !defined {
		return Resolution{Found: true}
	}
	return Resolution{Found: true, Defined: true, Value: value}
}

// ReplaceFunc calls fn for every reference in s and splices in its return
// value.
func ReplaceFunc(s string, fn func(match, nodeID, rest string) string) string {
	if !strings.Contains(s, "{{@") {
		return s
	}
	indexes := Pattern.FindAllStringSubmatchIndex(s, -1)
	if len(indexes) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range indexes {
		b.WriteString(s[last:loc[0]])
		b.WriteString(fn(s[loc[0]:loc[1]], s[loc[2]:loc[3]], s[loc[4]:loc[5]]))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// Resolve substitutes every reference in s with the stringified value it
// points at. References to nodes without output are left untouched; null
// data and unresolvable paths become the empty string.
func Resolve(s string, src Source) string {
	return ReplaceFunc(s, func(match, nodeID, rest string) string {
		r := Lookup(src, nodeID, rest)
		if !r.Found {
			return match
		}
		if !r.Defined {
			return ""
		}
		return Stringify(r.Value)
	})
}

// ProcessConfig resolves references in every top-level string value of
// config. The "condition" key is copied through unprocessed so it can be
// evaluated as an expression later.
func ProcessConfig(config map[string]any, src Source) map[string]any {
	processed := make(map[string]any, len(config))
	for key, value := range config {
		if key == ConditionKey {
			processed[key] = value
			continue
		}
		if s, ok := value.(string); ok {
			processed[key] = Resolve(s, src)
			continue
		}
		processed[key] = value
	}
	return processed
}

// ConditionKey is the config key excluded from generic template processing.
const ConditionKey = "condition"
