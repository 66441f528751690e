// Package actions holds the action registry: the map from an action type
// string to the statically typed step function that runs it. Plugins
// register their actions at process start; the engine only looks them up.
package actions

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Registry is a thread-safe action registry.
type Registry struct {
	actions map[string]Action
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds an action. Registering the same ID twice is an error, so a
// plugin can never shadow a system action.
func (r *Registry) Register(a Action) error {
	if strings.TrimSpace(a.ID) == "" {
		return sdkerrors.NewError(sdkerrors.CodeInvalidConfig, "action id is required", nil)
	}
	if a.Step == nil {
		return sdkerrors.NewError(sdkerrors.CodeInvalidConfig, fmt.Sprintf("action %q has no step function", a.ID), sdkerrors.ErrInvalidStep)
	}
	if a.Label == "" {
		a.Label = DeriveLabel(a.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[a.ID]; exists {
		return sdkerrors.NewError(sdkerrors.CodeDuplicateAction, fmt.Sprintf("action %q is already registered", a.ID), sdkerrors.ErrActionExists)
	}
	r.actions[a.ID] = a
	return nil
}

// MustRegister is Register for process start-up code; it panics on error.
func (r *Registry) MustRegister(a Action) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Lookup returns the action registered under id.
func (r *Registry) Lookup(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	return a, ok
}

// Label returns the human readable label of an action type, or "" when the
// type is unknown.
func (r *Registry) Label(id string) string {
	if a, ok := r.Lookup(id); ok {
		return a.Label
	}
	return ""
}

// Actions returns every registered action ordered by category then ID.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Category != list[j].Category {
			return list[i].Category < list[j].Category
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// IsSystem reports whether id names a built-in system action.
func IsSystem(id string) bool {
	for _, s := range SystemActions {
		if s == id {
			return true
		}
	}
	return false
}

var titleCaser = cases.Title(language.English)

// DeriveLabel turns an action id such as "get-value" into "Get Value".
func DeriveLabel(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '/'
	})
	return titleCaser.String(strings.Join(words, " "))
}
