// Package system implements the actions every workflow can use without a
// plugin: Database Query, HTTP Request and Condition.
package system

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"go.uber.org/zap"
)

// Steps holds the shared clients of the system actions.
type Steps struct {
	db   *Database
	http *HTTPRequest
}

// New creates the system steps. A nil client gets a 30s default.
func New(creds credentials.Fetcher, client *http.Client, logger *zap.Logger) *Steps {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Steps{
		db:   NewDatabase(creds, logger),
		http: NewHTTPRequest(client, logger),
	}
}

// Actions returns the system actions in the order they are listed to users.
func (s *Steps) Actions() []actions.Action {
	return []actions.Action{
		s.db.Action(),
		s.http.Action(),
		ConditionAction(),
	}
}

// Close closes cached database pools.
func (s *Steps) Close() error {
	return s.db.Close()
}

// ConditionAction returns the Condition action. The engine evaluates the
// expression; the step only reports the outcome.
func ConditionAction() actions.Action {
	return actions.Action{
		ID:          actions.Condition,
		Label:       actions.Condition,
		Category:    "System",
		Description: "Continue only when the condition expression is true",
		Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
			return actions.StepResult{"condition": in.Bool("condition")}, nil
		},
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var errNotObject = errors.New("must be a JSON object")

// jsonObject accepts a JSON object string or an already decoded map.
func jsonObject(v any) (map[string]any, error) {
	switch o := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return o, nil
	case string:
		if strings.TrimSpace(o) == "" {
			return nil, nil
		}
		var out any
		if err := decodeJSON(o, &out); err != nil {
			return nil, err
		}
		m, ok := out.(map[string]any)
		if !ok {
			return nil, errNotObject
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}
