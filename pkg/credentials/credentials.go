// Package credentials resolves integration secrets for steps. The engine
// never handles secrets: a step receives an integration id and asks a
// Fetcher for the values it needs.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Fetcher returns the credential fields of an integration.
type Fetcher interface {
	Fetch(ctx context.Context, integrationID string) (map[string]string, error)
}

// StaticFetcher serves credentials from memory. It is used by tests and by
// the CLI when credentials come from a workflow file.
type StaticFetcher struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

var _ Fetcher = (*StaticFetcher)(nil)

// NewStaticFetcher creates a fetcher over the given integration entries.
func NewStaticFetcher(entries map[string]map[string]string) *StaticFetcher {
	f := &StaticFetcher{entries: make(map[string]map[string]string, len(entries))}
	for id, fields := range entries {
		f.Set(id, fields)
	}
	return f
}

// Set replaces the credentials of one integration.
func (f *StaticFetcher) Set(integrationID string, fields map[string]string) {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.mu.Lock()
	f.entries[integrationID] = copied
	f.mu.Unlock()
}

// Fetch returns a copy of the integration's credentials.
func (f *StaticFetcher) Fetch(_ context.Context, integrationID string) (map[string]string, error) {
	f.mu.RLock()
	fields, ok := f.entries[integrationID]
	f.mu.RUnlock()
	if !ok {
		return nil, sdkerrors.NewError(sdkerrors.CodeCredentials,
			fmt.Sprintf("no credentials for integration %q", integrationID), sdkerrors.ErrCredentialsMissing)
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied, nil
}

// EnvFetcher reads credentials from environment variables. For integration
// "prod-redis" and key REDIS_URL it looks up PROD_REDIS_REDIS_URL first and
// falls back to REDIS_URL. Only the requested keys are ever read.
type EnvFetcher struct {
	keys   []string
	lookup func(string) (string, bool)
}

var _ Fetcher = (*EnvFetcher)(nil)

// NewEnvFetcher creates a fetcher exposing the given credential keys.
func NewEnvFetcher(keys ...string) *EnvFetcher {
	return &EnvFetcher{keys: keys, lookup: os.LookupEnv}
}

// Fetch collects every configured key that is set. An integration with no
// matching variables is reported as missing.
func (f *EnvFetcher) Fetch(_ context.Context, integrationID string) (map[string]string, error) {
	prefix := envPrefix(integrationID)
	fields := make(map[string]string)
	for _, key := range f.keys {
		if prefix != "" {
			if v, ok := f.lookup(prefix + "_" + key); ok {
				fields[key] = v
				continue
			}
		}
		if v, ok := f.lookup(key); ok {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return nil, sdkerrors.NewError(sdkerrors.CodeCredentials,
			fmt.Sprintf("no credentials in environment for integration %q", integrationID), sdkerrors.ErrCredentialsMissing)
	}
	return fields, nil
}

func envPrefix(integrationID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(integrationID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Require fails with ErrCredentialsMissing naming the first key that is
// absent or empty.
func Require(fields map[string]string, keys ...string) error {
	for _, k := range keys {
		if fields[k] == "" {
			return sdkerrors.NewError(sdkerrors.CodeCredentials,
				fmt.Sprintf("credential %s is not set", k), sdkerrors.ErrCredentialsMissing)
		}
	}
	return nil
}

// ForIntegration fetches an integration's credentials. Steps without an
// integration, or without a fetcher, get an empty map.
func ForIntegration(ctx context.Context, f Fetcher, integrationID string) (map[string]string, error) {
	if integrationID == "" || f == nil {
		return map[string]string{}, nil
	}
	return f.Fetch(ctx, integrationID)
}

// Chain asks each fetcher in turn and returns the first success.
type Chain []Fetcher

var _ Fetcher = Chain(nil)

// Fetch returns the first fetcher's credentials that resolve, or the last
// error when none do.
func (c Chain) Fetch(ctx context.Context, integrationID string) (map[string]string, error) {
	err := error(sdkerrors.NewError(sdkerrors.CodeCredentials,
		fmt.Sprintf("no credentials for integration %q", integrationID), sdkerrors.ErrCredentialsMissing))
	for _, f := range c {
		fields, ferr := f.Fetch(ctx, integrationID)
		if ferr == nil {
			return fields, nil
		}
		err = ferr
	}
	return nil, err
}
