// Package redis provides the Redis plugin's "Get Value" action.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"go.uber.org/zap"
)

const (
	// GetValueID is the action type of Get Value.
	GetValueID = "Get Value"
	// URLKey is the credential holding the connection URL.
	URLKey = "REDIS_URL"
)

// Plugin holds the Redis actions.
type Plugin struct {
	creds  credentials.Fetcher
	logger *zap.Logger
}

// New creates the plugin.
func New(creds credentials.Fetcher, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{creds: creds, logger: logger}
}

// Actions returns the plugin's actions.
func (p *Plugin) Actions() []actions.Action {
	return []actions.Action{{
		ID:          GetValueID,
		Label:       GetValueID,
		Category:    "Redis",
		Description: "Get a value from Redis by key",
		Step:        p.getValue,
	}}
}

func (p *Plugin) getValue(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
	key := in.String("key")
	if key == "" {
		return withKey(actions.ValidationFailure(actions.FieldError{Field: "key", Message: "Key is required"}), key), nil
	}

	fields, err := credentials.ForIntegration(ctx, p.creds, in.IntegrationID)
	if err != nil {
		return actions.Failure(err.Error(), map[string]any{"key": key}), nil
	}
	if fields[URLKey] == "" {
		return actions.Failure("Redis credentials not configured", map[string]any{"key": key}), nil
	}

	client, err := newClient(fields[URLKey])
	if err != nil {
		return actions.Failure(err.Error(), map[string]any{"key": key}), nil
	}
	defer client.Close()

	out := map[string]any{"key": key, "value": nil}
	value, err := client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return actions.Failure(err.Error(), map[string]any{"key": key}), nil
	default:
		out["value"] = value
	}

	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		return actions.Failure(err.Error(), map[string]any{"key": key}), nil
	}
	// Negative TTLs mean no expiry or no key.
	if ttl >= 0 {
		out["ttl"] = int64(ttl / time.Second)
	}

	p.logger.Debug("Redis value read",
		zap.String("node_id", in.Context.NodeID),
		zap.Bool("found", out["value"] != nil))
	return actions.Success(out), nil
}

func newClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 200 * time.Millisecond
	opts.MaxRetryBackoff = time.Second
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return goredis.NewClient(opts), nil
}

// Ping checks the server behind the credentials.
func Ping(ctx context.Context, fields map[string]string) error {
	if strings.TrimSpace(fields[URLKey]) == "" {
		return errors.New("Redis credentials not configured")
	}
	client, err := newClient(fields[URLKey])
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Ping(ctx).Err()
}

func withKey(r actions.StepResult, key string) actions.StepResult {
	r["key"] = key
	return r
}
