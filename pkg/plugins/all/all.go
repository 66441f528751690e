// Package all registers the system actions and every bundled plugin.
package all

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"github.com/wehubfusion/Daedalus/pkg/plugins/azure"
	"github.com/wehubfusion/Daedalus/pkg/plugins/mongodb"
	"github.com/wehubfusion/Daedalus/pkg/plugins/redis"
	"github.com/wehubfusion/Daedalus/pkg/plugins/script"
	"github.com/wehubfusion/Daedalus/pkg/steps/system"
	"go.uber.org/zap"
)

// Options configures Register. Zero values select production defaults.
type Options struct {
	Credentials credentials.Fetcher
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Script      script.PoolConfig
	AzureOpts   []azure.Option
}

// Bundle owns the resources of registered actions.
type Bundle struct {
	system *system.Steps
	script *script.Runner
}

// Close releases database pools and script runtimes.
func (b *Bundle) Close() error {
	return errors.Join(b.system.Close(), b.script.Close())
}

// CredentialKeys lists every credential a bundled action may read. The
// CLI exposes exactly these through the environment.
var CredentialKeys = []string{
	system.DatabaseURLKey,
	redis.URLKey,
	mongodb.URIKey,
	mongodb.DatabaseKey,
	azure.ConnectionStringKey,
	azure.ContainerKey,
}

// Register adds the system actions and all plugins to reg.
func Register(reg *actions.Registry, opts Options) (*Bundle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runner, err := script.NewRunner(opts.Script, logger.Named("script"))
	if err != nil {
		return nil, fmt.Errorf("failed to create script runner: %w", err)
	}
	b := &Bundle{
		system: system.New(opts.Credentials, opts.HTTPClient, logger.Named("system")),
		script: runner,
	}

	sets := [][]actions.Action{
		b.system.Actions(),
		redis.New(opts.Credentials, logger.Named("redis")).Actions(),
		mongodb.New(opts.Credentials, logger.Named("mongodb")).Actions(),
		azure.New(opts.Credentials, logger.Named("azure"), opts.AzureOpts...).Actions(),
		{runner.Action()},
	}
	for _, set := range sets {
		for _, a := range set {
			if err := reg.Register(a); err != nil {
				_ = b.Close()
				return nil, err
			}
		}
	}
	return b, nil
}
