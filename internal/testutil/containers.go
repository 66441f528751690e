// Package testutil starts throwaway service containers for integration
// tests. Every helper skips the calling test under -short or when no
// container runtime is reachable.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startupTimeout is generous for CI image pulls.
const startupTimeout = 3 * time.Minute

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

func run(t *testing.T, image string, opts ...testcontainers.ContainerCustomizer) string {
	t.Helper()
	skipUnlessIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	c, err := testcontainers.Run(ctx, image, opts...)
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Fatalf("start %s: %v", image, err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("endpoint of %s: %v", image, err)
	}
	return endpoint
}

// StartRedis returns a redis:// URL for a fresh Redis server.
func StartRedis(t *testing.T) string {
	t.Helper()
	endpoint := run(t, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	return "redis://" + endpoint + "/0"
}

// StartMongo returns a mongodb:// URI for a fresh MongoDB server.
func StartMongo(t *testing.T) string {
	t.Helper()
	endpoint := run(t, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	)
	return "mongodb://" + endpoint
}

// StartPostgres returns a postgres:// DSN for a fresh database.
func StartPostgres(t *testing.T) string {
	t.Helper()
	endpoint := run(t, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "daedalus",
			"POSTGRES_PASSWORD": "daedalus",
			"POSTGRES_DB":       "daedalus_test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				// The server restarts once after initdb.
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(2*time.Minute),
		),
	)
	return fmt.Sprintf("postgres://daedalus:daedalus@%s/daedalus_test?sslmode=disable", endpoint)
}
