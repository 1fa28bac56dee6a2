// Package testutil starts a disposable PostgreSQL instance for
// integration tests, grounded on mongo/internal/testutil/mongo_container.go's
// once-per-process Testcontainers pattern.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// GetPostgresDSN returns a connection string for a shared Testcontainers
// PostgreSQL instance. If the container cannot be started (e.g. Docker
// not available), tests are skipped.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()

	pgOnce.Do(func() {
		pgDSN, pgErr = startPostgresContainer()
	})

	if pgErr != nil {
		t.Skipf("skipping Postgres tests: %v", pgErr)
	}
	return pgDSN
}

func startPostgresContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			pgErr = fmt.Errorf("starting Postgres testcontainer panicked: %v", r)
		}
	}()

	c, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "flowmesh",
			"POSTGRES_PASSWORD": "flowmesh",
			"POSTGRES_DB":       "flowmesh",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start Postgres testcontainer: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("failed to get Postgres container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("failed to get Postgres container mapped port: %w", err)
	}

	if host == "" || host == "localhost" || host == "::1" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("postgres://flowmesh:flowmesh@%s:%s/flowmesh?sslmode=disable", host, port.Port()), nil
}
