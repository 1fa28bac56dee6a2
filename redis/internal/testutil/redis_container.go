// Package testutil starts a disposable Redis instance for integration
// tests, grounded on mongo/internal/testutil/mongo_container.go's
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
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// GetRedisAddress returns the host:port of a shared Testcontainers Redis
// instance. If the container cannot be started (e.g. Docker not
// available), tests are skipped.
func GetRedisAddress(t *testing.T) string {
	t.Helper()

	redisOnce.Do(func() {
		redisAddr, redisErr = startRedisContainer()
	})

	if redisErr != nil {
		t.Skipf("skipping Redis tests: %v", redisErr)
	}
	return redisAddr
}

func startRedisContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			redisErr = fmt.Errorf("starting Redis testcontainer panicked: %v", r)
		}
	}()

	c, err := testcontainers.Run(
		ctx, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp").WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start Redis testcontainer: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("failed to get Redis container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("failed to get Redis container mapped port: %w", err)
	}

	if host == "" || host == "localhost" || host == "::1" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}
