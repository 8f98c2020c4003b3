//go:build integration

package testdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redisImage = "redis:7-alpine"

// GetTestRedisAddr returns SNIPPETS_TEST_REDIS_ADDR when set, otherwise the
// host:port of a Redis container terminated at test cleanup.
func GetTestRedisAddr(t *testing.T) string {
	t.Helper()
	skipShort(t)
	if addr := os.Getenv(RedisAddrEnv); addr != "" {
		return addr
	}

	ctx := context.Background()
	port := nat.Port("6379/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		unavailable(t, "redis", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return host + ":" + mapped.Port()
}
