// Package testutil provides shared helpers for unit and integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// NewMiniredisClient creates a Redis client backed by an in-memory miniredis
// server. Both are cleaned up when the test completes.
func NewMiniredisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, s
}

// NewRedisContainer creates a real Redis container for integration tests.
func NewRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	testcontainers.CleanupContainer(t, c)

	connStr, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("failed to parse redis connection string: %v", err)
	}

	client := redis.NewClient(opts)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// ClickHouseConnection holds ClickHouse connection details.
type ClickHouseConnection struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Addr returns the ClickHouse address in host:port format.
func (c ClickHouseConnection) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClickHouseContainer creates a real ClickHouse container for integration
// tests. The container is cleaned up when the test completes.
func NewClickHouseContainer(t *testing.T) ClickHouseConnection {
	t.Helper()

	ctx := context.Background()

	c, err := tcclickhouse.Run(ctx, "clickhouse/clickhouse-server:latest",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
	)
	if err != nil {
		t.Fatalf("failed to start clickhouse container: %v", err)
	}

	testcontainers.CleanupContainer(t, c)

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get clickhouse host: %v", err)
	}

	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("failed to get clickhouse port: %v", err)
	}

	return ClickHouseConnection{
		Host:     host,
		Port:     port.Int(),
		Database: "default",
		Username: "default",
		Password: "",
	}
}
