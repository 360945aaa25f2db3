package redis

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client from configuration.
func New(config *Config) (*redis.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	addr := strings.TrimPrefix(config.Address, "redis://")

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	return client, nil
}
