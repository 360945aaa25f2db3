package leaderelection

import (
	"context"
	"fmt"
	"time"
)

// LeadershipCallback is invoked synchronously when leadership status changes.
// Keep callbacks fast; long-running work belongs in a goroutine.
type LeadershipCallback func(ctx context.Context, isLeader bool)

// Elector coordinates which instance is allowed to ingest. Only the leader
// runs the realtime collector and the monitor schedules; followers stay warm.
type Elector interface {
	// Start begins the leader election process.
	Start(ctx context.Context) error

	// Stop gracefully stops the election and releases a held lock.
	Stop(ctx context.Context) error

	// IsLeader returns true if this node currently holds the lock.
	IsLeader() bool

	// OnLeadershipChange registers a callback invoked on every transition,
	// in registration order.
	OnLeadershipChange(callback LeadershipCallback)

	// LeaderID returns the current leader's node ID.
	LeaderID(ctx context.Context) (string, error)
}

// Config holds configuration for leader election.
type Config struct {
	// TTL is the time-to-live for the leader lock.
	TTL time.Duration `yaml:"ttl"`

	// RenewalInterval is how often the holder extends the lock.
	RenewalInterval time.Duration `yaml:"renewal_interval"`

	// NodeID identifies this node. Generated when empty.
	NodeID string `yaml:"node_id"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		TTL:             10 * time.Second,
		RenewalInterval: 3 * time.Second,
	}
}

// Validate fills unset durations with defaults and rejects combinations that
// cannot hold a lock. A zero TTL would write a lock that never expires; a
// renewal interval at or above the TTL guarantees losing the lock between
// renewals.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	if c.TTL == 0 {
		c.TTL = defaults.TTL
	}

	if c.RenewalInterval == 0 {
		c.RenewalInterval = defaults.RenewalInterval
	}

	if c.TTL < 0 {
		return fmt.Errorf("ttl must be positive, got %s", c.TTL)
	}

	if c.RenewalInterval < 0 {
		return fmt.Errorf("renewal_interval must be positive, got %s", c.RenewalInterval)
	}

	if c.RenewalInterval >= c.TTL {
		return fmt.Errorf("renewal_interval %s must be below ttl %s", c.RenewalInterval, c.TTL)
	}

	return nil
}
