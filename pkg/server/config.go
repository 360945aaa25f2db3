package server

import (
	"fmt"
	"time"

	"github.com/gaplessdata/block-ingestor/pkg/backfill"
	"github.com/gaplessdata/block-ingestor/pkg/collector"
	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
	"github.com/gaplessdata/block-ingestor/pkg/leaderelection"
	"github.com/gaplessdata/block-ingestor/pkg/monitor"
	"github.com/gaplessdata/block-ingestor/pkg/notify"
	"github.com/gaplessdata/block-ingestor/pkg/ratelimit"
	"github.com/gaplessdata/block-ingestor/pkg/redis"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

type Config struct {
	// MetricsAddr is the address to listen on for metrics.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// HealthCheckAddr is the address to listen on for healthcheck.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// Ethereum is the upstream node configuration.
	Ethereum ethereum.Config `yaml:"ethereum"`
	// RateLimit caps the sustained request rate against the upstream node.
	RateLimit ratelimit.Config `yaml:"rateLimit"`
	// Redis is the redis configuration.
	Redis *redis.Config `yaml:"redis"`
	// Storage is the ClickHouse block store configuration.
	Storage storage.Config `yaml:"storage"`
	// LeaderElection enables single-writer coordination across replicas.
	// Nil disables election; every replica then ingests.
	LeaderElection *leaderelection.Config `yaml:"leaderElection"`
	// Collector is the realtime newHeads collector configuration.
	Collector collector.Config `yaml:"collector"`
	// Backfill holds chunking and worker defaults for backfill runs. The
	// range itself comes from the backfill command's flags.
	Backfill backfill.Config `yaml:"backfill"`
	// Monitor is the completeness monitor configuration.
	Monitor monitor.Config `yaml:"monitor"`
	// Notifications configures the alerting sinks.
	Notifications notify.Config `yaml:"notifications"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

func (c *Config) Validate() error {
	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis configuration: %w", err)
	}

	if err := c.Ethereum.Validate(); err != nil {
		return fmt.Errorf("invalid ethereum configuration: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	c.Storage.SetDefaults()

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("invalid collector configuration: %w", err)
	}

	if c.Collector.Enabled && c.Ethereum.WSAddress == "" {
		return fmt.Errorf("ethereum wsAddress is required when the collector is enabled")
	}

	if c.Backfill.SubBatchSize > uint64(c.Ethereum.MaxBatchSize) {
		return fmt.Errorf(
			"backfill sub_batch_size %d exceeds ethereum maxBatchSize %d",
			c.Backfill.SubBatchSize, c.Ethereum.MaxBatchSize,
		)
	}

	if c.LeaderElection != nil {
		if err := c.LeaderElection.Validate(); err != nil {
			return fmt.Errorf("invalid leader election configuration: %w", err)
		}
	}

	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("invalid monitor configuration: %w", err)
	}

	if err := c.Notifications.Validate(); err != nil {
		return fmt.Errorf("invalid notifications configuration: %w", err)
	}

	return nil
}
