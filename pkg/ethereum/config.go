package ethereum

import (
	"fmt"
	"time"
)

type Config struct {
	// Name identifies this node in logs and metrics.
	Name string `yaml:"name" default:"default"`
	// NodeAddress is the JSON-RPC HTTP endpoint.
	NodeAddress string `yaml:"nodeAddress"`
	// WSAddress is the websocket endpoint for newHeads subscriptions. Optional;
	// required only when the realtime collector is enabled.
	WSAddress string `yaml:"wsAddress"`
	// NodeHeaders are extra HTTP headers sent with every request.
	NodeHeaders map[string]string `yaml:"nodeHeaders"`
	// Network is the network name used for metrics labeling.
	Network string `yaml:"network" default:"mainnet"`
	// RequestTimeout bounds every individual RPC call. Keep this several
	// multiples above observed P99 latency so a hung upstream cannot stall a
	// chunk or the subscription indefinitely.
	RequestTimeout time.Duration `yaml:"requestTimeout" default:"30s"`
	// MaxBatchSize is the provider's per-request batch ceiling. Ranges larger
	// than this are split client-side; sending them whole is a guaranteed 400.
	MaxBatchSize int `yaml:"maxBatchSize" default:"50"`
	// Retry is the retry policy applied to transient failures.
	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	// MaxAttempts is the total number of tries for transient errors.
	MaxAttempts int `yaml:"maxAttempts" default:"3"`
	// BaseDelay is the first backoff interval.
	BaseDelay time.Duration `yaml:"baseDelay" default:"1s"`
	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration `yaml:"maxDelay" default:"30s"`
}

func (c *Config) Validate() error {
	if c.NodeAddress == "" {
		return fmt.Errorf("nodeAddress is required")
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("maxBatchSize must be positive, got %d", c.MaxBatchSize)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive, got %s", c.RequestTimeout)
	}

	return c.Retry.Validate()
}

func (c *RetryConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("retry maxAttempts must be positive, got %d", c.MaxAttempts)
	}

	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry baseDelay must be positive, got %s", c.BaseDelay)
	}

	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry maxDelay %s must not be below baseDelay %s", c.MaxDelay, c.BaseDelay)
	}

	return nil
}
