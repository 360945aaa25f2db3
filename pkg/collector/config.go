package collector

import (
	"fmt"
	"time"
)

// Config holds configuration for the realtime collector.
type Config struct {
	// Enabled toggles realtime collection.
	Enabled bool `yaml:"enabled" default:"true"`

	// BatchSize is the number of normalized blocks buffered before a write.
	// Mainnet produces a block every 12s, so a batch of 1 keeps the store
	// current; larger batches trade freshness for fewer inserts.
	BatchSize int `yaml:"batchSize" default:"1"`

	// FlushInterval bounds how long a partial batch may sit in the buffer.
	FlushInterval time.Duration `yaml:"flushInterval" default:"5s"`

	// MaxConsecutiveFailures is the number of back-to-back head processing
	// failures tolerated before the collector gives up.
	MaxConsecutiveFailures int `yaml:"maxConsecutiveFailures" default:"10"`

	// MaxReconnectAttempts is the number of back-to-back sessions that end
	// without a single delivered head tolerated before the collector gives
	// up. A terminal disconnect must surface as an error, not a silent
	// backoff loop.
	MaxReconnectAttempts int `yaml:"maxReconnectAttempts" default:"10"`

	// ReconnectBaseDelay is the first reconnect backoff interval.
	ReconnectBaseDelay time.Duration `yaml:"reconnectBaseDelay" default:"1s"`

	// ReconnectMaxDelay caps the reconnect backoff interval.
	ReconnectMaxDelay time.Duration `yaml:"reconnectMaxDelay" default:"1m"`
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be positive, got %d", c.BatchSize)
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("flushInterval must be positive, got %s", c.FlushInterval)
	}

	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("maxConsecutiveFailures must be positive, got %d", c.MaxConsecutiveFailures)
	}

	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("maxReconnectAttempts must be positive, got %d", c.MaxReconnectAttempts)
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnectBaseDelay must be positive, got %s", c.ReconnectBaseDelay)
	}

	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnectMaxDelay %s must not be below reconnectBaseDelay %s",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}

	return nil
}
