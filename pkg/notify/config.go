package notify

import "fmt"

// Config holds notification sink configuration. All sinks are optional;
// without any configured sink the monitor runs with a noop notifier.
type Config struct {
	// Pushover sends push notifications for gap and staleness alerts.
	Pushover PushoverConfig `yaml:"pushover"`
	// HeartbeatURL is a healthchecks.io-style ping URL. Appending /fail to it
	// signals failure; a plain GET signals success.
	HeartbeatURL string `yaml:"heartbeat_url"`
}

// PushoverConfig holds Pushover API credentials.
type PushoverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
}

func (c *Config) Validate() error {
	if c.Pushover.Enabled {
		if c.Pushover.Token == "" {
			return fmt.Errorf("pushover token is required when pushover is enabled")
		}

		if c.Pushover.UserKey == "" {
			return fmt.Errorf("pushover user_key is required when pushover is enabled")
		}
	}

	return nil
}

// Notifier builds the configured notifier, falling back to a noop when
// Pushover is disabled.
func (c *Config) Notifier(network string) Notifier {
	if c.Pushover.Enabled {
		return NewPushover(&c.Pushover, network)
	}

	return Noop{}
}
