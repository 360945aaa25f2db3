package ratelimit

import "fmt"

type Config struct {
	// Provider is a label identifying the upstream this budget guards.
	Provider string `yaml:"provider" default:"default"`
	// SustainedRPS is the empirically measured sustained request rate.
	// Vendor-documented limits are burst limits and are frequently 10-40x
	// higher than what holds over 50+ consecutive requests; do not use them.
	SustainedRPS float64 `yaml:"sustainedRps" default:"5"`
	// Burst is the bucket capacity. Zero means 2x SustainedRPS, which absorbs
	// scheduling jitter without breaking the sustained ceiling over any
	// 10-second window.
	Burst int `yaml:"burst"`
}

func (c *Config) Validate() error {
	if c.SustainedRPS <= 0 {
		return fmt.Errorf("sustainedRps must be positive, got %v", c.SustainedRPS)
	}

	if c.Burst < 0 {
		return fmt.Errorf("burst must not be negative, got %d", c.Burst)
	}

	return nil
}

// EffectiveBurst returns the configured burst, defaulting to 2x the sustained
// rate rounded up, with a floor of 1.
func (c *Config) EffectiveBurst() int {
	if c.Burst > 0 {
		return c.Burst
	}

	burst := int(c.SustainedRPS * 2)
	if float64(burst) < c.SustainedRPS*2 {
		burst++
	}

	if burst < 1 {
		burst = 1
	}

	return burst
}
