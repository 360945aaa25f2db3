package monitor

import (
	"fmt"
	"time"
)

// Config holds configuration for the completeness monitor.
type Config struct {
	// Enabled toggles the scheduled checks.
	Enabled bool `yaml:"enabled" default:"true"`

	// GapScanInterval is how often the stored sequence is scanned for holes.
	// Gap scans read the full number sequence, so they run far less often
	// than the cheap staleness check.
	GapScanInterval time.Duration `yaml:"gapScanInterval" default:"3h"`

	// StalenessInterval is how often the newest block's age is checked.
	StalenessInterval time.Duration `yaml:"stalenessInterval" default:"5m"`

	// HeartbeatInterval is how often the dead-man's-switch ping fires.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" default:"5m"`

	// StalenessThreshold is the maximum tolerated age of the newest stored
	// block. Calibrated at roughly 2x the P99 age observed under normal
	// operation; re-validate after provider or schedule changes.
	StalenessThreshold time.Duration `yaml:"stalenessThreshold" default:"960s"`

	// ExclusionWindow excludes blocks younger than this from gap scans so
	// writes still in flight are not flagged as holes.
	ExclusionWindow time.Duration `yaml:"exclusionWindow" default:"180s"`

	// BlockTime is the expected block production interval, used to convert
	// the exclusion window into a block-number ceiling.
	BlockTime time.Duration `yaml:"blockTime" default:"12s"`

	// GapLimit caps the number of gap ranges reported per scan.
	GapLimit int `yaml:"gapLimit" default:"20"`

	// GapGracePeriod is how long a gap must persist before it escalates to
	// an emergency notification. Fresh gaps are usually transient reorgs or
	// in-flight backfill and resolve on their own.
	GapGracePeriod time.Duration `yaml:"gapGracePeriod" default:"30m"`
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.GapScanInterval <= 0 {
		return fmt.Errorf("gapScanInterval must be positive, got %s", c.GapScanInterval)
	}

	if c.StalenessInterval <= 0 {
		return fmt.Errorf("stalenessInterval must be positive, got %s", c.StalenessInterval)
	}

	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("stalenessThreshold must be positive, got %s", c.StalenessThreshold)
	}

	if c.ExclusionWindow < 0 {
		return fmt.Errorf("exclusionWindow must not be negative, got %s", c.ExclusionWindow)
	}

	if c.BlockTime <= 0 {
		return fmt.Errorf("blockTime must be positive, got %s", c.BlockTime)
	}

	if c.GapLimit <= 0 {
		return fmt.Errorf("gapLimit must be positive, got %d", c.GapLimit)
	}

	if c.GapGracePeriod < 0 {
		return fmt.Errorf("gapGracePeriod must not be negative, got %s", c.GapGracePeriod)
	}

	return nil
}
