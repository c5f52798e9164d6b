// Package scheduler orders processes for a tick and drives ticks on an interval.
package scheduler

import "time"

// Config defines the tick loop configuration.
type Config struct {
	// Interval is the wall-clock time between ticks.
	Interval time.Duration `yaml:"interval"`
	// MaxTicks stops the loop after this many ticks. Zero runs until stopped.
	MaxTicks int `yaml:"max_ticks"`
	// MaxConsecutiveErrors stops the loop after this many failed ticks in a row.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:             time.Second,
		MaxConsecutiveErrors: 3,
	}
}
