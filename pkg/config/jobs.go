package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobsConfig holds the schedule of the background jobs.
type JobsConfig struct {
	Timezone             string `mapstructure:"timezone"`
	ConsolidationEnabled bool   `mapstructure:"consolidation_enabled"`
	ConsolidationAt      string `mapstructure:"consolidation_at"`
	RecoverySweepEnabled bool   `mapstructure:"recovery_sweep_enabled"`
	RecoverySweepAt      string `mapstructure:"recovery_sweep_at"`
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Location resolves the configured timezone, UTC when empty.
func (c JobsConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks every schedule parses.
func (c JobsConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if _, err := ParseClock(c.ConsolidationAt); err != nil {
		return fmt.Errorf("consolidation_at: %w", err)
	}
	if _, err := ParseClock(c.RecoverySweepAt); err != nil {
		return fmt.Errorf("recovery_sweep_at: %w", err)
	}
	return nil
}
