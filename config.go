package douki

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TicksPerSecond is the resolution of every elapsed-ticks timestamp.
const TicksPerSecond = 10_000_000

// SecondsToTicks converts a duration in seconds to elapsed ticks.
func SecondsToTicks(s float64) int64 {
	return int64(s * TicksPerSecond)
}

// TicksToSeconds converts elapsed ticks to seconds.
func TicksToSeconds(t int64) float64 {
	return float64(t) / TicksPerSecond
}

// Config holds the tunables shared by every schema and companion built from
// one Registry.
type Config struct {
	// BufferLeadSeconds is how far behind real time received values are
	// blended. It also sizes each value's snapshot ring.
	BufferLeadSeconds float32 `yaml:"bufferLeadSeconds" mapstructure:"bufferLeadSeconds"`

	// RingMinCapacity is the smallest snapshot ring a value gets.
	RingMinCapacity int `yaml:"ringMinCapacity" mapstructure:"ringMinCapacity"`

	// FixedDeltaSeconds is the length of one fixed simulation step, used to
	// turn a physics update interval into a sync interval.
	FixedDeltaSeconds float32 `yaml:"fixedDeltaSeconds" mapstructure:"fixedDeltaSeconds"`

	// AtRestAfterSeconds is how long a value must stay unchanged before it is
	// reported at rest.
	AtRestAfterSeconds float32 `yaml:"atRestAfterSeconds" mapstructure:"atRestAfterSeconds"`

	// PoolCapacity bounds each change-event pool's free list.
	PoolCapacity int `yaml:"poolCapacity" mapstructure:"poolCapacity"`

	// ReturnQueueCapacity bounds each pool's cross-owner return queue.
	ReturnQueueCapacity int `yaml:"returnQueueCapacity" mapstructure:"returnQueueCapacity"`

	// LocalAuthorityID identifies this peer when evaluating ownership.
	LocalAuthorityID AuthorityID `yaml:"localAuthorityID" mapstructure:"localAuthorityID"`

	// VelocityFallback is used for velocity quantization when a value's own
	// settings cannot derive one.
	VelocityFallback QuantizationSettings `yaml:"velocityFallback" mapstructure:"velocityFallback"`
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		BufferLeadSeconds:   0.25,
		RingMinCapacity:     10,
		FixedDeltaSeconds:   0.02,
		AtRestAfterSeconds:  1,
		PoolCapacity:        1000,
		ReturnQueueCapacity: 4096,
		VelocityFallback:    QuantizationSettings{Lower: -20, Upper: 20, Bits: 18},
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.BufferLeadSeconds < 0 {
		errs = append(errs, fmt.Errorf("bufferLeadSeconds must not be negative, got %g", c.BufferLeadSeconds))
	}
	if c.RingMinCapacity < 2 {
		errs = append(errs, fmt.Errorf("ringMinCapacity must be at least 2, got %d", c.RingMinCapacity))
	}
	if c.FixedDeltaSeconds <= 0 {
		errs = append(errs, fmt.Errorf("fixedDeltaSeconds must be positive, got %g", c.FixedDeltaSeconds))
	}
	if c.AtRestAfterSeconds < 0 {
		errs = append(errs, fmt.Errorf("atRestAfterSeconds must not be negative, got %g", c.AtRestAfterSeconds))
	}
	if c.PoolCapacity < 0 || c.ReturnQueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("pool capacities must not be negative"))
	}
	if !c.VelocityFallback.CanQuantize() {
		errs = append(errs, fmt.Errorf("velocityFallback: %w", ErrInvalidQuantization))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ringCapacity sizes a value's snapshot ring from its sync cadence.
func (c Config) ringCapacity(cadenceSeconds float32) int {
	if cadenceSeconds <= 0 {
		return c.RingMinCapacity
	}
	calc := int(float64(c.BufferLeadSeconds) / float64(cadenceSeconds) * 2.5)
	return max(c.RingMinCapacity, calc)
}
