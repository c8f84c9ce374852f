// Package config provides the declarative, YAML-loadable construction
// parameters for a vividcore chart: the knobs spec.md's original C API
// took as create_sm arguments (event_queue_size, binding mode) plus a
// diagnostic name threaded through log lines.
//
// Modeled on the teacher's primitives.MachineConfig.Validate style:
// accumulate every validation failure instead of aborting on the first,
// and wrap each with enough context to locate it.
package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/comalice/vividcore/queue"
)

// QueueMode names queue.Mode for YAML (de)serialization.
type QueueMode string

const (
	QueueModeMutex    QueueMode = "mutex"
	QueueModeLockFree QueueMode = "lockfree"
)

// ToQueueMode resolves the YAML mode name to a queue.Mode.
func (m QueueMode) ToQueueMode() (queue.Mode, error) {
	switch m {
	case "", QueueModeMutex:
		return queue.ModeMutex, nil
	case QueueModeLockFree:
		return queue.ModeLockFree, nil
	default:
		return 0, fmt.Errorf("config: unknown queue mode %q", m)
	}
}

// Config carries a chart's construction-time parameters.
type Config struct {
	// Name is a diagnostic label threaded through log lines, mirroring the
	// original implementation's vivid_sm_t.name.
	Name string `yaml:"name"`

	// EventQueueSize is the usable capacity of the bounded event queue
	// (backing storage is EventQueueSize+1, per spec.md §4.1).
	EventQueueSize int `yaml:"event_queue_size"`

	// Mode selects the queue's synchronization discipline.
	Mode QueueMode `yaml:"mode"`

	// MaxParamSizeOverride, if non-zero, overrides the STATIC parameter
	// slab size the init walk would otherwise compute from the largest
	// declared OnEventParam. Leave zero to let the walk compute it.
	MaxParamSizeOverride int `yaml:"max_param_size_override"`
}

// Load parses a Config from YAML.
func Load(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return c, nil
}

// Validate checks the configuration for internal consistency, accumulating
// every problem found rather than stopping at the first.
func (c Config) Validate() error {
	var errs []error
	if c.EventQueueSize < 1 {
		errs = append(errs, fmt.Errorf("config: event_queue_size must be >= 1, got %d", c.EventQueueSize))
	}
	if c.MaxParamSizeOverride < 0 {
		errs = append(errs, fmt.Errorf("config: max_param_size_override must be >= 0, got %d", c.MaxParamSizeOverride))
	}
	if _, err := c.Mode.ToQueueMode(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Default returns a Config with sensible defaults: mutex-mode queue,
// capacity 16, no param-size override.
func Default() Config {
	return Config{
		Name:           "chart",
		EventQueueSize: 16,
		Mode:           QueueModeMutex,
	}
}
