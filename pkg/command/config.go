// Package command implements the command pipeline: preflight locking,
// cross-aggregate validation, pure decision, atomic append, and synchronous
// projection update, with bounded retry on version conflicts.
package command

import "time"

// Config carries the recognized engine options. Zero values mean: unlimited
// depth and fan-out, no append retries, and the default backoff.
type Config struct {
	// MaxDepth bounds the scope tree depth; nil is unlimited.
	MaxDepth *int

	// MaxChildren bounds a parent's live children; nil is unlimited.
	MaxChildren *int

	// AppendRetries bounds retries after a version conflict at append time.
	AppendRetries int

	// RetryBaseBackoff is the first retry delay; it doubles per attempt
	// with jitter.
	RetryBaseBackoff time.Duration
}

// DefaultConfig returns the defaults: unlimited hierarchy, three retries.
func DefaultConfig() Config {
	return Config{
		AppendRetries:    3,
		RetryBaseBackoff: 10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	if c.AppendRetries < 0 {
		c.AppendRetries = 0
	}
	if c.RetryBaseBackoff <= 0 {
		c.RetryBaseBackoff = 10 * time.Millisecond
	}
	return c
}

// Limit is a convenience for building *int limits.
func Limit(n int) *int { return &n }
