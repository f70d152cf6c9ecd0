package client

import (
	"log/slog"
	"time"

	"github.com/tinymq/tinymq-go/internal/events"
)

// Option customizes a Client at construction time.
type Option func(*Client)

// WithLogger sets the structured logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectTimeout bounds the TCP dial plus the CONNACK wait
// (default 5s).
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithRequestTimeout bounds correlated request/response round trips
// (default 5s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithBus mirrors connection and delegation events onto an event bus
// for drivers to observe.
func WithBus(bus *events.Bus) Option {
	return func(c *Client) {
		c.bus = bus
	}
}
