package signal

import (
	"github.com/davidroman0O/durex/metrics"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
)

type config struct {
	name    string
	logger  logs.Logger
	metrics *metrics.Metrics
	codec   protocol.Codec
	limit   int
}

type Option func(*config)

func WithLogger(logger logs.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithName labels the channel in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithCodec sets how params are encoded on the queue. JSON by default.
func WithCodec(codec protocol.Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// WithConcurrency bounds how many handlers run at once. Zero means no bound.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.limit = n
		}
	}
}
