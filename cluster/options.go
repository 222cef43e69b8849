package cluster

import (
	"time"

	"github.com/davidroman0O/durex/metrics"
	"github.com/davidroman0O/durex/pkg/logs"
)

type config struct {
	base            string
	shutdownTimeout time.Duration
	concurrency     int
	setup           map[string][]byte
	logger          logs.Logger
	metrics         *metrics.Metrics
}

type Option func(*config)

// WithBase sets the location scripts are resolved against, like a base URL.
func WithBase(base string) Option {
	return func(c *config) {
		c.base = base
	}
}

// WithShutdownTimeout bounds how long Close waits before forcing workers down.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *config) {
		c.shutdownTimeout = d
	}
}

// WithConcurrency sets how many inputs a single worker handles at once.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithSetup sends data to the worker of script before its first input.
func WithSetup(script string, data []byte) Option {
	return func(c *config) {
		c.setup[script] = data
	}
}

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
