package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultConcurrency     = 1
	defaultCodec           = "json"

	defaultStoreDriver   = "memory"
	defaultChannelDriver = "memory"
	defaultRedisAddr     = "localhost:6379"
	defaultRedisPrefix   = "durex:"
	defaultPollInterval  = 50 * time.Millisecond
	defaultBlockTimeout  = time.Second
	defaultChannelName   = "signals"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

var (
	drivers = map[string]bool{"memory": true, "sqlite": true, "redis": true}
	codecs  = map[string]bool{"json": true, "rtl": true}
)

// Config is the complete engine configuration
type Config struct {
	Cluster    ClusterConfig             `yaml:"cluster"`
	Store      StoreConfig               `yaml:"store"`
	Channel    ChannelConfig             `yaml:"channel"`
	Logging    LoggingConfig             `yaml:"logging"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Activities map[string]ActivityConfig `yaml:"activities"`
}

// ClusterConfig holds worker pool settings
type ClusterConfig struct {
	// Base is the location scripts resolve against
	Base            string        `yaml:"base"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Concurrency     int           `yaml:"concurrency"`
	// Codec encodes activity payloads and signal params: json or rtl
	Codec           string        `yaml:"codec"`
}

// StoreConfig selects the checkpoint store
type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory, sqlite, redis
	Path        string `yaml:"path"`
	Memory      bool   `yaml:"memory"`
	Destructive bool   `yaml:"destructive"`
	RedisAddr   string `yaml:"redis_addr"`
	Prefix      string `yaml:"prefix"`
}

// ChannelConfig selects the queue behind the signal channel
type ChannelConfig struct {
	Driver       string        `yaml:"driver"` // memory, sqlite, redis
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	Concurrency  int           `yaml:"concurrency"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type ActivityConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Cluster.ShutdownTimeout <= 0 {
		return fmt.Errorf("cluster shutdown timeout must be positive")
	}
	if c.Cluster.Concurrency <= 0 {
		return fmt.Errorf("cluster concurrency must be positive")
	}
	if !codecs[c.Cluster.Codec] {
		return fmt.Errorf("unknown codec %q", c.Cluster.Codec)
	}
	if !drivers[c.Store.Driver] {
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if !drivers[c.Channel.Driver] {
		return fmt.Errorf("unknown channel driver %q", c.Channel.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" && !c.Store.Memory {
		return fmt.Errorf("sqlite store needs a path or memory: true")
	}
	if c.Channel.Driver == "sqlite" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("sqlite channel requires the sqlite store")
	}
	if c.Channel.Driver == "redis" && c.Store.Driver != "redis" {
		return fmt.Errorf("redis channel requires the redis store")
	}
	if c.Channel.Concurrency < 0 {
		return fmt.Errorf("channel concurrency must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	for script, a := range c.Activities {
		if a.Timeout < 0 {
			return fmt.Errorf("activity %s: timeout must not be negative", script)
		}
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Cluster.ShutdownTimeout == 0 {
		c.Cluster.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Cluster.Concurrency == 0 {
		c.Cluster.Concurrency = defaultConcurrency
	}
	if c.Cluster.Codec == "" {
		c.Cluster.Codec = defaultCodec
	}
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	if c.Store.Driver == "redis" {
		if c.Store.RedisAddr == "" {
			c.Store.RedisAddr = defaultRedisAddr
		}
		if c.Store.Prefix == "" {
			c.Store.Prefix = defaultRedisPrefix
		}
	}
	if c.Channel.Driver == "" {
		c.Channel.Driver = defaultChannelDriver
	}
	if c.Channel.Name == "" {
		c.Channel.Name = defaultChannelName
	}
	if c.Channel.PollInterval == 0 {
		c.Channel.PollInterval = defaultPollInterval
	}
	if c.Channel.BlockTimeout == 0 {
		c.Channel.BlockTimeout = defaultBlockTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Activities == nil {
		c.Activities = map[string]ActivityConfig{}
	}
}

// Timeout is the configured timeout of script, or fallback.
func (c *Config) Timeout(script string, fallback time.Duration) time.Duration {
	if a, ok := c.Activities[script]; ok && a.Timeout > 0 {
		return a.Timeout
	}
	return fallback
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// Decode reads YAML from r, applies defaults and validates.
func Decode(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfig reads the YAML config file at the given path
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Decode(f)
}
