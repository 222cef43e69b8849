package durex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/internal/config"
	"github.com/davidroman0O/durex/metrics"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/signal"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/store/memory"
	"github.com/davidroman0O/durex/store/redis"
	"github.com/davidroman0O/durex/store/sqlite"
	"github.com/davidroman0O/durex/workflow"
	goredis "github.com/redis/go-redis/v9"
)

type options struct {
	cfg     config.Config
	logger  logs.Logger
	metrics *metrics.Metrics
	store   store.Store
	queue   signal.Queue
}

type Option func(*options)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

func WithLogger(logger logs.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStore uses st instead of the configured store driver.
func WithStore(st store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithQueue uses q instead of the configured channel driver.
func WithQueue(q signal.Queue) Option {
	return func(o *options) {
		o.queue = q
	}
}

// Engine wires a store, a signal queue and a cluster from one configuration.
type Engine struct {
	cfg     config.Config
	logger  logs.Logger
	metrics *metrics.Metrics
	codec   protocol.Codec

	store   store.Store
	queue   signal.Queue
	cluster *cluster.Cluster

	closers []func() error
}

func New(ctx context.Context, registry *cluster.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		registry = cluster.NewRegistry()
	}
	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if o.logger == nil {
		o.logger = logs.NewDefaultLogger(logs.ParseLevel(o.cfg.Logging.Level), logs.LogFormat(o.cfg.Logging.Format))
	}

	e := &Engine{
		cfg:     o.cfg,
		logger:  o.logger,
		metrics: o.metrics,
		codec:   protocol.CodecByName(o.cfg.Cluster.Codec),
		store:   o.store,
		queue:   o.queue,
	}

	if err := e.open(ctx); err != nil {
		if cerr := e.closeResources(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}

	clusterOpts := []cluster.Option{
		cluster.WithBase(e.cfg.Cluster.Base),
		cluster.WithShutdownTimeout(e.cfg.Cluster.ShutdownTimeout),
		cluster.WithConcurrency(e.cfg.Cluster.Concurrency),
		cluster.WithLogger(e.logger),
		cluster.WithMetrics(e.metrics),
	}
	e.cluster = cluster.New(registry, clusterOpts...)

	e.logger.Info(ctx, "engine ready",
		"store", e.cfg.Store.Driver,
		"channel", e.cfg.Channel.Driver,
		"codec", e.codec.Name(),
		"scripts", len(registry.Scripts()))
	return e, nil
}

func (e *Engine) open(ctx context.Context) error {
	var db *sqlite.DB
	var rs *redis.Store

	if e.store == nil {
		switch e.cfg.Store.Driver {
		case "memory":
			st, err := memory.New()
			if err != nil {
				return err
			}
			e.store = st
		case "sqlite":
			opts := []sqlite.Option{
				sqlite.WithLogger(e.logger),
				sqlite.WithPollInterval(e.cfg.Channel.PollInterval),
			}
			if e.cfg.Store.Memory {
				opts = append(opts, sqlite.WithMemory())
			} else {
				opts = append(opts, sqlite.WithPath(e.cfg.Store.Path))
			}
			if e.cfg.Store.Destructive {
				opts = append(opts, sqlite.WithDestructive())
			}
			d, err := sqlite.Open(ctx, opts...)
			if err != nil {
				return err
			}
			e.closers = append(e.closers, d.Close)
			db = d
			e.store = d
		case "redis":
			client := goredis.NewClient(&goredis.Options{Addr: e.cfg.Store.RedisAddr})
			e.closers = append(e.closers, client.Close)
			rs = redis.New(client,
				redis.WithLogger(e.logger),
				redis.WithPrefix(e.cfg.Store.Prefix),
				redis.WithBlockTimeout(e.cfg.Channel.BlockTimeout))
			if err := rs.Ping(ctx); err != nil {
				return fmt.Errorf("redis %s: %w", e.cfg.Store.RedisAddr, err)
			}
			e.store = rs
		}
	}

	if e.queue != nil {
		return nil
	}
	switch e.cfg.Channel.Driver {
	case "memory":
		q := signal.NewMemoryQueue()
		e.closers = append(e.closers, q.Close)
		e.queue = q
	case "sqlite":
		if db == nil {
			return errors.New("sqlite channel requires the engine to open the sqlite store")
		}
		e.queue = db.Queue(e.cfg.Channel.Name)
	case "redis":
		if rs == nil {
			return errors.New("redis channel requires the engine to open the redis store")
		}
		q, err := rs.Queue(ctx, e.cfg.Channel.Name)
		if err != nil {
			return err
		}
		e.queue = q
	}
	return nil
}

func (e *Engine) Cluster() *cluster.Cluster { return e.cluster }
func (e *Engine) Store() store.Store        { return e.store }
func (e *Engine) Queue() signal.Queue       { return e.queue }
func (e *Engine) Logger() logs.Logger       { return e.logger }
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Codec is the payload codec. Handlers registered with cluster.Typed must use the same one.
func (e *Engine) Codec() protocol.Codec { return e.codec }

// Timeout is the configured timeout of script, or fallback.
func (e *Engine) Timeout(script string, fallback time.Duration) time.Duration {
	return e.cfg.Timeout(script, fallback)
}

// Close stops the cluster, waits for its workers up to ctx, then releases the store and queue.
func (e *Engine) Close(ctx context.Context) error {
	e.cluster.Close()
	var errs []error
	if err := e.cluster.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.closeResources(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Debug(ctx, "engine closed")
	return errors.Join(errs...)
}

func (e *Engine) closeResources() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// NewWorkflow builds a workflow on the engine's cluster and store.
func NewWorkflow[P, R any](e *Engine, workflowID string, main workflow.MainFunc[P, R]) (*workflow.Workflow[P, R], error) {
	return workflow.New(workflow.Config[P, R]{
		Cluster:    e.cluster,
		Store:      e.store,
		WorkflowID: workflowID,
		Main:       main,
		Codec:      e.codec,
		Logger:     e.logger,
		Metrics:    e.metrics,
	})
}

// NewChannel builds a signal channel on the engine's queue. It consumes until ctx ends.
func NewChannel[P, R any](ctx context.Context, e *Engine, opts ...signal.Option) *signal.Channel[P, R] {
	base := []signal.Option{
		signal.WithName(e.cfg.Channel.Name),
		signal.WithLogger(e.logger),
		signal.WithMetrics(e.metrics),
		signal.WithConcurrency(e.cfg.Channel.Concurrency),
		signal.WithCodec(e.codec),
	}
	return signal.NewChannel[P, R](ctx, e.queue, append(base, opts...)...)
}
