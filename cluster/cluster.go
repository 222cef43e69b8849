package cluster

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
)

// Cluster owns one WorkerContext per script, created on first use.
type Cluster struct {
	registry *Registry
	cfg      config

	mu       deadlock.Mutex
	contexts map[string]*WorkerContext
	closing  []*WorkerContext
	closed   bool
}

func New(registry *Registry, opts ...Option) *Cluster {
	cfg := config{
		shutdownTimeout: 5 * time.Second,
		concurrency:     1,
		setup:           map[string][]byte{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logs.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Cluster{
		registry: registry,
		cfg:      cfg,
		contexts: make(map[string]*WorkerContext),
	}
}

// Resolve maps a script name against the cluster base the way a relative URL resolves
// against a base URL. Without a base, or when either side does not parse, the name is kept.
func (c *Cluster) Resolve(script string) string {
	if c.cfg.base == "" {
		return script
	}
	base, err := url.Parse(c.cfg.base)
	if err != nil {
		return script
	}
	ref, err := url.Parse(script)
	if err != nil {
		return script
	}
	return base.ResolveReference(ref).String()
}

func (c *Cluster) lookup(script string) (string, Handler, error) {
	resolved := c.Resolve(script)
	if h, ok := c.registry.Lookup(resolved); ok {
		return resolved, h, nil
	}
	if h, ok := c.registry.Lookup(script); ok {
		return resolved, h, nil
	}
	return "", nil, fmt.Errorf("%w: %s (known: %s)", types.ErrUnknownActivity, script, strings.Join(c.registry.Scripts(), ", "))
}

// GetContext returns the context of script, starting its worker on first use.
// The store receives the checkpoints of replies handled by a newly created context.
func (c *Cluster) GetContext(st store.Store, script string) (*WorkerContext, error) {
	resolved, handler, err := c.lookup(script)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, types.ErrClusterClosed
	}
	if wc, ok := c.contexts[resolved]; ok {
		return wc, nil
	}

	logger := c.cfg.logger.WithFields(map[string]interface{}{"script": resolved})
	wc := &WorkerContext{
		script:     resolved,
		cluster:    c,
		store:      st,
		worker:     startWorker(resolved, handler, c.cfg.concurrency, logger),
		logger:     logger,
		pending:    make(map[types.CheckpointID]*Pending),
		dispatched: make(chan struct{}),
	}

	data, ok := c.cfg.setup[resolved]
	if !ok {
		data, ok = c.cfg.setup[script]
	}
	if ok {
		if err := wc.Send(protocol.Setup{Data: data}); err != nil {
			wc.worker.kill()
			return nil, err
		}
	}

	go wc.dispatch()
	c.contexts[resolved] = wc
	c.cfg.metrics.WorkersAdd(1)
	logger.Debug(context.Background(), "worker context created")
	return wc, nil
}

// forget drops a context whose worker died, so the next GetContext starts a fresh one.
func (c *Cluster) forget(wc *WorkerContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.contexts[wc.script]; ok && cur == wc {
		delete(c.contexts, wc.script)
		c.cfg.metrics.WorkersAdd(-1)
	}
}

// Contexts is the number of live worker contexts.
func (c *Cluster) Contexts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts)
}

// Close rejects every pending invocation with ErrTerminated, asks each worker to stop and
// forces it down after the shutdown timeout. Calling it again does nothing.
func (c *Cluster) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	contexts := make([]*WorkerContext, 0, len(c.contexts))
	for _, wc := range c.contexts {
		contexts = append(contexts, wc)
	}
	c.contexts = make(map[string]*WorkerContext)
	c.closing = contexts
	c.mu.Unlock()

	c.cfg.logger.Debug(context.Background(), "closing cluster", "contexts", len(contexts))
	for _, wc := range contexts {
		wc.shutdown(c.cfg.shutdownTimeout)
		c.cfg.metrics.WorkersAdd(-1)
	}
}

// Wait blocks until every worker stopped by Close has exited.
func (c *Cluster) Wait(ctx context.Context) error {
	c.mu.Lock()
	contexts := c.closing
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, wc := range contexts {
		wc := wc
		g.Go(func() error {
			select {
			case <-wc.dispatched:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for %s: %w", wc.script, ctx.Err())
			}
		})
	}
	return g.Wait()
}
