package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/types"
	"github.com/sasha-s/go-deadlock"
)

var ErrNoHandler = errors.New("durex: no signal handler")

// Handler runs the execution a signal asks for.
type Handler[P, R any] func(ctx context.Context, executionID string, params P) (R, error)

type handlerSlot[P, R any] struct {
	fn Handler[P, R]
}

// Channel turns posted signals into executions through a queue. Deliveries pass a gate that
// starts closed, so nothing runs before Start.
type Channel[P, R any] struct {
	queue Queue
	gate  *Gate
	cfg   config
	log   logs.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      deadlock.Mutex
	waiters map[string][]*future.Future[R]
	closed  bool
	handler *handlerSlot[P, R]
	ready   chan struct{}

	slots   chan struct{}
	running sync.WaitGroup
	stopped chan struct{}
}

// NewChannel starts consuming queue until ctx ends or the queue is closed.
func NewChannel[P, R any](ctx context.Context, queue Queue, opts ...Option) *Channel[P, R] {
	cfg := config{name: "default", codec: protocol.JSONCodec{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logs.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel[P, R]{
		queue:   queue,
		gate:    NewGate(),
		cfg:     cfg,
		log:     cfg.logger.WithFields(map[string]interface{}{"channel": cfg.name}),
		ctx:     ctx,
		cancel:  cancel,
		waiters: make(map[string][]*future.Future[R]),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if cfg.limit > 0 {
		c.slots = make(chan struct{}, cfg.limit)
	}
	go c.consume()
	return c
}

// PostSignal enqueues an execution and returns its eventual result. Without an execution id a
// new time-ordered one is generated.
func (c *Channel[P, R]) PostSignal(ctx context.Context, params P, executionID ...string) *future.Future[R] {
	id := ""
	if len(executionID) > 0 && executionID[0] != "" {
		id = executionID[0]
	} else {
		id = types.NewExecutionID()
	}

	data, err := c.cfg.codec.Marshal(params)
	if err != nil {
		return future.Rejected[R](fmt.Errorf("encoding params of %s: %w", id, err))
	}

	f := future.New[R]()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return future.Rejected[R](types.ErrChannelClosed)
	}
	c.waiters[id] = append(c.waiters[id], f)
	c.mu.Unlock()
	c.cfg.metrics.SignalsAdd(c.cfg.name, 1)

	if err := c.queue.Enqueue(ctx, Envelope{ExecutionID: id, Params: data}); err != nil {
		if c.drop(id, f) {
			c.cfg.metrics.SignalsAdd(c.cfg.name, -1)
			c.cfg.metrics.SignalDone(c.cfg.name, "failed")
		}
		c.log.Error(ctx, "signal enqueue failed", "execution_id", id, "error", err)
		f.Reject(err)
		return f
	}
	c.log.Debug(ctx, "signal posted", "execution_id", id)
	return f
}

func (c *Channel[P, R]) drop(id string, f *future.Future[R]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.waiters[id]
	for i, w := range ws {
		if w == f {
			ws = append(ws[:i], ws[i+1:]...)
			if len(ws) == 0 {
				delete(c.waiters, id)
			} else {
				c.waiters[id] = ws
			}
			return true
		}
	}
	return false
}

// Start opens the gate. Queued and future signals are delivered from now on.
func (c *Channel[P, R]) Start() {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()
	c.gate.Open()
	c.log.Debug(c.ctx, "channel started")
}

// Close closes the gate and rejects every pending result with ErrChannelClosed. Signals still
// in the queue stay there for a later Start.
func (c *Channel[P, R]) Close() {
	c.gate.Close()

	c.mu.Lock()
	c.closed = true
	waiters := c.waiters
	c.waiters = make(map[string][]*future.Future[R])
	c.mu.Unlock()

	n := 0
	for id, ws := range waiters {
		for _, f := range ws {
			f.Reject(fmt.Errorf("%w: execution %s", types.ErrChannelClosed, id))
			n++
		}
	}
	if n > 0 {
		c.cfg.metrics.SignalsAdd(c.cfg.name, -float64(n))
	}
	c.log.Debug(c.ctx, "channel closed", "rejected", n)
}

// OnSignal installs the delivery handler. The returned func removes it only if it is still
// the installed one.
func (c *Channel[P, R]) OnSignal(fn Handler[P, R]) func() {
	slot := &handlerSlot[P, R]{fn: fn}

	c.mu.Lock()
	if c.handler == nil {
		close(c.ready)
	}
	c.handler = slot
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.handler == slot {
			c.handler = nil
			c.ready = make(chan struct{})
		}
	}
}

// Size is the number of posted signals whose result is still pending.
func (c *Channel[P, R]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ws := range c.waiters {
		n += len(ws)
	}
	return n
}

// Wait blocks until consumption stopped and every running handler returned.
func (c *Channel[P, R]) Wait() {
	<-c.stopped
	c.running.Wait()
}

// Stop ends consumption. Pending results are left untouched.
func (c *Channel[P, R]) Stop() {
	c.cancel()
}

func (c *Channel[P, R]) waitHandler(ctx context.Context) (Handler[P, R], error) {
	for {
		c.mu.Lock()
		if c.handler != nil {
			fn := c.handler.fn
			c.mu.Unlock()
			return fn, nil
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, errors.Join(ErrNoHandler, context.Cause(ctx))
		}
	}
}

func (c *Channel[P, R]) consume() {
	defer close(c.stopped)
	for {
		d, err := c.queue.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			c.log.Error(c.ctx, "signal receive failed", "error", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if err := c.gate.Wait(c.ctx); err != nil {
			return
		}
		fn, err := c.waitHandler(c.ctx)
		if err != nil {
			return
		}

		if c.slots != nil {
			select {
			case c.slots <- struct{}{}:
			case <-c.ctx.Done():
				return
			}
		}
		// handlers start in queue order: the next delivery waits until this one entered its handler
		started := make(chan struct{})
		c.running.Add(1)
		go func(d Delivery) {
			defer c.running.Done()
			if c.slots != nil {
				defer func() { <-c.slots }()
			}
			c.deliver(d, fn, started)
		}(d)
		<-started
	}
}

func (c *Channel[P, R]) deliver(d Delivery, fn Handler[P, R], started chan<- struct{}) {
	id := d.ExecutionID

	var result R
	var params P
	err := c.cfg.codec.Unmarshal(d.Params, &params)
	close(started)
	if err != nil {
		err = fmt.Errorf("decoding params of %s: %w", id, err)
	} else {
		result, err = fn(c.ctx, id, params)
	}
	c.complete(id, result, err)

	if d.Ack != nil {
		if err := d.Ack(context.WithoutCancel(c.ctx)); err != nil {
			c.log.Warn(c.ctx, "signal ack failed", "execution_id", id, "error", err)
		}
	}
}

func (c *Channel[P, R]) complete(id string, result R, err error) {
	c.mu.Lock()
	ws := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()

	if len(ws) == 0 {
		c.log.Warn(c.ctx, "dangling result", "execution_id", id, "error", err)
		c.cfg.metrics.Dangling("channel")
		return
	}

	outcome := "resolved"
	for _, f := range ws {
		if err != nil {
			f.Reject(err)
		} else {
			f.Resolve(result)
		}
	}
	if err != nil {
		outcome = "rejected"
	}
	c.cfg.metrics.SignalsAdd(c.cfg.name, -float64(len(ws)))
	c.cfg.metrics.SignalDone(c.cfg.name, outcome)
}
