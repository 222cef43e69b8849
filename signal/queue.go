package signal

import (
	"context"
	"errors"

	"github.com/sasha-s/go-deadlock"
)

// Envelope is the opaque transport form of a posted signal.
type Envelope struct {
	ExecutionID string `json:"executionId"`
	Params      []byte `json:"params"`
}

// Delivery is one received envelope. Ack removes it from the queue for good.
// A delivery that is never acknowledged is redelivered by durable queues after a restart.
type Delivery struct {
	Envelope
	Ack func(ctx context.Context) error
}

// Queue is an at-least-once transport for envelopes. Receive blocks until an envelope
// is available or ctx ends.
type Queue interface {
	Enqueue(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Delivery, error)
}

var ErrQueueClosed = errors.New("durex: queue closed")

// MemoryQueue is an unbounded in-process FIFO. It keeps nothing across restarts.
type MemoryQueue struct {
	mu     deadlock.Mutex
	items  []Envelope
	notify chan struct{}
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, env)
	q.wake()
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Delivery{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.wake()
			}
			q.mu.Unlock()
			return Delivery{Envelope: env, Ack: func(context.Context) error { return nil }}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, context.Cause(ctx)
		case <-q.notify:
		}
	}
}

// wake must be called with mu held.
func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len is the number of envelopes waiting to be received.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes blocked receivers. Waiting envelopes are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.items = nil
	close(q.notify)
	return nil
}
