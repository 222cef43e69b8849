package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
	"github.com/sasha-s/go-deadlock"
)

// Pending is the waiter record of one dispatched invocation.
type Pending struct {
	StateID types.StateID
	// Signal is the invocation's cancellation signal. Once it is done a matching reply is dangling.
	Signal context.Context
	// Store receives the checkpoint on success. Nil uses the context's store.
	Store store.Store
	// OnReply runs once when a matching reply is accepted, before the checkpoint is saved.
	OnReply func()

	reply *future.Future[[]byte]
	sent  time.Time
	claim atomic.Int32
}

const (
	unclaimed int32 = iota
	claimedByReply
	claimedByWaiter
)

func NewPending(id types.StateID, signal context.Context) *Pending {
	return &Pending{StateID: id, Signal: signal, reply: future.New[[]byte]()}
}

// Abandon claims p for its waiter so a reply arriving later is dangling.
// It reports false when a reply was already accepted; the waiter must then wait for Reply.
func (p *Pending) Abandon() bool {
	return p.claim.CompareAndSwap(unclaimed, claimedByWaiter)
}

func (p *Pending) accept() bool {
	return p.claim.CompareAndSwap(unclaimed, claimedByReply)
}

// Reply settles with the output once its checkpoint is durable, or with the failure.
func (p *Pending) Reply() *future.Future[[]byte] {
	return p.reply
}

// WorkerContext is the cluster-owned state of one script: its worker and the table of
// invocations waiting on it. Activities borrow it and never close it themselves.
type WorkerContext struct {
	script  string
	cluster *Cluster
	store   store.Store
	worker  *worker
	logger  logs.Logger

	mu       deadlock.Mutex
	pending  map[types.CheckpointID]*Pending
	detached error

	dispatched chan struct{}
}

func (w *WorkerContext) Script() string {
	return w.script
}

// Store is the store the context was created with.
func (w *WorkerContext) Store() store.Store {
	return w.store
}

// Register installs rec under its CheckpointID. A record already there is replaced.
// It fails once the context is detached by Close or by its worker exiting.
func (w *WorkerContext) Register(rec *Pending) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detached != nil {
		return w.detached
	}
	id := rec.StateID.CheckpointID()
	if _, ok := w.pending[id]; !ok {
		w.cluster.cfg.metrics.PendingAdd(w.script, 1)
	}
	w.pending[id] = rec
	return nil
}

// Forget removes rec if it is still the installed record for its id.
func (w *WorkerContext) Forget(rec *Pending) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := rec.StateID.CheckpointID()
	if cur, ok := w.pending[id]; ok && cur == rec {
		delete(w.pending, id)
		w.cluster.cfg.metrics.PendingAdd(w.script, -1)
		return true
	}
	return false
}

// Pending is the number of invocations awaiting a reply.
func (w *WorkerContext) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Send encodes and delivers a message to the worker.
func (w *WorkerContext) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if in, ok := m.(protocol.Input); ok {
		w.mu.Lock()
		if rec, ok := w.pending[in.StateID.CheckpointID()]; ok {
			rec.sent = time.Now()
		}
		w.mu.Unlock()
	}
	return w.worker.send(frame)
}

// Exited is closed once the worker is gone.
func (w *WorkerContext) Exited() <-chan struct{} {
	return w.worker.exited
}

func (w *WorkerContext) take(id types.CheckpointID) *Pending {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detached != nil {
		return nil
	}
	rec, ok := w.pending[id]
	if !ok {
		return nil
	}
	delete(w.pending, id)
	w.cluster.cfg.metrics.PendingAdd(w.script, -1)
	return rec
}

// dispatch is the single reply listener of the context.
func (w *WorkerContext) dispatch() {
	defer close(w.dispatched)
	for {
		select {
		case frame := <-w.worker.outbox:
			w.onFrame(frame)
		case <-w.worker.exited:
			for {
				select {
				case frame := <-w.worker.outbox:
					w.onFrame(frame)
				default:
					w.onExit()
					return
				}
			}
		}
	}
}

func (w *WorkerContext) onFrame(frame []byte) {
	ctx := context.Background()

	msg, err := protocol.Decode(frame)
	if err != nil {
		w.logger.Warn(ctx, "malformed reply", "script", w.script, "error", err)
		return
	}
	id, ok := protocol.Correlated(msg)
	if !ok {
		w.logger.Debug(ctx, "uncorrelated message from worker", "script", w.script, "kind", string(msg.Kind()))
		return
	}

	w.mu.Lock()
	detached := w.detached != nil
	w.mu.Unlock()
	if detached {
		return
	}

	rec := w.take(id.CheckpointID())
	if rec == nil || rec.Signal.Err() != nil || !rec.accept() {
		w.logger.Warn(ctx, "dangling reply", "script", w.script, "checkpoint_id", id.CheckpointID().String(), "kind", string(msg.Kind()))
		w.cluster.cfg.metrics.Dangling("cluster")
		return
	}
	if rec.OnReply != nil {
		rec.OnReply()
	}
	if !rec.sent.IsZero() {
		w.cluster.cfg.metrics.ObserveDispatch(id.ActivityID, time.Since(rec.sent).Seconds())
	}

	switch m := msg.(type) {
	case protocol.Exception:
		rec.reply.Reject(&types.RemoteError{StateID: m.StateID, Message: m.Message, Stack: m.Stack})
	case protocol.Output:
		st := rec.Store
		if st == nil {
			st = w.store
		}
		// The checkpoint must be durable before anyone observes success.
		go func() {
			saveCtx := context.WithoutCancel(rec.Signal)
			if err := st.Save(saveCtx, m.StateID, m.Data); err != nil {
				w.logger.Error(saveCtx, "checkpoint save failed", "script", w.script, "checkpoint_id", id.CheckpointID().String(), "error", err)
				if !errors.Is(err, types.ErrCheckpointUnavailable) {
					err = errors.Join(types.ErrCheckpointUnavailable, err)
				}
				rec.reply.Reject(err)
				return
			}
			rec.reply.Resolve(m.Data)
		}()
	default:
		w.logger.Warn(ctx, "unexpected reply kind", "script", w.script, "kind", string(msg.Kind()))
		rec.reply.Reject(fmt.Errorf("unexpected reply kind %s", msg.Kind()))
	}
}

func (w *WorkerContext) onExit() {
	w.mu.Lock()
	if w.detached != nil {
		w.mu.Unlock()
		return
	}
	w.detached = types.ErrWorkerExited
	pending := w.pending
	w.pending = make(map[types.CheckpointID]*Pending)
	w.mu.Unlock()

	ctx := context.Background()
	w.logger.Warn(ctx, "worker exited", "script", w.script, "pending", len(pending), "error", w.worker.exitErr)

	cause := types.ErrWorkerExited
	if w.worker.exitErr != nil {
		cause = fmt.Errorf("%w: %v", types.ErrWorkerExited, w.worker.exitErr)
	}
	for _, rec := range pending {
		rec.reply.Reject(cause)
	}
	w.cluster.cfg.metrics.PendingAdd(w.script, -float64(len(pending)))
	w.cluster.forget(w)
}

// shutdown is the cluster's two-phase close of this context.
func (w *WorkerContext) shutdown(grace time.Duration) {
	w.mu.Lock()
	if w.detached != nil {
		w.mu.Unlock()
		return
	}
	w.detached = types.ErrClusterClosed
	pending := w.pending
	w.pending = make(map[types.CheckpointID]*Pending)
	w.mu.Unlock()

	for id, rec := range pending {
		if rec.Signal.Err() != nil {
			continue
		}
		rec.reply.Reject(fmt.Errorf("%w: cluster closed with %s pending", types.ErrTerminated, id))
	}
	w.cluster.cfg.metrics.PendingAdd(w.script, -float64(len(pending)))

	frame, err := protocol.Encode(protocol.Signal{Value: protocol.SignalTerminate})
	if err == nil {
		if err := w.worker.send(frame); err != nil {
			w.logger.Debug(context.Background(), "worker already gone", "script", w.script)
		}
	}
	time.AfterFunc(grace, w.worker.kill)
}
