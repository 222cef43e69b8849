package activity

import (
	"context"
	"time"

	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/metrics"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
	"github.com/sasha-s/go-deadlock"
)

type Config struct {
	// Context is the worker context of the activity script. It is borrowed, never closed.
	Context *cluster.WorkerContext
	// Store defaults to the store of Context.
	Store      store.Store
	WorkflowID string
	ActivityID string
	// Timeout is measured from dispatch. Zero disables it.
	Timeout time.Duration
	Logger  logs.Logger
	Metrics *metrics.Metrics
}

// Request identifies one call within an execution.
type Request struct {
	ExecutionID  string
	InvocationID string
	Input        []byte
}

// Activity invokes one script for a fixed workflow and activity id.
type Activity struct {
	cfg    Config
	logger logs.Logger

	mu       deadlock.Mutex
	inflight map[types.CheckpointID]*Invocation
	closed   bool
}

func New(cfg Config) *Activity {
	if cfg.Store == nil && cfg.Context != nil {
		cfg.Store = cfg.Context.Store()
	}
	if cfg.Logger == nil {
		cfg.Logger = logs.Default()
	}
	return &Activity{
		cfg: cfg,
		logger: cfg.Logger.WithFields(map[string]interface{}{
			"workflow_id": cfg.WorkflowID,
			"activity_id": cfg.ActivityID,
		}),
		inflight: make(map[types.CheckpointID]*Invocation),
	}
}

func (a *Activity) ID() string {
	return a.cfg.ActivityID
}

// Invoke starts an invocation and returns at once. A call for an id that is still in
// flight joins the running invocation instead of dispatching again.
func (a *Activity) Invoke(ctx context.Context, req Request) *Invocation {
	id := types.StateID{
		WorkflowID:   a.cfg.WorkflowID,
		ExecutionID:  req.ExecutionID,
		ActivityID:   a.cfg.ActivityID,
		InvocationID: req.InvocationID,
	}
	key := id.CheckpointID()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return rejected(id, types.ErrTerminated)
	}
	if inv, ok := a.inflight[key]; ok {
		a.logger.Debug(ctx, "joining in-flight invocation", "checkpoint_id", key.String())
		return inv
	}

	inv := newInvocation(ctx, a, id, req.Input)
	a.inflight[key] = inv
	go inv.drive()
	return inv
}

// Close cancels every in-flight invocation with ErrTerminated. Later calls to Invoke are
// rejected with the same error.
func (a *Activity) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	running := make([]*Invocation, 0, len(a.inflight))
	for _, inv := range a.inflight {
		running = append(running, inv)
	}
	a.mu.Unlock()

	for _, inv := range running {
		inv.Cancel(types.ErrTerminated)
	}
}

func (a *Activity) release(inv *Invocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := inv.id.CheckpointID()
	if cur, ok := a.inflight[key]; ok && cur == inv {
		delete(a.inflight, key)
	}
}

func rejected(id types.StateID, err error) *Invocation {
	inv := &Invocation{
		id:     id,
		ctx:    context.Background(),
		cancel: func(error) {},
		result: future.Rejected[[]byte](err),
	}
	inv.state.Store(types.StateRejected)
	return inv
}

// Context is the worker context the activity dispatches to.
func (a *Activity) Context() *cluster.WorkerContext {
	return a.cfg.Context
}
