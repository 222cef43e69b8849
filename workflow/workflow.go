package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidroman0O/durex/activity"
	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/metrics"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/signal"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrClosed       = errors.New("durex: workflow closed")
	ErrInvalidSetup = errors.New("durex: invalid workflow setup")
)

// MainFunc is the body of a workflow. It builds stages from the factory and calls them.
type MainFunc[P, R any] func(ctx context.Context, f *Factory, params P) (R, error)

type Config[P, R any] struct {
	Cluster    *cluster.Cluster
	Store      store.Store
	WorkflowID string
	Main       MainFunc[P, R]
	// Codec encodes activity inputs and outputs. JSON by default.
	Codec   protocol.Codec
	Logger  logs.Logger
	Metrics *metrics.Metrics
}

// Workflow runs Main once per execution. Executions that reuse an execution id replay
// from the checkpoints of earlier runs.
type Workflow[P, R any] struct {
	main MainFunc[P, R]
	rt   *runtime
}

func New[P, R any](cfg Config[P, R]) (*Workflow[P, R], error) {
	var errs []error
	if cfg.Cluster == nil {
		errs = append(errs, errors.New("cluster is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.WorkflowID == "" {
		errs = append(errs, errors.New("workflow id is required"))
	}
	if cfg.Main == nil {
		errs = append(errs, errors.New("main is required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidSetup}, errs...)...)
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logs.Default()
	}

	rt := &runtime{
		cluster:    cfg.Cluster,
		store:      cfg.Store,
		workflowID: cfg.WorkflowID,
		codec:      cfg.Codec,
		logger:     cfg.Logger.WithFields(map[string]interface{}{"workflow_id": cfg.WorkflowID}),
		metrics:    cfg.Metrics,
		activities: make(map[string]*activity.Activity),
	}
	rt.hooks = append(rt.hooks, cfg.Cluster.Close)

	return &Workflow[P, R]{main: cfg.Main, rt: rt}, nil
}

func (w *Workflow[P, R]) ID() string {
	return w.rt.workflowID
}

// Run executes Main for params. Without an execution id a new one is generated.
func (w *Workflow[P, R]) Run(ctx context.Context, params P, executionID ...string) (R, error) {
	var zero R
	if w.rt.isClosed() {
		return zero, ErrClosed
	}

	id := ""
	if len(executionID) > 0 && executionID[0] != "" {
		id = executionID[0]
	} else {
		id = types.NewExecutionID()
	}

	start := time.Now()
	w.rt.logger.Debug(ctx, "workflow run", "execution_id", id)
	result, err := w.main(ctx, &Factory{rt: w.rt, executionID: id}, params)
	if err != nil {
		w.rt.logger.Warn(ctx, "workflow run failed", "execution_id", id, "error", err, "elapsed", time.Since(start).String())
		return zero, err
	}
	w.rt.logger.Info(ctx, "workflow run completed", "execution_id", id, "elapsed", time.Since(start).String())
	return result, nil
}

// Listener receives the outcome of every run triggered through Listen.
type Listener[P, R any] func(executionID string, params P, err error, result R)

// Listen runs the workflow for each signal delivered by ch. The returned func detaches it
// without touching the channel's lifecycle.
func (w *Workflow[P, R]) Listen(ch *signal.Channel[P, R], cb Listener[P, R]) func() {
	return ch.OnSignal(func(ctx context.Context, executionID string, params P) (R, error) {
		result, err := w.Run(ctx, params, executionID)
		if cb != nil {
			cb(executionID, params, err, result)
		}
		return result, err
	})
}

// OnClose registers a hook run by Close.
func (w *Workflow[P, R]) OnClose(hook func()) {
	w.rt.mu.Lock()
	defer w.rt.mu.Unlock()
	w.rt.hooks = append(w.rt.hooks, hook)
}

// Close runs every shutdown hook, the cluster's included. Calling it again does nothing.
func (w *Workflow[P, R]) Close() {
	w.rt.close()
}

// runtime is the state shared by a workflow and every factory it hands out.
type runtime struct {
	cluster    *cluster.Cluster
	store      store.Store
	workflowID string
	codec      protocol.Codec
	logger     logs.Logger
	metrics    *metrics.Metrics

	mu         deadlock.Mutex
	activities map[string]*activity.Activity
	hooks      []func()
	closed     bool
	once       sync.Once
}

func (rt *runtime) isClosed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.closed
}

// activity returns the activity for id, replacing it when its worker has exited.
func (rt *runtime) activity(id, script string, timeout time.Duration) (*activity.Activity, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, ErrClosed
	}

	key := fmt.Sprintf("%s|%s|%s", id, script, timeout)
	if act, ok := rt.activities[key]; ok {
		select {
		case <-act.Context().Exited():
			rt.logger.Debug(context.Background(), "replacing activity of exited worker", "activity_id", id)
		default:
			return act, nil
		}
	}

	wc, err := rt.cluster.GetContext(rt.store, script)
	if err != nil {
		return nil, err
	}
	act := activity.New(activity.Config{
		Context:    wc,
		Store:      rt.store,
		WorkflowID: rt.workflowID,
		ActivityID: id,
		Timeout:    timeout,
		Logger:     rt.logger,
		Metrics:    rt.metrics,
	})
	if _, ok := rt.activities[key]; !ok {
		rt.hooks = append(rt.hooks, func() { rt.closeActivity(key) })
	}
	rt.activities[key] = act
	return act, nil
}

func (rt *runtime) closeActivity(key string) {
	rt.mu.Lock()
	act := rt.activities[key]
	rt.mu.Unlock()
	if act != nil {
		act.Close()
	}
}

func (rt *runtime) close() {
	rt.once.Do(func() {
		rt.mu.Lock()
		rt.closed = true
		hooks := make([]func(), len(rt.hooks))
		copy(hooks, rt.hooks)
		rt.mu.Unlock()

		rt.logger.Debug(context.Background(), "closing workflow", "hooks", len(hooks))
		// activities first, the cluster was registered first and goes last
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	})
}
