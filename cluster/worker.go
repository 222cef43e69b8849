package cluster

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/types"
	"github.com/davidroman0O/retrypool"
)

var errKilled = errors.New("durex: worker killed")

type task struct {
	id   types.StateID
	data []byte
}

// worker is the isolated execution context of one script. It only talks to the cluster
// through encoded frames on inbox and outbox.
type worker struct {
	script  string
	handler Handler
	logger  logs.Logger

	inbox  chan []byte
	outbox chan []byte

	ctx    context.Context
	cancel context.CancelCauseFunc
	pool   *retrypool.Pool[*task]

	inflight sync.WaitGroup
	exited   chan struct{}
	exitErr  error
}

func startWorker(script string, handler Handler, concurrency int, logger logs.Logger) *worker {
	ctx, cancel := context.WithCancelCause(context.Background())
	w := &worker{
		script:  script,
		handler: handler,
		logger:  logger,
		inbox:   make(chan []byte, 64),
		outbox:  make(chan []byte, 64),
		ctx:     ctx,
		cancel:  cancel,
		exited:  make(chan struct{}),
	}

	runners := make([]retrypool.Worker[*task], concurrency)
	for i := range runners {
		runners[i] = &runner{w: w}
	}

	w.pool = retrypool.New(
		ctx,
		runners,
		retrypool.WithAttempts[*task](1), // a failed invocation is reported, never retried here
		retrypool.WithPanicHandler[*task](w.onPanic),
	)

	go w.loop()
	return w
}

// send hands a frame to the worker. It fails once the worker has exited.
func (w *worker) send(frame []byte) error {
	select {
	case <-w.exited:
		return types.ErrWorkerExited
	default:
	}
	select {
	case w.inbox <- frame:
		return nil
	case <-w.exited:
		return types.ErrWorkerExited
	}
}

// kill stops the worker without waiting for in-flight invocations.
func (w *worker) kill() {
	w.cancel(errKilled)
}

func (w *worker) loop() {
	defer w.finish()
	for {
		select {
		case <-w.ctx.Done():
			return
		case frame := <-w.inbox:
			msg, err := protocol.Decode(frame)
			if err != nil {
				w.logger.Warn(w.ctx, "worker dropped malformed frame", "script", w.script, "error", err)
				continue
			}
			if stop := w.handle(msg); stop {
				return
			}
		}
	}
}

func (w *worker) handle(msg protocol.Message) (stop bool) {
	switch m := msg.(type) {
	case protocol.Setup:
		sh, ok := w.handler.(SetupHandler)
		if !ok {
			return false
		}
		if err := sh.OnSetup(w.ctx, m.Data); err != nil {
			w.logger.Error(w.ctx, "worker setup failed", "script", w.script, "error", err)
			w.exitErr = err
			return true
		}
	case protocol.Signal:
		if sh, ok := w.handler.(SignalHandler); ok {
			return sh.OnSignal(w.ctx, m.Value)
		}
		if m.Value == protocol.SignalTerminate {
			w.logger.Debug(w.ctx, "worker terminating", "script", w.script)
			return true
		}
	case protocol.Input:
		w.inflight.Add(1)
		if err := w.pool.Submit(&task{id: m.StateID, data: m.Data}); err != nil {
			w.inflight.Done()
			w.reply(protocol.Exception{StateID: m.StateID, Message: fmt.Sprintf("submit: %v", err)})
		}
	default:
		w.logger.Warn(w.ctx, "worker ignored message", "script", w.script, "kind", string(msg.Kind()))
	}
	return false
}

func (w *worker) finish() {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-w.ctx.Done():
	}

	w.cancel(errKilled)
	go func() {
		if err := w.pool.Shutdown(); err != nil {
			w.logger.Debug(context.Background(), "worker pool shutdown", "script", w.script, "error", err)
		}
	}()
	close(w.exited)
}

func (w *worker) reply(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		w.logger.Error(w.ctx, "worker could not encode reply", "script", w.script, "error", err)
		return
	}
	select {
	case w.outbox <- frame:
	case <-w.ctx.Done():
	}
}

// invoke runs the handler and turns its result, error or panic into a reply.
func (w *worker) invoke(t *task) (msg protocol.Message) {
	defer func() {
		if v := recover(); v != nil {
			msg = protocol.Exception{
				StateID: t.id,
				Message: fmt.Sprintf("panic: %v", v),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	out, err := w.handler.Handle(w.ctx, t.data)
	if err != nil {
		return protocol.Exception{StateID: t.id, Message: err.Error(), Stack: fmt.Sprintf("%+v", err)}
	}
	return protocol.Output{StateID: t.id, Data: out}
}

func (w *worker) onPanic(t *task, v interface{}, stackTrace string) {
	w.logger.Error(w.ctx, "worker task panicked", "script", w.script, "checkpoint_id", t.id.CheckpointID().String(), "panic", v)
	w.logger.Debug(w.ctx, stackTrace)
}

type runner struct {
	w *worker
}

func (r *runner) Run(ctx context.Context, t *task) error {
	defer r.w.inflight.Done()
	r.w.reply(r.w.invoke(t))
	return nil
}
