package activity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/types"
	"github.com/qmuntal/stateless"
)

// Invocation is one call of an activity. Only its driver goroutine fires transitions.
type Invocation struct {
	act   *Activity
	id    types.StateID
	input []byte

	ctx    context.Context
	cancel context.CancelCauseFunc
	result *future.Future[[]byte]

	fsm   *stateless.StateMachine
	state atomic.Value
}

func newInvocation(parent context.Context, act *Activity, id types.StateID, input []byte) *Invocation {
	ctx, cancel := context.WithCancelCause(parent)
	inv := &Invocation{
		act:    act,
		id:     id,
		input:  input,
		ctx:    ctx,
		cancel: cancel,
		result: future.New[[]byte](),
	}
	inv.state.Store(types.StateIdle)

	inv.fsm = stateless.NewStateMachine(types.StateIdle)
	inv.fsm.Configure(types.StateIdle).
		Permit(types.TriggerCheck, types.StateChecking).
		Permit(types.TriggerFail, types.StateRejected)

	inv.fsm.Configure(types.StateChecking).
		Permit(types.TriggerHit, types.StateResolved).
		Permit(types.TriggerMiss, types.StateDispatching).
		Permit(types.TriggerFail, types.StateRejected)

	inv.fsm.Configure(types.StateDispatching).
		Permit(types.TriggerSent, types.StateAwaiting).
		Permit(types.TriggerFail, types.StateRejected)

	inv.fsm.Configure(types.StateAwaiting).
		Permit(types.TriggerReply, types.StateResolved).
		Permit(types.TriggerFail, types.StateRejected).
		Permit(types.TriggerTimeout, types.StateTimedOut)

	inv.fsm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		dest, _ := t.Destination.(types.InvocationState)
		inv.state.Store(dest)
		inv.act.logger.Debug(ctx, "invocation transition",
			"checkpoint_id", inv.id.CheckpointID().String(),
			"from", fmt.Sprint(t.Source),
			"to", string(dest),
			"trigger", fmt.Sprint(t.Trigger))
	})
	return inv
}

func (inv *Invocation) ID() types.StateID {
	return inv.id
}

// Cancel aborts the invocation with cause unless it already settled.
func (inv *Invocation) Cancel(cause error) {
	inv.cancel(cause)
}

// Result blocks until the invocation settles or ctx ends.
func (inv *Invocation) Result(ctx context.Context) ([]byte, error) {
	return inv.result.Get(ctx)
}

func (inv *Invocation) Done() <-chan struct{} {
	return inv.result.Done()
}

func (inv *Invocation) State() types.InvocationState {
	s, _ := inv.state.Load().(types.InvocationState)
	return s
}

// Future exposes the result for composition.
func (inv *Invocation) Future() *future.Future[[]byte] {
	return inv.result
}

func (inv *Invocation) fire(trigger types.InvocationTrigger) {
	if err := inv.fsm.FireCtx(inv.ctx, trigger); err != nil {
		inv.act.logger.Error(inv.ctx, "invalid invocation transition",
			"checkpoint_id", inv.id.CheckpointID().String(),
			"trigger", string(trigger),
			"error", err)
	}
}

func (inv *Invocation) resolve(trigger types.InvocationTrigger, value []byte) {
	inv.fire(trigger)
	inv.result.Resolve(value)
}

func (inv *Invocation) reject(trigger types.InvocationTrigger, err error) {
	inv.fire(trigger)
	inv.result.Reject(err)
}

func (inv *Invocation) finish() {
	inv.act.release(inv)
	inv.cancel(context.Canceled)
	inv.act.cfg.Metrics.ObserveInvocation(inv.act.cfg.ActivityID, inv.State().Outcome())
}

func (inv *Invocation) drive() {
	defer inv.finish()
	inv.fire(types.TriggerCheck)

	cp, err := inv.act.cfg.Store.Restore(inv.ctx, inv.id)
	if err != nil {
		if inv.ctx.Err() != nil {
			inv.reject(types.TriggerFail, context.Cause(inv.ctx))
			return
		}
		inv.act.logger.Error(inv.ctx, "checkpoint restore failed", "checkpoint_id", inv.id.CheckpointID().String(), "error", err)
		if !errors.Is(err, types.ErrCheckpointUnavailable) {
			err = errors.Join(types.ErrCheckpointUnavailable, err)
		}
		inv.reject(types.TriggerFail, err)
		return
	}
	if cp.Exists {
		inv.act.cfg.Metrics.CheckpointHit(inv.act.cfg.ActivityID)
		inv.resolve(types.TriggerHit, cp.Value)
		return
	}
	if inv.ctx.Err() != nil {
		inv.reject(types.TriggerFail, context.Cause(inv.ctx))
		return
	}

	inv.fire(types.TriggerMiss)
	inv.dispatch()
}

func (inv *Invocation) dispatch() {
	wc := inv.act.cfg.Context
	if wc == nil {
		inv.reject(types.TriggerFail, fmt.Errorf("%w: no worker context for %s", types.ErrUnknownActivity, inv.act.cfg.ActivityID))
		return
	}

	var timer *time.Timer
	if timeout := inv.act.cfg.Timeout; timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			inv.cancel(fmt.Errorf("%w: %s got no reply within %s", types.ErrTimeout, inv.id.CheckpointID(), timeout))
		})
	}
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	rec := cluster.NewPending(inv.id, inv.ctx)
	rec.Store = inv.act.cfg.Store
	rec.OnReply = stop

	if err := wc.Register(rec); err != nil {
		stop()
		inv.reject(types.TriggerFail, err)
		return
	}
	if err := wc.Send(protocol.Input{StateID: inv.id, Data: inv.input}); err != nil {
		stop()
		wc.Forget(rec)
		inv.reject(types.TriggerFail, err)
		return
	}
	inv.fire(types.TriggerSent)

	select {
	case <-rec.Reply().Done():
	case <-inv.ctx.Done():
		// A reply accepted before the claim is still saving its checkpoint, so its outcome wins.
		if rec.Abandon() {
			wc.Forget(rec)
			cause := context.Cause(inv.ctx)
			if errors.Is(cause, types.ErrTimeout) {
				inv.act.logger.Warn(inv.ctx, "invocation timed out", "checkpoint_id", inv.id.CheckpointID().String())
				inv.reject(types.TriggerTimeout, cause)
			} else {
				inv.reject(types.TriggerFail, cause)
			}
			return
		}
		<-rec.Reply().Done()
	}
	stop()

	value, err, _ := rec.Reply().Result()
	if err != nil {
		inv.reject(types.TriggerFail, err)
		return
	}
	inv.resolve(types.TriggerReply, value)
}
