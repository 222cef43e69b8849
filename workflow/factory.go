package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/davidroman0O/durex/activity"
	"github.com/davidroman0O/durex/internal/hash"
)

// Factory builds stages bound to one execution.
type Factory struct {
	rt          *runtime
	executionID string
}

func (f *Factory) ExecutionID() string {
	return f.executionID
}

func (f *Factory) WorkflowID() string {
	return f.rt.workflowID
}

// ActivityOptions configures a stage. ID names the activity in checkpoint keys and
// defaults to Script.
type ActivityOptions[In any] struct {
	Script  string
	ID      string
	Timeout time.Duration
	// InvocationID derives the invocation id from the input. It defaults to a hash of the
	// canonical JSON of the input, so equal inputs within an execution share a checkpoint.
	InvocationID func(In) string
}

// Stage is one typed step. Stages are plain functions.
type Stage[In, Out any] func(ctx context.Context, in In) (Out, error)

// Activity returns a stage that invokes opts.Script for the factory's execution.
func Activity[In, Out any](f *Factory, opts ActivityOptions[In]) Stage[In, Out] {
	id := opts.ID
	if id == "" {
		id = opts.Script
	}
	return func(ctx context.Context, in In) (Out, error) {
		var zero Out

		act, err := f.rt.activity(id, opts.Script, opts.Timeout)
		if err != nil {
			return zero, err
		}

		var invocationID string
		if opts.InvocationID != nil {
			invocationID = opts.InvocationID(in)
		} else if invocationID, err = hash.Value(in); err != nil {
			return zero, fmt.Errorf("hashing input of %s: %w", id, err)
		}

		data, err := f.rt.codec.Marshal(in)
		if err != nil {
			return zero, fmt.Errorf("encoding input of %s: %w", id, err)
		}

		out, err := act.Invoke(ctx, activity.Request{
			ExecutionID:  f.executionID,
			InvocationID: invocationID,
			Input:        data,
		}).Result(ctx)
		if err != nil {
			return zero, err
		}

		var result Out
		if err := f.rt.codec.Unmarshal(out, &result); err != nil {
			return zero, fmt.Errorf("decoding output of %s: %w", id, err)
		}
		return result, nil
	}
}

// Entry is the first stage of a chain.
func Entry[In, Out any](f *Factory, script string, timeout time.Duration) Stage[In, Out] {
	return Activity[In, Out](f, ActivityOptions[In]{Script: script, Timeout: timeout})
}

// FollowedBy chains a stage consuming the output of s.
//
//	c := workflow.FollowedBy[string](f, workflow.FollowedBy[int](f, a, "b", t), "c", t)
func FollowedBy[Next, In, Out any](f *Factory, s Stage[In, Out], script string, timeout time.Duration) Stage[In, Next] {
	return Then(s, Activity[Out, Next](f, ActivityOptions[Out]{Script: script, Timeout: timeout}))
}

// Then runs b on the output of a.
func Then[A, B, C any](a Stage[A, B], b Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, in A) (C, error) {
		mid, err := a(ctx, in)
		if err != nil {
			var zero C
			return zero, err
		}
		return b(ctx, mid)
	}
}
