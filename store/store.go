package store

import (
	"context"

	"github.com/davidroman0O/durex/types"
)

// Checkpoint is the outcome of a Restore. Value is only meaningful when Exists is true.
type Checkpoint struct {
	Exists bool
	Value  []byte
}

// Store persists the result of each invocation under its StateID.
// Implementations must be safe for concurrent calls on distinct ids.
type Store interface {
	Save(ctx context.Context, id types.StateID, value []byte) error
	Restore(ctx context.Context, id types.StateID) (Checkpoint, error)
}

// Lister is implemented by stores that can enumerate the checkpoints of one execution.
type Lister interface {
	Checkpoints(ctx context.Context, workflowID, executionID string) ([]types.StateID, error)
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}

// Func adapts two functions into a Store. Tests use it to build slow or failing stores.
type Func struct {
	SaveFunc    func(ctx context.Context, id types.StateID, value []byte) error
	RestoreFunc func(ctx context.Context, id types.StateID) (Checkpoint, error)
}

func (f Func) Save(ctx context.Context, id types.StateID, value []byte) error {
	if f.SaveFunc == nil {
		return nil
	}
	return f.SaveFunc(ctx, id, value)
}

func (f Func) Restore(ctx context.Context, id types.StateID) (Checkpoint, error) {
	if f.RestoreFunc == nil {
		return Checkpoint{}, nil
	}
	return f.RestoreFunc(ctx, id)
}
