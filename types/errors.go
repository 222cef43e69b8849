package types

import (
	"errors"
	"fmt"
)

var (
	ErrCheckpointUnavailable = errors.New("durex: checkpoint unavailable")
	ErrRemoteException       = errors.New("durex: remote exception")
	ErrTimeout               = errors.New("durex: timed out")
	ErrTerminated            = errors.New("durex: terminated")
	ErrChannelClosed         = errors.New("durex: channel closed")
	ErrUnknownActivity       = errors.New("durex: unknown activity")
)

var (
	// ErrClusterClosed is returned for contexts requested after the cluster shut down.
	ErrClusterClosed = fmt.Errorf("%w: cluster closed", ErrTerminated)
	// ErrWorkerExited fails invocations still pending when a worker runtime stops on its own.
	ErrWorkerExited = fmt.Errorf("%w: worker exited", ErrTerminated)
)

// RemoteError carries an exception reported by a worker.
type RemoteError struct {
	StateID StateID
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("durex: remote exception [%s]: %s", e.StateID.CheckpointID(), e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteException
}
