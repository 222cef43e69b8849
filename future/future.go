package future

import (
	"context"
	"sync"
)

// Future is a single-assignment result. The first Resolve or Reject wins, later calls are no-ops.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already settled with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.Resolve(value)
	return f
}

// Rejected returns a future already settled with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

func (f *Future[T]) settle(value T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Resolve reports whether this call settled the future.
func (f *Future[T]) Resolve(value T) bool {
	return f.settle(value, nil)
}

// Reject reports whether this call settled the future.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future settles or ctx ends.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Result returns the settled value without blocking. ok is false while pending.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	if !f.Settled() {
		return value, nil, false
	}
	return f.value, f.err, true
}

// Then maps a future once it settles. Errors pass through untouched.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	go func() {
		<-f.done
		if f.err != nil {
			out.Reject(f.err)
			return
		}
		v, err := fn(f.value)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(v)
	}()
	return out
}
