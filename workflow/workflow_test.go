package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/signal"
	"github.com/davidroman0O/durex/store/memory"
	"github.com/davidroman0O/durex/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	a, b, c atomic.Int32
	failB   atomic.Bool
}

func linearRegistry(t *testing.T, n *counters) *cluster.Registry {
	t.Helper()
	r, err := cluster.NewBuilder().
		Activity("a", cluster.Func(func(ctx context.Context, x int) (int, error) {
			n.a.Add(1)
			return x + 1, nil
		})).
		Activity("b", cluster.Func(func(ctx context.Context, y int) (int, error) {
			n.b.Add(1)
			if n.failB.Load() {
				return 0, errors.New("b crashed")
			}
			return y * 2, nil
		})).
		Activity("c", cluster.Func(func(ctx context.Context, z int) (string, error) {
			n.c.Add(1)
			return fmt.Sprintf("x = %d", z), nil
		})).
		Build()
	require.NoError(t, err)
	return r
}

func linear(ctx context.Context, f *Factory, x int) (string, error) {
	a := Entry[int, int](f, "a", time.Second)
	b := FollowedBy[int](f, a, "b", time.Second)
	c := FollowedBy[string](f, b, "c", time.Second)
	return c(ctx, x)
}

func newLinear(t *testing.T, n *counters, st *memory.Store) *Workflow[int, string] {
	t.Helper()
	c := cluster.New(linearRegistry(t, n), cluster.WithShutdownTimeout(50*time.Millisecond))
	wf, err := New(Config[int, string]{
		Cluster:    c,
		Store:      st,
		WorkflowID: "linear",
		Main:       linear,
	})
	require.NoError(t, err)
	t.Cleanup(wf.Close)
	return wf
}

func newMemory(t *testing.T) *memory.Store {
	t.Helper()
	st, err := memory.New()
	require.NoError(t, err)
	return st
}

func TestLinearChain(t *testing.T) {
	var n counters
	wf := newLinear(t, &n, newMemory(t))

	out, err := wf.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "x = 8", out)
}

func TestReplayAfterRestartSkipsCheckpointedStages(t *testing.T) {
	st := newMemory(t)

	var first counters
	first.failB.Store(true)
	wf := newLinear(t, &first, st)
	_, err := wf.Run(context.Background(), 3, "exec-1")
	var remote *types.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, int32(1), first.a.Load())
	wf.Close()

	// fresh cluster and activities, same store
	var second counters
	wf = newLinear(t, &second, st)
	out, err := wf.Run(context.Background(), 3, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "x = 8", out)
	assert.Equal(t, int32(0), second.a.Load())
	assert.Equal(t, int32(1), second.b.Load())
	assert.Equal(t, int32(1), second.c.Load())

	ids, err := st.Checkpoints(context.Background(), "linear", "exec-1")
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestFreeFormMain(t *testing.T) {
	var n counters
	st := newMemory(t)
	c := cluster.New(linearRegistry(t, &n), cluster.WithConcurrency(4))
	wf, err := New(Config[[]int, int]{
		Cluster:    c,
		Store:      st,
		WorkflowID: "fan-out",
		Main: func(ctx context.Context, f *Factory, xs []int) (int, error) {
			inc := Activity[int, int](f, ActivityOptions[int]{Script: "a", Timeout: time.Second})
			var (
				mu  sync.Mutex
				sum int
				wg  sync.WaitGroup
				bad error
			)
			for _, x := range xs {
				wg.Add(1)
				go func(x int) {
					defer wg.Done()
					v, err := inc(ctx, x)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						bad = err
						return
					}
					sum += v
				}(x)
			}
			wg.Wait()
			if bad != nil {
				return 0, bad
			}
			if sum > 10 {
				return Entry[int, int](f, "b", time.Second)(ctx, sum)
			}
			return sum, nil
		},
	})
	require.NoError(t, err)
	defer wf.Close()

	out, err := wf.Run(context.Background(), []int{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 28, out)
	assert.Equal(t, int32(4), n.a.Load())

	// equal inputs within one execution share a checkpoint
	out, err = wf.Run(context.Background(), []int{5, 5}, "same")
	require.NoError(t, err)
	assert.Equal(t, 24, out)
	assert.Equal(t, int32(5), n.a.Load())
}

func TestCustomInvocationID(t *testing.T) {
	var n counters
	st := newMemory(t)
	c := cluster.New(linearRegistry(t, &n))
	wf, err := New(Config[int, int]{
		Cluster:    c,
		Store:      st,
		WorkflowID: "custom",
		Main: func(ctx context.Context, f *Factory, x int) (int, error) {
			inc := Activity[int, int](f, ActivityOptions[int]{
				Script:       "a",
				ID:           "increment",
				InvocationID: func(int) string { return "fixed" },
			})
			first, err := inc(ctx, x)
			if err != nil {
				return 0, err
			}
			return inc(ctx, first)
		},
	})
	require.NoError(t, err)
	defer wf.Close()

	out, err := wf.Run(context.Background(), 1, "e")
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.Equal(t, int32(1), n.a.Load())

	ids, err := st.Checkpoints(context.Background(), "custom", "e")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "increment", ids[0].ActivityID)
	assert.Equal(t, "fixed", ids[0].InvocationID)
}

func TestCloseIsIdempotent(t *testing.T) {
	var n counters
	wf := newLinear(t, &n, newMemory(t))
	_, err := wf.Run(context.Background(), 1)
	require.NoError(t, err)

	var hooks atomic.Int32
	wf.OnClose(func() { hooks.Add(1) })
	wf.Close()
	wf.Close()
	assert.Equal(t, int32(1), hooks.Load())

	_, err = wf.Run(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config[int, int]{})
	assert.ErrorIs(t, err, ErrInvalidSetup)
}

func TestListenRunsSignals(t *testing.T) {
	var n counters
	wf := newLinear(t, &n, newMemory(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := signal.NewChannel[int, string](ctx, signal.NewMemoryQueue())

	type outcome struct {
		id     string
		params int
		err    error
		result string
	}
	seen := make(chan outcome, 1)
	stop := wf.Listen(ch, func(executionID string, params int, err error, result string) {
		seen <- outcome{executionID, params, err, result}
	})
	ch.Start()

	out, err := ch.PostSignal(context.Background(), 3, "sig-1").Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x = 8", out)

	got := <-seen
	assert.Equal(t, outcome{id: "sig-1", params: 3, result: "x = 8"}, got)

	stop()
	f := ch.PostSignal(context.Background(), 4)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, f.Settled())
	assert.Equal(t, 1, ch.Size())
}
