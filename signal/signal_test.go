package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateStartsClosed(t *testing.T) {
	g := NewGate()
	assert.False(t, g.IsOpen())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()
	g.Open()
	require.NoError(t, <-done)

	g.Close()
	assert.False(t, g.IsOpen())
	g.Open()
	g.Open()
	require.NoError(t, g.Wait(context.Background()))
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, Envelope{ExecutionID: fmt.Sprint(i)}))
	}
	assert.Equal(t, 3, q.Len())
	for i := 0; i < 3; i++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), d.ExecutionID)
		require.NoError(t, d.Ack(ctx))
	}

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue(ctx, Envelope{}), ErrQueueClosed)
}

func newChannel(t *testing.T, opts ...Option) (*Channel[int, int], *MemoryQueue) {
	t.Helper()
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewChannel[int, int](ctx, q, opts...)
	t.Cleanup(func() {
		cancel()
		ch.Wait()
	})
	return ch, q
}

func double(ctx context.Context, executionID string, n int) (int, error) {
	return n * 2, nil
}

func TestSignalsWaitForStartAndKeepOrder(t *testing.T) {
	ch, _ := newChannel(t, WithConcurrency(1))

	var mu sync.Mutex
	var order []int
	ch.OnSignal(func(ctx context.Context, executionID string, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	})

	futures := make([]*future.Future[int], 0, 3)
	for i := 1; i <= 3; i++ {
		futures = append(futures, ch.PostSignal(context.Background(), i))
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()
	assert.Equal(t, 3, ch.Size())

	ch.Start()
	for i, f := range futures {
		v, err := f.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i+1, v)
	}
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, order)
	mu.Unlock()
	assert.Equal(t, 0, ch.Size())
}

func TestUnlimitedHandlersStartInQueueOrder(t *testing.T) {
	ch, _ := newChannel(t)

	var mu sync.Mutex
	var order []int
	ch.OnSignal(func(ctx context.Context, executionID string, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	})

	const total = 500
	futures := make([]*future.Future[int], 0, total)
	for i := 0; i < total; i++ {
		futures = append(futures, ch.PostSignal(context.Background(), i))
	}
	ch.Start()
	for _, f := range futures {
		_, err := f.Get(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, total)
	for i, n := range order {
		require.Equal(t, i, n, "handler %d started out of order", n)
	}
}

func TestSizeTracksInFlight(t *testing.T) {
	ch, _ := newChannel(t)
	release := make(chan struct{})
	ch.OnSignal(func(ctx context.Context, executionID string, n int) (int, error) {
		<-release
		if n < 0 {
			return 0, errors.New("negative")
		}
		return n, nil
	})
	ch.Start()

	ok := ch.PostSignal(context.Background(), 1)
	bad := ch.PostSignal(context.Background(), -1)
	assert.Equal(t, 2, ch.Size())

	close(release)
	_, err := ok.Get(context.Background())
	require.NoError(t, err)
	_, err = bad.Get(context.Background())
	assert.EqualError(t, err, "negative")
	assert.Equal(t, 0, ch.Size())
}

func TestCloseRejectsPending(t *testing.T) {
	rec := logs.NewRecorder()
	ch, q := newChannel(t, WithLogger(rec))
	ch.OnSignal(double)

	f := ch.PostSignal(context.Background(), 4, "exec-1")
	ch.Close()

	_, err := f.Get(context.Background())
	assert.ErrorIs(t, err, types.ErrChannelClosed)
	assert.Equal(t, 0, ch.Size())

	_, err = ch.PostSignal(context.Background(), 5).Get(context.Background())
	assert.ErrorIs(t, err, types.ErrChannelClosed)

	// the signal stayed queued and runs on the next start, with nobody waiting for it
	ch.Start()
	require.Eventually(t, func() bool {
		return rec.Contains("WARN", "dangling")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestStaleUnsubscribeKeepsNewerHandler(t *testing.T) {
	ch, _ := newChannel(t)
	first := ch.OnSignal(func(ctx context.Context, executionID string, n int) (int, error) {
		return -1, nil
	})
	second := ch.OnSignal(double)
	first()
	ch.Start()

	v, err := ch.PostSignal(context.Background(), 21).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	second()
	f := ch.PostSignal(context.Background(), 1)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, f.Settled())

	ch.OnSignal(double)
	v, err = f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestExecutionIDIsPassedThrough(t *testing.T) {
	ch, _ := newChannel(t)
	seen := make(chan string, 2)
	ch.OnSignal(func(ctx context.Context, executionID string, n int) (int, error) {
		seen <- executionID
		return n, nil
	})
	ch.Start()

	_, err := ch.PostSignal(context.Background(), 1, "given").Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "given", <-seen)

	_, err = ch.PostSignal(context.Background(), 1).Get(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, <-seen)
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(ctx context.Context, env Envelope) error {
	return errors.New("queue unreachable")
}

func (brokenQueue) Receive(ctx context.Context) (Delivery, error) {
	<-ctx.Done()
	return Delivery{}, ctx.Err()
}

func TestEnqueueFailureRejectsAndForgets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewChannel[int, int](ctx, brokenQueue{})

	_, err := ch.PostSignal(context.Background(), 1).Get(context.Background())
	assert.EqualError(t, err, "queue unreachable")
	assert.Equal(t, 0, ch.Size())

	cancel()
	ch.Wait()
}
