package future

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureSettlesOnce(t *testing.T) {
	f := New[int]()
	require.False(t, f.Settled())

	assert.True(t, f.Resolve(1))
	assert.False(t, f.Resolve(2))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureConcurrentSettle(t *testing.T) {
	f := New[int]()
	var wg sync.WaitGroup
	wins := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if f.Resolve(i) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1)
}

func TestFutureGetHonorsContext(t *testing.T) {
	f := New[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Settled())
}

func TestFutureResultWithoutBlocking(t *testing.T) {
	f := New[string]()
	_, _, ok := f.Result()
	assert.False(t, ok)

	boom := errors.New("boom")
	f.Reject(boom)
	_, err, ok := f.Result()
	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestThen(t *testing.T) {
	out := Then(Resolved(21), func(v int) (string, error) {
		return strconv.Itoa(v * 2), nil
	})
	v, err := out.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	boom := errors.New("boom")
	called := make(chan struct{}, 1)
	failed := Then(Rejected[int](boom), func(v int) (string, error) {
		called <- struct{}{}
		return "", nil
	})
	_, err = failed.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, called, 0)
}
