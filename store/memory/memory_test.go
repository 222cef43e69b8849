package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/davidroman0O/durex/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveThenRestore(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	id := types.StateID{WorkflowID: "wf", ExecutionID: "ex", ActivityID: "a", InvocationID: "1"}

	cp, err := s.Restore(ctx, id)
	require.NoError(t, err)
	assert.False(t, cp.Exists)

	value := []byte(`4`)
	require.NoError(t, s.Save(ctx, id, value))
	value[0] = '9'

	cp, err = s.Restore(ctx, id)
	require.NoError(t, err)
	assert.True(t, cp.Exists)
	assert.Equal(t, []byte(`4`), cp.Value)
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)
	id := types.StateID{WorkflowID: "wf", ExecutionID: "ex", ActivityID: "a", InvocationID: "1"}

	require.NoError(t, s.Save(ctx, id, []byte(`1`)))
	require.NoError(t, s.Save(ctx, id, []byte(`2`)))

	cp, err := s.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(`2`), cp.Value)
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := types.StateID{WorkflowID: "wf", ExecutionID: "ex", ActivityID: "a", InvocationID: fmt.Sprint(i)}
			assert.NoError(t, s.Save(ctx, id, []byte(fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 64, s.Len())
	ids, err := s.Checkpoints(ctx, "wf", "ex")
	require.NoError(t, err)
	assert.Len(t, ids, 64)
}

func TestCheckpointsAreScopedToWorkflow(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	first := types.StateID{WorkflowID: "billing", ExecutionID: "ex", ActivityID: "a", InvocationID: "1"}
	other := types.StateID{WorkflowID: "shipping", ExecutionID: "ex", ActivityID: "a", InvocationID: "1"}
	require.NoError(t, s.Save(ctx, first, []byte(`1`)))
	require.NoError(t, s.Save(ctx, other, []byte(`2`)))

	ids, err := s.Checkpoints(ctx, "billing", "ex")
	require.NoError(t, err)
	assert.Equal(t, []types.StateID{first}, ids)

	ids, err = s.Checkpoints(ctx, "billing", "missing")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRestoreHonorsContext(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Restore(ctx, types.StateID{})
	assert.ErrorIs(t, err, context.Canceled)
}
