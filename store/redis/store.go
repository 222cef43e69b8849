// Package redis keeps checkpoints and durable signal queues in Redis.
//
// A checkpoint is one Hash per StateID. Each execution also owns a Set
// indexing its checkpoint keys. Signal queues are a pending List moved into a
// processing List on delivery and removed from it on ack.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
)

var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)

type Option func(*Store)

func WithLogger(l logs.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key. Tests use it to isolate runs sharing one server.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithBlockTimeout bounds a single blocking pop while receiving signals.
func WithBlockTimeout(d time.Duration) Option {
	return func(s *Store) { s.block = d }
}

// Store is a Redis-backed Store. The caller owns the client lifecycle.
type Store struct {
	client goredis.Cmdable
	prefix string
	block  time.Duration
	logger logs.Logger
}

func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, block: time.Second, logger: logs.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Save(ctx context.Context, id types.StateID, value []byte) error {
	key := s.checkpointKey(id.Key())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"workflow_id", id.WorkflowID,
		"execution_id", id.ExecutionID,
		"activity_id", id.ActivityID,
		"invocation_id", id.InvocationID,
		"value", string(value),
		"created_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, s.executionIndexKey(id.WorkflowID, id.ExecutionID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error(ctx, "checkpoint save failed", "checkpoint_id", id.CheckpointID().String(), "error", err)
		return errors.Join(types.ErrCheckpointUnavailable, fmt.Errorf("durex/redis: save checkpoint: %w", err))
	}
	return nil
}

func (s *Store) Restore(ctx context.Context, id types.StateID) (store.Checkpoint, error) {
	data, err := s.client.HGet(ctx, s.checkpointKey(id.Key()), "value").Result()
	if err != nil {
		if err == goredis.Nil {
			return store.Checkpoint{}, nil // no checkpoint is not an error
		}
		s.logger.Error(ctx, "checkpoint restore failed", "checkpoint_id", id.CheckpointID().String(), "error", err)
		return store.Checkpoint{}, errors.Join(types.ErrCheckpointUnavailable, fmt.Errorf("durex/redis: restore checkpoint: %w", err))
	}
	return store.Checkpoint{Exists: true, Value: []byte(data)}, nil
}

// Checkpoints lists the StateIDs saved for one execution, in no particular order.
func (s *Store) Checkpoints(ctx context.Context, workflowID, executionID string) ([]types.StateID, error) {
	keys, err := s.client.SMembers(ctx, s.executionIndexKey(workflowID, executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("durex/redis: list checkpoints: %w", err)
	}

	var ids []types.StateID
	for _, key := range keys {
		vals, getErr := s.client.HGetAll(ctx, key).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		ids = append(ids, types.StateID{
			WorkflowID:   vals["workflow_id"],
			ExecutionID:  vals["execution_id"],
			ActivityID:   vals["activity_id"],
			InvocationID: vals["invocation_id"],
		})
	}
	return ids, nil
}
