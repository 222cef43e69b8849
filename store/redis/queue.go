package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/davidroman0O/durex/signal"
)

// Queue is a reliable list queue. Receive moves an envelope from the pending list to the
// processing list in one step and Ack removes it from there.
type Queue struct {
	s    *Store
	name string
}

var _ signal.Queue = (*Queue)(nil)

// Queue returns the named queue after moving envelopes left in its processing list by a
// previous process back to the delivery end of the pending list.
func (s *Store) Queue(ctx context.Context, name string) (*Queue, error) {
	q := &Queue{s: s, name: name}
	n := 0
	for {
		err := s.client.LMove(ctx, s.processingKey(name), s.pendingKey(name), "LEFT", "RIGHT").Err()
		if err == goredis.Nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("durex/redis: recover queue %s: %w", name, err)
		}
		n++
	}
	if n > 0 {
		s.logger.Info(ctx, "requeued unacknowledged signals", "queue", name, "count", n)
	}
	return q, nil
}

func (q *Queue) Enqueue(ctx context.Context, env signal.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := q.s.client.LPush(ctx, q.s.pendingKey(q.name), raw).Err(); err != nil {
		return fmt.Errorf("durex/redis: enqueue signal %s: %w", env.ExecutionID, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (signal.Delivery, error) {
	for {
		raw, err := q.s.client.BLMove(ctx, q.s.pendingKey(q.name), q.s.processingKey(q.name), "RIGHT", "LEFT", q.s.block).Result()
		if err == goredis.Nil {
			if ctx.Err() != nil {
				return signal.Delivery{}, context.Cause(ctx)
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return signal.Delivery{}, context.Cause(ctx)
			}
			return signal.Delivery{}, fmt.Errorf("durex/redis: receive: %w", err)
		}

		var env signal.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Unreadable entries would block the queue forever.
			q.s.logger.Error(ctx, "dropping malformed signal", "queue", q.name, "error", err)
			q.s.client.LRem(ctx, q.s.processingKey(q.name), 1, raw)
			continue
		}

		return signal.Delivery{
			Envelope: env,
			Ack: func(ctx context.Context) error {
				return q.s.client.LRem(ctx, q.s.processingKey(q.name), 1, raw).Err()
			},
		}, nil
	}
}

// Len counts envelopes that are pending or delivered without acknowledgement.
func (q *Queue) Len(ctx context.Context) (int, error) {
	pending, err := q.s.client.LLen(ctx, q.s.pendingKey(q.name)).Result()
	if err != nil {
		return 0, err
	}
	processing, err := q.s.client.LLen(ctx, q.s.processingKey(q.name)).Result()
	if err != nil {
		return 0, err
	}
	return int(pending + processing), nil
}
