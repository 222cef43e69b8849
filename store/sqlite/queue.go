package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidroman0O/durex/signal"
	"github.com/sethvargo/go-retry"
)

var errEmpty = errors.New("queue empty")

// Queue is a durable signal queue stored in the signals table.
// Received rows are leased until acknowledged; Open releases leases left behind by a crash.
type Queue struct {
	db   *DB
	name string
}

var _ signal.Queue = (*Queue)(nil)

// Queue returns the named queue. Distinct names share the table but never each other's rows.
func (d *DB) Queue(name string) *Queue {
	return &Queue{db: d, name: name}
}

func (q *Queue) Enqueue(ctx context.Context, env signal.Envelope) error {
	_, err := q.db.db.ExecContext(ctx,
		`INSERT INTO signals (queue, execution_id, params, leased, created_at) VALUES (?, ?, ?, 0, ?)`,
		q.name, env.ExecutionID, env.Params, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue signal %s: %w", env.ExecutionID, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (signal.Delivery, error) {
	var delivery signal.Delivery

	err := retry.Do(ctx, retry.NewConstant(q.db.poll), func(ctx context.Context) error {
		d, err := q.lease(ctx)
		if errors.Is(err, errEmpty) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		delivery = d
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return signal.Delivery{}, context.Cause(ctx)
		}
		return signal.Delivery{}, err
	}
	return delivery, nil
}

func (q *Queue) lease(ctx context.Context) (signal.Delivery, error) {
	var (
		id          int64
		executionID string
		params      []byte
	)
	err := q.db.db.QueryRowContext(ctx,
		`SELECT id, execution_id, params FROM signals WHERE queue = ? AND leased = 0 ORDER BY id LIMIT 1`,
		q.name).Scan(&id, &executionID, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Delivery{}, errEmpty
	}
	if err != nil {
		return signal.Delivery{}, err
	}

	res, err := q.db.db.ExecContext(ctx, `UPDATE signals SET leased = 1 WHERE id = ? AND leased = 0`, id)
	if err != nil {
		return signal.Delivery{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// another receiver took it first
		return signal.Delivery{}, errEmpty
	}

	return signal.Delivery{
		Envelope: signal.Envelope{ExecutionID: executionID, Params: params},
		Ack: func(ctx context.Context) error {
			_, err := q.db.db.ExecContext(ctx, `DELETE FROM signals WHERE id = ?`, id)
			return err
		},
	}, nil
}

// Len counts the signals not yet acknowledged, leased or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE queue = ?`, q.name).Scan(&n)
	return n, err
}
