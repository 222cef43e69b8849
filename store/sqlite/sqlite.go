package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davidroman0O/comfylite3"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	activity_id TEXT NOT NULL,
	invocation_id TEXT NOT NULL,
	value BLOB,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS checkpoints_execution ON checkpoints (workflow_id, execution_id)`,
	`CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	params BLOB,
	leased INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS signals_pending ON signals (queue, leased, id)`,
}

type config struct {
	path        *string
	destructive bool
	poll        time.Duration
	logger      logs.Logger
}

type Option func(*config)

// WithPath stores the database at path. Without it the database lives in memory.
func WithPath(path string) Option {
	return func(c *config) {
		c.path = &path
	}
}

func WithMemory() Option {
	return func(c *config) {
		c.path = nil
	}
}

// WithDestructive removes the database file before opening it.
func WithDestructive() Option {
	return func(c *config) {
		c.destructive = true
	}
}

// WithPollInterval sets how often an empty signal queue is checked again.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.poll = d
	}
}

func WithLogger(logger logs.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// DB is a SQLite database holding both checkpoints and durable signal queues.
type DB struct {
	comfy  *comfylite3.ComfyDB
	db     *sql.DB
	poll   time.Duration
	logger logs.Logger
}

var (
	_ store.Store  = (*DB)(nil)
	_ store.Lister = (*DB)(nil)
)

func Open(ctx context.Context, opts ...Option) (*DB, error) {
	cfg := config{poll: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logs.Default()
	}

	optsComfy := []comfylite3.ComfyOption{}

	if cfg.path != nil {
		if cfg.destructive {
			cfg.logger.Debug(ctx, "destructive option triggered", "path", *cfg.path)
			if err := os.Remove(*cfg.path); err != nil && !os.IsNotExist(err) {
				cfg.logger.Error(ctx, "error removing database file", "path", *cfg.path, "error", err)
				return nil, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(*cfg.path), os.ModePerm); err != nil {
			cfg.logger.Error(ctx, "error creating directory", "path", *cfg.path, "error", err)
			return nil, err
		}
		optsComfy = append(optsComfy, comfylite3.WithPath(*cfg.path))
	} else {
		optsComfy = append(optsComfy, comfylite3.WithMemory())
	}

	comfy, err := comfylite3.New(optsComfy...)
	if err != nil {
		cfg.logger.Error(ctx, "error opening database", "error", err)
		return nil, err
	}

	db := comfylite3.OpenDB(
		comfy,
		comfylite3.WithOption("_fk=1"),
		comfylite3.WithOption("cache=shared"),
		comfylite3.WithOption("mode=rwc"),
		comfylite3.WithForeignKeys(),
	)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			cfg.logger.Error(ctx, "error creating schema", "error", err)
			db.Close()
			comfy.Close()
			return nil, err
		}
	}

	// Signals leased by a process that died before acknowledging them go back to the queue.
	res, err := db.ExecContext(ctx, `UPDATE signals SET leased = 0 WHERE leased = 1`)
	if err != nil {
		db.Close()
		comfy.Close()
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		cfg.logger.Info(ctx, "requeued unacknowledged signals", "count", n)
	}

	return &DB{comfy: comfy, db: db, poll: cfg.poll, logger: cfg.logger}, nil
}

func (d *DB) Save(ctx context.Context, id types.StateID, value []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (id, workflow_id, execution_id, activity_id, invocation_id, value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.Key(), id.WorkflowID, id.ExecutionID, id.ActivityID, id.InvocationID, value, time.Now().UTC())
	if err != nil {
		d.logger.Error(ctx, "checkpoint save failed", "checkpoint_id", id.CheckpointID().String(), "error", err)
		return errors.Join(types.ErrCheckpointUnavailable, err)
	}
	return nil
}

func (d *DB) Restore(ctx context.Context, id types.StateID) (store.Checkpoint, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE id = ?`, id.Key()).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.Checkpoint{}, nil
	case err != nil:
		d.logger.Error(ctx, "checkpoint restore failed", "checkpoint_id", id.CheckpointID().String(), "error", err)
		return store.Checkpoint{}, errors.Join(types.ErrCheckpointUnavailable, err)
	}
	if value == nil {
		value = []byte{}
	}
	return store.Checkpoint{Exists: true, Value: value}, nil
}

// Checkpoints lists the checkpoints of one execution in insertion order.
func (d *DB) Checkpoints(ctx context.Context, workflowID, executionID string) ([]types.StateID, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT workflow_id, execution_id, activity_id, invocation_id FROM checkpoints
		 WHERE workflow_id = ? AND execution_id = ? ORDER BY created_at, rowid`,
		workflowID, executionID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []types.StateID
	for rows.Next() {
		var id types.StateID
		if err := rows.Scan(&id.WorkflowID, &id.ExecutionID, &id.ActivityID, &id.InvocationID); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) Close() error {
	err := d.db.Close()
	d.comfy.Close()
	return err
}
