package memory

import (
	"context"
	"errors"

	"github.com/davidroman0O/durex/store"
	"github.com/davidroman0O/durex/types"
	"github.com/hashicorp/go-memdb"
)

const table = "checkpoints"

type record struct {
	Key         string
	WorkflowID  string
	ExecutionID string
	StateID     types.StateID
	Value       []byte
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
				"execution": {
					Name:         "execution",
					AllowMissing: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "WorkflowID"},
							&memdb.StringFieldIndex{Field: "ExecutionID"},
						},
					},
				},
			},
		},
	},
}

// Store keeps checkpoints in process memory. Nothing survives a restart.
type Store struct {
	db *memdb.MemDB
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)

func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, id types.StateID, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	// The value is copied so later changes to the caller's buffer leave the checkpoint untouched.
	stored := make([]byte, len(value))
	copy(stored, value)

	if err := txn.Insert(table, &record{Key: id.Key(), WorkflowID: id.WorkflowID, ExecutionID: id.ExecutionID, StateID: id, Value: stored}); err != nil {
		return errors.Join(types.ErrCheckpointUnavailable, err)
	}
	txn.Commit()
	return nil
}

func (s *Store) Restore(ctx context.Context, id types.StateID) (store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return store.Checkpoint{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(table, "id", id.Key())
	if err != nil {
		return store.Checkpoint{}, errors.Join(types.ErrCheckpointUnavailable, err)
	}
	if raw == nil {
		return store.Checkpoint{}, nil
	}
	rec := raw.(*record)
	return store.Checkpoint{Exists: true, Value: rec.Value}, nil
}

// Checkpoints lists every checkpoint saved for one execution of a workflow.
func (s *Store) Checkpoints(ctx context.Context, workflowID, executionID string) ([]types.StateID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, "execution", workflowID, executionID)
	if err != nil {
		return nil, err
	}
	var ids []types.StateID
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ids = append(ids, obj.(*record).StateID)
	}
	return ids, nil
}

// Len is the number of stored checkpoints.
func (s *Store) Len() int {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, "id")
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
