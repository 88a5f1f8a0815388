// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/user"
)

const uniqueViolation = "23505"

// Store binds the repositories to the database, or to one transaction inside WithinTx.
type Store struct {
	db   core.DB
	exec core.DBExecutor
}

var _ batch.TxStore = (*Store)(nil)

func NewStore(db core.DB) *Store {
	return &Store{db: db, exec: db}
}

func (s *Store) Batches() batch.Repository      { return &batchRepository{exec: s.exec} }
func (s *Store) Classes() batch.ClassRepository { return &classRepository{exec: s.exec} }
func (s *Store) Users() user.Repository         { return &userRepository{exec: s.exec} }

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(batch.Store) error) error {
	return s.run(ctx, nil, fn)
}

// View runs fn in a read-only repeatable-read transaction.
func (s *Store) View(ctx context.Context, fn func(batch.Store) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(batch.Store) error) (err error) {
	if _, inTx := s.exec.(*sqlx.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if errors.Is(err, sql.ErrConnDone) {
		return core.NewShutdownError("database connection closed", err)
	}
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&Store{db: s.db, exec: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	return int(n), err
}

func newID() string { return uuid.NewString() }
