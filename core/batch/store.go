package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/trezcool/gradebook/core/user"
)

var (
	ErrBatchNotFound  = errors.New("batch not found")
	ErrClassNotFound  = errors.New("class not found")
	ErrRecordNotFound = errors.New("grade record not found")
	ErrBatchExists    = errors.New("class already has a batch")
)

// Repository stores batches, their enrollment and their grade records.
type Repository interface {
	GetBatch(ctx context.Context, id string) (Batch, error)
	GetBatchByClass(ctx context.Context, classID string) (Batch, error)
	CreateBatch(ctx context.Context, b Batch) (Batch, error)
	// UpdateBatch saves the headers, maxima, visibility and enrollment of the batch.
	UpdateBatch(ctx context.Context, b Batch) (Batch, error)
	// DeleteBatch deletes the batch and all of its records.
	DeleteBatch(ctx context.Context, id string) error

	ListRecords(ctx context.Context, batchID string) ([]GradeRecord, error)
	GetRecordByNumber(ctx context.Context, batchID, studentNumber string) (GradeRecord, error)
	// SaveRecord inserts or updates the record of (BatchID, StudentNumber).
	SaveRecord(ctx context.Context, rec GradeRecord) (GradeRecord, error)
	DeleteRecords(ctx context.Context, batchID string) (int, error)
}

type ClassRepository interface {
	GetClass(ctx context.Context, id string) (Class, error)
	ListClasses(ctx context.Context, teacherID string) ([]Class, error)
	CreateClass(ctx context.Context, c Class) (Class, error)
	UpdateClass(ctx context.Context, c Class) (Class, error)
}

// Store groups the repositories a reconciliation works with.
type Store interface {
	Batches() Repository
	Classes() ClassRepository
	Users() user.Repository
}

// TxStore runs `fn` against a Store whose writes commit together when fn returns nil
// and are discarded otherwise. Readers outside the transaction never see its writes early.
type TxStore interface {
	Store
	WithinTx(ctx context.Context, fn func(Store) error) error
	// View runs read-only `fn` against one consistent snapshot.
	View(ctx context.Context, fn func(Store) error) error
}

// ReconciliationError reports an upload that could not be applied; nothing was written.
type ReconciliationError struct {
	BatchID string
	ClassID string
	Err     error
}

func (e *ReconciliationError) Error() string {
	switch {
	case e.BatchID != "":
		return fmt.Sprintf("reconciling batch %s: %v", e.BatchID, e.Err)
	case e.ClassID != "":
		return fmt.Sprintf("reconciling upload of class %s: %v", e.ClassID, e.Err)
	}
	return "reconciling upload: " + e.Err.Error()
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// VisibilityError reports assessment names unknown to a batch. Nothing was changed.
type VisibilityError struct {
	BatchID     string
	Unknown     []string
	Suggestions map[string]string
}

func (e *VisibilityError) Error() string {
	msg := fmt.Sprintf("batch %s has no assessment named %q", e.BatchID, e.Unknown)
	if len(e.Unknown) == 1 {
		msg = fmt.Sprintf("batch %s has no assessment named %q", e.BatchID, e.Unknown[0])
		if s := e.Suggestions[e.Unknown[0]]; s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
	}
	return msg
}
