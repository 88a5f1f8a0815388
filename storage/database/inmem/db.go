// Package inmemdb is an in-memory implementation of the repositories.
//
// Committed data is an immutable snapshot: a transaction works on a private copy that
// replaces the snapshot on commit, so readers never observe its writes early.
package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/core/user"
)

type tables struct {
	users         map[string]user.User
	classes       map[string]batch.Class
	batches       map[string]batch.Batch
	records       map[string]map[string]batch.GradeRecord // batch id -> student number -> record
	notifications []notify.Notification
}

func newTables() *tables {
	return &tables{
		users:   make(map[string]user.User),
		classes: make(map[string]batch.Class),
		batches: make(map[string]batch.Batch),
		records: make(map[string]map[string]batch.GradeRecord),
	}
}

// clone deep-copies the tables.
func (t *tables) clone() *tables {
	c := newTables()
	for id, u := range t.users {
		c.users[id] = copyUser(u)
	}
	for id, cl := range t.classes {
		c.classes[id] = cl
	}
	for id, b := range t.batches {
		c.batches[id] = copyBatch(b)
	}
	for batchID, recs := range t.records {
		m := make(map[string]batch.GradeRecord, len(recs))
		for n, rec := range recs {
			m[n] = copyRecord(rec)
		}
		c.records[batchID] = m
	}
	c.notifications = append([]notify.Notification(nil), t.notifications...)
	return c
}

// DB holds the committed snapshot.
type DB struct {
	mu     sync.RWMutex
	data   *tables
	writer sync.Mutex // one transaction at a time
}

func Open() *DB {
	return &DB{data: newTables()}
}

func (db *DB) snapshot() *tables {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.data
}

// update runs fn on a copy of the snapshot and publishes it when fn succeeds.
func (db *DB) update(fn func(*tables) error) error {
	db.writer.Lock()
	defer db.writer.Unlock()

	working := db.snapshot().clone()
	if err := fn(working); err != nil {
		return err
	}
	db.mu.Lock()
	db.data = working
	db.mu.Unlock()
	return nil
}

// access is how repositories reach the tables: the committed snapshot, or a transaction's copy.
type access interface {
	read() *tables
	write(fn func(*tables) error) error
}

type live struct{ db *DB }

func (a live) read() *tables                        { return a.db.snapshot() }
func (a live) write(fn func(*tables) error) error { return a.db.update(fn) }

type txCopy struct{ t *tables }

func (a txCopy) read() *tables                        { return a.t }
func (a txCopy) write(fn func(*tables) error) error { return fn(a.t) }

// Store implements batch.TxStore.
type Store struct {
	db  *DB
	acc access
}

var _ batch.TxStore = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{db: db, acc: live{db: db}}
}

func (s *Store) Batches() batch.Repository      { return &batchRepository{acc: s.acc} }
func (s *Store) Classes() batch.ClassRepository { return &classRepository{acc: s.acc} }
func (s *Store) Users() user.Repository         { return &userRepository{acc: s.acc} }

// WithinTx runs fn on a private copy published only when fn returns nil.
// Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(batch.Store) error) error {
	if _, inTx := s.acc.(txCopy); inTx {
		return fn(s)
	}
	return s.db.update(func(t *tables) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(&Store{db: s.db, acc: txCopy{t: t}})
	})
}

// View runs fn on the current snapshot. fn must not write.
func (s *Store) View(ctx context.Context, fn func(batch.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, inTx := s.acc.(txCopy); inTx {
		return fn(s)
	}
	return fn(&Store{db: s.db, acc: txCopy{t: s.db.snapshot()}})
}

func copyUser(u user.User) user.User {
	if u.Student != nil {
		s := *u.Student
		u.Student = &s
	}
	if u.Teacher != nil {
		t := *u.Teacher
		u.Teacher = &t
	}
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return u
}

func copyBatch(b batch.Batch) batch.Batch {
	b.Headers = append([]string(nil), b.Headers...)
	b.Maxima = b.Maxima.Clone()
	visible := make(map[string]bool, len(b.Visible))
	for k, v := range b.Visible {
		if v {
			visible[k] = true
		}
	}
	b.Visible = visible
	b.StudentIDs = append([]string(nil), b.StudentIDs...)
	return b
}

func copyRecord(r batch.GradeRecord) batch.GradeRecord {
	grades := make(map[string]string, len(r.Grades))
	for k, v := range r.Grades {
		grades[k] = v
	}
	r.Grades = grades
	return r
}
