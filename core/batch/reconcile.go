package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/sheet"
	"github.com/trezcool/gradebook/core/user"
)

// Reconciler applies a parsed upload to a stored batch. It must run inside a transaction:
// it validates before writing but does not undo its own writes.
type Reconciler struct {
	logger            core.Logger
	placeholderDomain string
	now               func() time.Time
}

func NewReconciler(logger core.Logger, placeholderDomain string) *Reconciler {
	return &Reconciler{
		logger:            logger,
		placeholderDomain: placeholderDomain,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile dispatches to Merge or Replace.
func (r *Reconciler) Reconcile(ctx context.Context, store Store, b Batch, mode Mode, table *sheet.Table) (Batch, error) {
	if mode == ModeReplace {
		return r.Replace(ctx, store, b, table)
	}
	return r.Merge(ctx, store, b, table)
}

// Merge overwrites the grade mapping of every uploaded student already in the batch,
// creates records (and student identities) for the others and adds them to the enrollment.
// Stored students missing from the upload keep their records and stay enrolled.
//
// Maxima of the upload override stored ones, so the records kept from earlier uploads are
// validated again against the merged maxima before anything is written.
func (r *Reconciler) Merge(ctx context.Context, store Store, b Batch, table *sheet.Table) (Batch, error) {
	existing, err := store.Batches().ListRecords(ctx, b.ID)
	if err != nil {
		return Batch{}, errors.Wrap(err, "listing records")
	}

	maxima := b.Maxima.Clone()
	if maxima == nil {
		maxima = grade.AssessmentMaxima{}
	}
	for name, max := range table.Maxima {
		maxima[name] = max
	}
	if err := r.validate(table, existing, maxima); err != nil {
		return Batch{}, err
	}

	byNumber := make(map[string]GradeRecord, len(existing))
	for _, rec := range existing {
		byNumber[rec.StudentNumber] = rec
	}
	touched, err := r.apply(ctx, store, b.ID, table.Records, byNumber)
	if err != nil {
		return Batch{}, err
	}

	b.Headers = mergeHeaders(b.Headers, table.Headers)
	b.Maxima = maxima
	b.StudentIDs = union(b.StudentIDs, touched)
	b.Visible = copyVisible(b.Visible)
	b.pruneVisible()
	return r.save(ctx, store, b)
}

// Replace deletes every record of the batch, then creates one per uploaded student.
// The enrollment becomes exactly the uploaded roster.
func (r *Reconciler) Replace(ctx context.Context, store Store, b Batch, table *sheet.Table) (Batch, error) {
	if err := r.validate(table, nil, table.Maxima); err != nil {
		return Batch{}, err
	}
	if _, err := store.Batches().DeleteRecords(ctx, b.ID); err != nil {
		return Batch{}, errors.Wrap(err, "deleting records")
	}

	touched, err := r.apply(ctx, store, b.ID, table.Records, map[string]GradeRecord{})
	if err != nil {
		return Batch{}, err
	}

	b.Headers = append([]string(nil), table.Headers...)
	b.Maxima = table.Maxima.Clone()
	b.StudentIDs = union(nil, touched)
	b.Visible = copyVisible(b.Visible)
	b.pruneVisible()
	return r.save(ctx, store, b)
}

func (r *Reconciler) validate(table *sheet.Table, kept []GradeRecord, maxima grade.AssessmentMaxima) error {
	uploaded := make(map[string]bool, len(table.Records))
	for _, n := range table.StudentNumbers() {
		uploaded[n] = true
	}
	stored := make([]grade.RawRecord, 0, len(kept))
	for _, rec := range kept {
		if !uploaded[rec.StudentNumber] {
			stored = append(stored, rec.Raw())
		}
	}
	return grade.ValidateWithStored(table.Records, stored, maxima)
}

// apply writes one record per uploaded student number and returns the touched student ids
// in upload order. `byNumber` is updated as records are written, so a number repeated in
// the upload overwrites its own earlier row.
func (r *Reconciler) apply(
	ctx context.Context,
	store Store,
	batchID string,
	rows []grade.RawRecord,
	byNumber map[string]GradeRecord,
) ([]string, error) {
	touched := make([]string, 0, len(rows))
	for i, row := range rows {
		id := row.Identity()
		if !id.Number.Valid {
			r.logger.Warn("skipping row without student number", map[string]interface{}{
				"batch_id": batchID,
				"row":      i + grade.FirstDataRow,
			})
			continue
		}
		number := id.Number.String

		student, err := r.findOrCreateStudent(ctx, store.Users(), id)
		if err != nil {
			return nil, errors.Wrapf(err, "student %s", number)
		}

		now := r.now()
		rec, ok := byNumber[number]
		if !ok {
			rec = GradeRecord{
				ID:            uuid.NewString(),
				BatchID:       batchID,
				StudentNumber: number,
				CreatedAt:     now,
			}
		}
		rec.StudentID = student.ID
		rec.Grades = row.Map()
		rec.UpdatedAt = now
		if rec, err = store.Batches().SaveRecord(ctx, rec); err != nil {
			return nil, errors.Wrapf(err, "saving record of student %s", number)
		}
		byNumber[number] = rec
		touched = append(touched, student.ID)
	}
	return touched, nil
}

// findOrCreateStudent returns the student of `id.Number`. A known student is renamed when
// the row carries a different, known name; an unknown one is created with a placeholder
// email and a password nobody knows.
func (r *Reconciler) findOrCreateStudent(ctx context.Context, users user.Repository, id grade.Identity) (user.User, error) {
	number := id.Number.String
	usr, err := users.FindStudentByNumber(ctx, number)
	switch {
	case err == nil:
		if rename(&usr, id) {
			usr.UpdatedAt = r.now()
			return users.UpdateUser(ctx, usr)
		}
		return usr, nil
	case !errors.Is(err, user.ErrNotFound):
		return user.User{}, err
	}

	usr = user.NewStudent(number, id.FirstName, id.LastName, user.PlaceholderEmail(number, r.placeholderDomain))
	if err := usr.SetTemporaryPassword(); err != nil {
		return user.User{}, err
	}
	created, err := users.CreateUser(ctx, usr)
	if errors.Is(err, user.ErrEmailExists) {
		// two numbers differing only in case or punctuation share a placeholder
		usr.Email = user.PlaceholderEmail(number+"-"+uuid.NewString()[:8], r.placeholderDomain)
		created, err = users.CreateUser(ctx, usr)
	}
	return created, err
}

func rename(usr *user.User, id grade.Identity) bool {
	if !usr.IsStudent() {
		return false
	}
	changed := false
	if id.FirstName != grade.UnknownName && id.FirstName != usr.Student.FirstName {
		usr.Student.FirstName = id.FirstName
		changed = true
	}
	if id.LastName != grade.UnknownName && id.LastName != usr.Student.LastName {
		usr.Student.LastName = id.LastName
		changed = true
	}
	return changed
}

func (r *Reconciler) save(ctx context.Context, store Store, b Batch) (Batch, error) {
	b.UpdatedAt = r.now()
	saved, err := store.Batches().UpdateBatch(ctx, b)
	if err != nil {
		return Batch{}, errors.Wrap(err, "saving batch")
	}
	return saved, nil
}

// mergeHeaders appends the headers of `upload` missing from `stored`, keeping both orders.
func mergeHeaders(stored, upload []string) []string {
	headers := append([]string(nil), stored...)
	seen := make(map[string]bool, len(stored))
	for _, h := range stored {
		seen[h] = true
	}
	for _, h := range upload {
		if !seen[h] {
			seen[h] = true
			headers = append(headers, h)
		}
	}
	return headers
}

// union returns the distinct ids of `a` then `b`, in order.
func union(a, b []string) []string {
	ids := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
