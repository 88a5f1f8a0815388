package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/core/sheet"
	"github.com/trezcool/gradebook/core/user"
)

// Notifier debounces visibility events; implemented by *notify.Debouncer.
type Notifier interface {
	Scheduler
	FlushNow(key notify.Key) bool
	CancelBatch(batchID string) int
}

// Service exposes ingestion, grade computation and visibility operations.
type Service struct {
	store      TxStore
	reconciler *Reconciler
	visibility *Visibility
	notifier   Notifier
	logger     core.Logger
	now        func() time.Time
}

func NewService(conf *core.Config, store TxStore, notifier Notifier, logger core.Logger) *Service {
	return &Service{
		store:      store,
		reconciler: NewReconciler(logger, conf.PlaceholderEmail),
		visibility: NewVisibility(store, notifier),
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ParseAndValidate parses `src` and validates every grade against the maxima row.
func (svc *Service) ParseAndValidate(src sheet.Source) (*sheet.Table, error) {
	table, err := sheet.Parse(src)
	if err != nil {
		return nil, err
	}
	if err := grade.Validate(table.Records, table.Maxima); err != nil {
		return nil, err
	}
	return table, nil
}

// CreateClass creates a class taught by an existing teacher. A non-empty scheme must parse.
func (svc *Service) CreateClass(ctx context.Context, name, teacherID, scheme string) (Class, error) {
	if scheme != "" {
		if _, err := grade.ParseScheme(scheme); err != nil {
			return Class{}, err
		}
	}
	var class Class
	err := svc.store.WithinTx(ctx, func(store Store) error {
		teacher, err := store.Users().GetUserByID(ctx, teacherID)
		if err != nil {
			return errors.Wrapf(err, "teacher %s", teacherID)
		}
		if !teacher.IsTeacher() {
			return errors.Wrapf(user.ErrNotFound, "teacher %s", teacherID)
		}
		now := svc.now()
		class, err = store.Classes().CreateClass(ctx, Class{
			ID:            uuid.NewString(),
			Name:          core.CleanString(name),
			TeacherID:     teacher.ID,
			GradingScheme: scheme,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return err
	})
	if err != nil {
		return Class{}, reconciliationError("", "", err)
	}
	return class, nil
}

// SetGradingScheme replaces the scheme of a class. When the class has a batch, every
// assessment of the scheme must have a maximum in it.
func (svc *Service) SetGradingScheme(ctx context.Context, classID, scheme string) (Class, error) {
	parsed, err := grade.ParseScheme(scheme)
	if err != nil {
		return Class{}, err
	}
	var class Class
	err = svc.store.WithinTx(ctx, func(store Store) error {
		c, err := store.Classes().GetClass(ctx, classID)
		if err != nil {
			return err
		}
		b, err := store.Batches().GetBatchByClass(ctx, classID)
		switch {
		case err == nil:
			if err := parsed.Check(b.Maxima); err != nil {
				return err
			}
		case !errors.Is(err, ErrBatchNotFound):
			return err
		}
		c.GradingScheme = scheme
		c.UpdatedAt = svc.now()
		class, err = store.Classes().UpdateClass(ctx, c)
		return err
	})
	if err != nil {
		return Class{}, err
	}
	return class, nil
}

func (svc *Service) GetClass(ctx context.Context, classID string) (Class, error) {
	return svc.store.Classes().GetClass(ctx, classID)
}

func (svc *Service) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	return svc.store.Batches().GetBatch(ctx, batchID)
}

// ClassBatch returns the batch of a class.
func (svc *Service) ClassBatch(ctx context.Context, classID string) (Batch, error) {
	var b Batch
	err := svc.store.View(ctx, func(store Store) (err error) {
		_, b, err = classBatch(ctx, store, classID)
		return err
	})
	return b, err
}

// Upload parses, validates and stores a spreadsheet for a class, creating its batch on
// the first upload and reconciling later ones with `mode`.
func (svc *Service) Upload(ctx context.Context, classID string, mode Mode, src sheet.Source) (Batch, error) {
	table, err := svc.ParseAndValidate(src)
	if err != nil {
		return Batch{}, err
	}

	var before, after Batch
	err = svc.store.WithinTx(ctx, func(store Store) error {
		if _, err := store.Classes().GetClass(ctx, classID); err != nil {
			return err
		}
		b, err := store.Batches().GetBatchByClass(ctx, classID)
		switch {
		case errors.Is(err, ErrBatchNotFound):
			now := svc.now()
			b, err = store.Batches().CreateBatch(ctx, Batch{
				ID:        uuid.NewString(),
				ClassID:   classID,
				Headers:   table.Headers,
				Maxima:    table.Maxima.Clone(),
				Visible:   map[string]bool{},
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return errors.Wrap(err, "creating batch")
			}
			mode = ModeReplace
		case err != nil:
			return err
		}
		before = b
		after, err = svc.reconciler.Reconcile(ctx, store, b, mode, table)
		return err
	})
	if err != nil {
		return Batch{}, reconciliationError("", classID, err)
	}

	svc.emitHidden(before, after)
	svc.logger.Info("grades uploaded", map[string]interface{}{
		"class_id": classID, "batch_id": after.ID, "mode": mode, "rows": len(table.Records),
	})
	return after, nil
}

// Reconcile applies a parsed table to an existing batch. The table is validated against its
// own maxima first; nothing is written when validation fails.
func (svc *Service) Reconcile(ctx context.Context, batchID string, mode Mode, table *sheet.Table) (Batch, error) {
	if err := grade.Validate(table.Records, table.Maxima); err != nil {
		return Batch{}, err
	}

	var before, after Batch
	err := svc.store.WithinTx(ctx, func(store Store) error {
		b, err := store.Batches().GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		before = b
		after, err = svc.reconciler.Reconcile(ctx, store, b, mode, table)
		return err
	})
	if err != nil {
		return Batch{}, reconciliationError(batchID, "", err)
	}
	svc.emitHidden(before, after)
	return after, nil
}

// UpdateMaxima replaces the maxima of a batch after validating every stored record against them.
func (svc *Service) UpdateMaxima(ctx context.Context, batchID string, maxima grade.AssessmentMaxima) (Batch, error) {
	if err := grade.ValidateMaxima(maxima); err != nil {
		return Batch{}, err
	}

	var before, after Batch
	err := svc.store.WithinTx(ctx, func(store Store) error {
		b, err := store.Batches().GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		records, err := store.Batches().ListRecords(ctx, batchID)
		if err != nil {
			return err
		}
		raws := make([]grade.RawRecord, 0, len(records))
		for _, rec := range records {
			raws = append(raws, rec.Raw())
		}
		if err := grade.ValidateStored(raws, maxima); err != nil {
			return err
		}

		before = b
		b.Maxima = maxima.Clone()
		b.Visible = copyVisible(b.Visible)
		b.pruneVisible()
		b.UpdatedAt = svc.now()
		after, err = store.Batches().UpdateBatch(ctx, b)
		return err
	})
	if err != nil {
		return Batch{}, reconciliationError(batchID, "", err)
	}
	svc.emitHidden(before, after)
	return after, nil
}

// DeleteBatch deletes a batch with its records and drops its pending notifications.
func (svc *Service) DeleteBatch(ctx context.Context, batchID string) error {
	err := svc.store.WithinTx(ctx, func(store Store) error {
		return store.Batches().DeleteBatch(ctx, batchID)
	})
	if err != nil {
		return err
	}
	if n := svc.notifier.CancelBatch(batchID); n > 0 {
		svc.logger.Info("pending notifications cancelled", map[string]interface{}{"batch_id": batchID, "count": n})
	}
	return nil
}

// ComputeGrade returns the weighted grade of a student under the scheme of the class.
func (svc *Service) ComputeGrade(ctx context.Context, studentNumber, classID string) (float64, error) {
	var (
		class Class
		b     Batch
		rec   GradeRecord
	)
	err := svc.store.View(ctx, func(store Store) (err error) {
		if class, b, err = classBatch(ctx, store, classID); err != nil {
			return err
		}
		rec, err = store.Batches().GetRecordByNumber(ctx, b.ID, studentNumber)
		return err
	})
	if err != nil {
		return 0, err
	}
	return grade.Calculate(rec.Grades, class.GradingScheme, b.Maxima)
}

// ComputeClassAverage returns the mean grade of the students enrolled in the class.
func (svc *Service) ComputeClassAverage(ctx context.Context, classID string) (float64, error) {
	class, b, students, err := svc.enrolledGrades(ctx, classID)
	if err != nil {
		return 0, err
	}
	scheme, err := grade.ParseScheme(class.GradingScheme)
	if err != nil {
		return 0, err
	}
	return scheme.ClassAverage(students, b.Maxima)
}

// StudentView returns the identity fields and visible grades of a student.
func (svc *Service) StudentView(ctx context.Context, studentNumber, classID string) (map[string]string, error) {
	var (
		b   Batch
		rec GradeRecord
	)
	err := svc.store.View(ctx, func(store Store) (err error) {
		if _, b, err = classBatch(ctx, store, classID); err != nil {
			return err
		}
		rec, err = store.Batches().GetRecordByNumber(ctx, b.ID, studentNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grade.FilterVisible(rec.Grades, b.Visible), nil
}

// ClassReport returns the class average with statistics of the student grades and the
// mean percentage of every assessment.
func (svc *Service) ClassReport(ctx context.Context, classID string) (Report, error) {
	class, b, students, err := svc.enrolledGrades(ctx, classID)
	if err != nil {
		return Report{}, err
	}
	scheme, err := grade.ParseScheme(class.GradingScheme)
	if err != nil {
		return Report{}, err
	}
	avg, err := scheme.ClassAverage(students, b.Maxima)
	if err != nil {
		return Report{}, err
	}

	values := make([]float64, 0, len(students))
	for _, grades := range students {
		g, err := scheme.Grade(grades, b.Maxima)
		if err != nil {
			return Report{}, err
		}
		values = append(values, g)
	}
	return Report{
		ClassID:     class.ID,
		BatchID:     b.ID,
		Scheme:      scheme,
		Average:     avg,
		Stats:       grade.Summarize(values),
		Assessments: grade.AssessmentAverages(students, b.Maxima),
	}, nil
}

// SetAssessmentVisibility makes exactly `names` visible to the students of the batch.
func (svc *Service) SetAssessmentVisibility(ctx context.Context, batchID string, names []string) (Batch, error) {
	return svc.visibility.SetVisible(ctx, batchID, names)
}

// ToggleAssessmentVisibility flips one assessment and reports whether it is now visible.
func (svc *Service) ToggleAssessmentVisibility(ctx context.Context, batchID, name string) (Batch, bool, error) {
	return svc.visibility.Toggle(ctx, batchID, name)
}

// ScheduleVisibilityNotification queues a notification about an assessment of a batch.
func (svc *Service) ScheduleVisibilityNotification(ctx context.Context, batchID, assessment string, kind notify.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown visibility change %q", kind)
	}
	b, err := svc.store.Batches().GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := checkNames(b, assessment); err != nil {
		return err
	}
	svc.notifier.Schedule(notify.Event{Key: notify.Key{BatchID: batchID, Assessment: assessment}, Kind: kind})
	return nil
}

// FlushVisibilityNotification dispatches the pending notification of an assessment now.
// It returns false when nothing was pending.
func (svc *Service) FlushVisibilityNotification(batchID, assessment string) bool {
	return svc.notifier.FlushNow(notify.Key{BatchID: batchID, Assessment: assessment})
}

func (svc *Service) enrolledGrades(ctx context.Context, classID string) (Class, Batch, []map[string]string, error) {
	var (
		class    Class
		b        Batch
		students []map[string]string
	)
	err := svc.store.View(ctx, func(store Store) (err error) {
		if class, b, err = classBatch(ctx, store, classID); err != nil {
			return err
		}
		records, err := store.Batches().ListRecords(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if b.IsEnrolled(rec.StudentID) {
				students = append(students, rec.Grades)
			}
		}
		return nil
	})
	return class, b, students, err
}

// emitHidden notifies about assessments that lost their visibility in a batch update.
func (svc *Service) emitHidden(before, after Batch) {
	var hidden []string
	for _, name := range before.VisibleAssessments() {
		if !after.Visible[name] {
			hidden = append(hidden, name)
		}
	}
	svc.visibility.emit(removedEvents(after.ID, hidden)...)
}

func classBatch(ctx context.Context, store Store, classID string) (Class, Batch, error) {
	class, err := store.Classes().GetClass(ctx, classID)
	if err != nil {
		return Class{}, Batch{}, err
	}
	b, err := store.Batches().GetBatchByClass(ctx, classID)
	if err != nil {
		return Class{}, Batch{}, err
	}
	return class, b, nil
}

func copyVisible(visible map[string]bool) map[string]bool {
	c := make(map[string]bool, len(visible))
	for k, v := range visible {
		if v {
			c[k] = true
		}
	}
	return c
}

// reconciliationError wraps failures of a write path; validation failures are returned as is.
func reconciliationError(batchID, classID string, err error) error {
	var (
		failure *grade.ValidationFailure
		calc    *grade.CalculationError
	)
	if errors.As(err, &failure) || errors.As(err, &calc) {
		return err
	}
	return &ReconciliationError{BatchID: batchID, ClassID: classID, Err: err}
}
