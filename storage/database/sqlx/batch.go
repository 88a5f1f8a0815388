package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/grade"
)

type batchRow struct {
	ID        string         `db:"id"`
	ClassID   string         `db:"class_id"`
	Headers   types.JSONText `db:"headers"`
	Maxima    types.JSONText `db:"maxima"`
	Visible   types.JSONText `db:"visible"` // sorted array of names
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func toBatchRow(b batch.Batch) (batchRow, error) {
	row := batchRow{ID: b.ID, ClassID: b.ClassID, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt}
	var err error
	if row.Headers, err = marshal(nonNilStrings(b.Headers)); err != nil {
		return row, err
	}
	maxima := b.Maxima
	if maxima == nil {
		maxima = grade.AssessmentMaxima{}
	}
	if row.Maxima, err = marshal(maxima); err != nil {
		return row, err
	}
	row.Visible, err = marshal(nonNilStrings(b.VisibleAssessments()))
	return row, err
}

func (row batchRow) toBatch() (batch.Batch, error) {
	b := batch.Batch{
		ID:        row.ID,
		ClassID:   row.ClassID,
		Maxima:    grade.AssessmentMaxima{},
		Visible:   map[string]bool{},
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	var visible []string
	if err := row.Headers.Unmarshal(&b.Headers); err != nil {
		return b, errors.Wrap(err, "decoding headers")
	}
	if err := row.Maxima.Unmarshal(&b.Maxima); err != nil {
		return b, errors.Wrap(err, "decoding maxima")
	}
	if err := row.Visible.Unmarshal(&visible); err != nil {
		return b, errors.Wrap(err, "decoding visibility")
	}
	for _, name := range visible {
		b.Visible[name] = true
	}
	return b, nil
}

type recordRow struct {
	ID            string         `db:"id"`
	BatchID       string         `db:"batch_id"`
	StudentID     string         `db:"student_id"`
	StudentNumber string         `db:"student_number"`
	Grades        types.JSONText `db:"grades"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (row recordRow) toRecord() (batch.GradeRecord, error) {
	rec := batch.GradeRecord{
		ID:            row.ID,
		BatchID:       row.BatchID,
		StudentID:     row.StudentID,
		StudentNumber: row.StudentNumber,
		Grades:        map[string]string{},
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if err := row.Grades.Unmarshal(&rec.Grades); err != nil {
		return rec, errors.Wrap(err, "decoding grades")
	}
	return rec, nil
}

type batchRepository struct {
	exec core.DBExecutor
}

func (repo *batchRepository) get(ctx context.Context, where string, arg interface{}) (batch.Batch, error) {
	var row batchRow
	err := repo.exec.GetContext(ctx, &row, `SELECT * FROM "batches" WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.Batch{}, batch.ErrBatchNotFound
	}
	if err != nil {
		return batch.Batch{}, errors.Wrap(err, "selecting batch")
	}
	b, err := row.toBatch()
	if err != nil {
		return batch.Batch{}, err
	}
	if err = repo.exec.SelectContext(ctx, &b.StudentIDs,
		`SELECT "student_id" FROM "batch_students" WHERE "batch_id" = $1 ORDER BY "student_id"`, b.ID); err != nil {
		return batch.Batch{}, errors.Wrap(err, "selecting enrollment")
	}
	return b, nil
}

func (repo *batchRepository) GetBatch(ctx context.Context, id string) (batch.Batch, error) {
	return repo.get(ctx, `"id" = $1`, id)
}

func (repo *batchRepository) GetBatchByClass(ctx context.Context, classID string) (batch.Batch, error) {
	return repo.get(ctx, `"class_id" = $1`, classID)
}

func (repo *batchRepository) CreateBatch(ctx context.Context, b batch.Batch) (batch.Batch, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	row, err := toBatchRow(b)
	if err != nil {
		return batch.Batch{}, err
	}
	_, err = sqlx.NamedExecContext(ctx, repo.exec, `INSERT INTO "batches"
		("id", "class_id", "headers", "maxima", "visible", "created_at", "updated_at")
		VALUES (:id, :class_id, :headers, :maxima, :visible, :created_at, :updated_at)`, row)
	if isUniqueViolation(err) {
		return batch.Batch{}, batch.ErrBatchExists
	}
	if err != nil {
		return batch.Batch{}, errors.Wrap(err, "inserting batch")
	}
	if err = repo.enroll(ctx, b.ID, b.StudentIDs); err != nil {
		return batch.Batch{}, err
	}
	return repo.GetBatch(ctx, b.ID)
}

func (repo *batchRepository) UpdateBatch(ctx context.Context, b batch.Batch) (batch.Batch, error) {
	row, err := toBatchRow(b)
	if err != nil {
		return batch.Batch{}, err
	}
	res, err := sqlx.NamedExecContext(ctx, repo.exec, `UPDATE "batches" SET
		"headers" = :headers, "maxima" = :maxima, "visible" = :visible, "updated_at" = :updated_at
		WHERE "id" = :id`, row)
	if err != nil {
		return batch.Batch{}, errors.Wrap(err, "updating batch")
	}
	if n, err := rowsAffected(res); err != nil {
		return batch.Batch{}, err
	} else if n == 0 {
		return batch.Batch{}, batch.ErrBatchNotFound
	}

	if _, err = repo.exec.ExecContext(ctx, `DELETE FROM "batch_students" WHERE "batch_id" = $1`, b.ID); err != nil {
		return batch.Batch{}, errors.Wrap(err, "clearing enrollment")
	}
	if err = repo.enroll(ctx, b.ID, b.StudentIDs); err != nil {
		return batch.Batch{}, err
	}
	return repo.GetBatch(ctx, b.ID)
}

func (repo *batchRepository) enroll(ctx context.Context, batchID string, studentIDs []string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	_, err := repo.exec.ExecContext(ctx, `INSERT INTO "batch_students" ("batch_id", "student_id")
		SELECT $1, unnest($2::uuid[]) ON CONFLICT DO NOTHING`, batchID, pq.Array(studentIDs))
	return errors.Wrap(err, "enrolling students")
}

func (repo *batchRepository) DeleteBatch(ctx context.Context, id string) error {
	res, err := repo.exec.ExecContext(ctx, `DELETE FROM "batches" WHERE "id" = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting batch")
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return batch.ErrBatchNotFound
	}
	return nil
}

func (repo *batchRepository) ListRecords(ctx context.Context, batchID string) ([]batch.GradeRecord, error) {
	var rows []recordRow
	if err := repo.exec.SelectContext(ctx, &rows,
		`SELECT * FROM "grade_records" WHERE "batch_id" = $1 ORDER BY "student_number"`, batchID); err != nil {
		return nil, errors.Wrap(err, "selecting grade records")
	}
	records := make([]batch.GradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (repo *batchRepository) GetRecordByNumber(ctx context.Context, batchID, studentNumber string) (batch.GradeRecord, error) {
	var row recordRow
	err := repo.exec.GetContext(ctx, &row,
		`SELECT * FROM "grade_records" WHERE "batch_id" = $1 AND "student_number" = $2`, batchID, studentNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.GradeRecord{}, batch.ErrRecordNotFound
	}
	if err != nil {
		return batch.GradeRecord{}, errors.Wrap(err, "selecting grade record")
	}
	return row.toRecord()
}

func (repo *batchRepository) SaveRecord(ctx context.Context, rec batch.GradeRecord) (batch.GradeRecord, error) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	grades, err := marshal(rec.Grades)
	if err != nil {
		return batch.GradeRecord{}, err
	}
	row := recordRow{
		ID:            rec.ID,
		BatchID:       rec.BatchID,
		StudentID:     rec.StudentID,
		StudentNumber: rec.StudentNumber,
		Grades:        grades,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	q, args, err := sqlx.Named(`INSERT INTO "grade_records"
		("id", "batch_id", "student_id", "student_number", "grades", "created_at", "updated_at")
		VALUES (:id, :batch_id, :student_id, :student_number, :grades, :created_at, :updated_at)
		ON CONFLICT ("batch_id", "student_number") DO UPDATE SET
			"student_id" = EXCLUDED."student_id", "grades" = EXCLUDED."grades", "updated_at" = EXCLUDED."updated_at"
		RETURNING *`, row)
	if err != nil {
		return batch.GradeRecord{}, err
	}
	var saved recordRow
	if err = repo.exec.GetContext(ctx, &saved, repo.exec.Rebind(q), args...); err != nil {
		return batch.GradeRecord{}, errors.Wrap(err, "saving grade record")
	}
	return saved.toRecord()
}

func (repo *batchRepository) DeleteRecords(ctx context.Context, batchID string) (int, error) {
	res, err := repo.exec.ExecContext(ctx, `DELETE FROM "grade_records" WHERE "batch_id" = $1`, batchID)
	if err != nil {
		return 0, errors.Wrap(err, "deleting grade records")
	}
	return rowsAffected(res)
}

type classRepository struct {
	exec core.DBExecutor
}

func (repo *classRepository) GetClass(ctx context.Context, id string) (batch.Class, error) {
	var class batch.Class
	err := repo.exec.GetContext(ctx, &class, `SELECT * FROM "classes" WHERE "id" = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.Class{}, batch.ErrClassNotFound
	}
	if err != nil {
		return batch.Class{}, errors.Wrap(err, "selecting class")
	}
	return class, nil
}

func (repo *classRepository) ListClasses(ctx context.Context, teacherID string) ([]batch.Class, error) {
	classes := make([]batch.Class, 0)
	q, args := `SELECT * FROM "classes" ORDER BY "name", "id"`, []interface{}{}
	if teacherID != "" {
		q, args = `SELECT * FROM "classes" WHERE "teacher_id" = $1 ORDER BY "name", "id"`, []interface{}{teacherID}
	}
	if err := repo.exec.SelectContext(ctx, &classes, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting classes")
	}
	return classes, nil
}

func (repo *classRepository) CreateClass(ctx context.Context, c batch.Class) (batch.Class, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, `INSERT INTO "classes"
		("id", "name", "teacher_id", "grading_scheme", "created_at", "updated_at")
		VALUES (:id, :name, :teacher_id, :grading_scheme, :created_at, :updated_at)`, c); err != nil {
		return batch.Class{}, errors.Wrap(err, "inserting class")
	}
	return c, nil
}

func (repo *classRepository) UpdateClass(ctx context.Context, c batch.Class) (batch.Class, error) {
	res, err := sqlx.NamedExecContext(ctx, repo.exec, `UPDATE "classes" SET
		"name" = :name, "grading_scheme" = :grading_scheme, "updated_at" = :updated_at
		WHERE "id" = :id`, c)
	if err != nil {
		return batch.Class{}, errors.Wrap(err, "updating class")
	}
	if n, err := rowsAffected(res); err != nil {
		return batch.Class{}, err
	} else if n == 0 {
		return batch.Class{}, batch.ErrClassNotFound
	}
	return c, nil
}

func marshal(v interface{}) (types.JSONText, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding json column")
	}
	return types.JSONText(data), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
