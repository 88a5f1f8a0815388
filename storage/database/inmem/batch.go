package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/grade"
)

type batchRepository struct {
	acc access
}

// stored normalizes a batch the way the database columns would.
func stored(b batch.Batch) batch.Batch {
	b = copyBatch(b)
	if b.Maxima == nil {
		b.Maxima = grade.AssessmentMaxima{}
	}
	b.StudentIDs = dedupSorted(b.StudentIDs)
	return b
}

func (repo *batchRepository) GetBatch(_ context.Context, id string) (batch.Batch, error) {
	if b, ok := repo.acc.read().batches[id]; ok {
		return copyBatch(b), nil
	}
	return batch.Batch{}, batch.ErrBatchNotFound
}

func (repo *batchRepository) GetBatchByClass(_ context.Context, classID string) (batch.Batch, error) {
	for _, b := range repo.acc.read().batches {
		if b.ClassID == classID {
			return copyBatch(b), nil
		}
	}
	return batch.Batch{}, batch.ErrBatchNotFound
}

func (repo *batchRepository) CreateBatch(_ context.Context, b batch.Batch) (batch.Batch, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b = stored(b)
	err := repo.acc.write(func(t *tables) error {
		for _, other := range t.batches {
			if other.ClassID == b.ClassID || other.ID == b.ID {
				return batch.ErrBatchExists
			}
		}
		t.batches[b.ID] = copyBatch(b)
		return nil
	})
	if err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}

func (repo *batchRepository) UpdateBatch(_ context.Context, b batch.Batch) (batch.Batch, error) {
	b = stored(b)
	err := repo.acc.write(func(t *tables) error {
		prev, ok := t.batches[b.ID]
		if !ok {
			return batch.ErrBatchNotFound
		}
		b.ClassID, b.CreatedAt = prev.ClassID, prev.CreatedAt
		t.batches[b.ID] = copyBatch(b)
		return nil
	})
	if err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}

func (repo *batchRepository) DeleteBatch(_ context.Context, id string) error {
	return repo.acc.write(func(t *tables) error {
		if _, ok := t.batches[id]; !ok {
			return batch.ErrBatchNotFound
		}
		delete(t.batches, id)
		delete(t.records, id)
		return nil
	})
}

func (repo *batchRepository) ListRecords(_ context.Context, batchID string) ([]batch.GradeRecord, error) {
	recs := repo.acc.read().records[batchID]
	records := make([]batch.GradeRecord, 0, len(recs))
	for _, rec := range recs {
		records = append(records, copyRecord(rec))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StudentNumber < records[j].StudentNumber })
	return records, nil
}

func (repo *batchRepository) GetRecordByNumber(_ context.Context, batchID, studentNumber string) (batch.GradeRecord, error) {
	if rec, ok := repo.acc.read().records[batchID][studentNumber]; ok {
		return copyRecord(rec), nil
	}
	return batch.GradeRecord{}, batch.ErrRecordNotFound
}

// SaveRecord keeps the id and creation time of an existing (batch, number) record.
func (repo *batchRepository) SaveRecord(_ context.Context, rec batch.GradeRecord) (batch.GradeRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec = copyRecord(rec)
	err := repo.acc.write(func(t *tables) error {
		if _, ok := t.batches[rec.BatchID]; !ok {
			return batch.ErrBatchNotFound
		}
		recs := t.records[rec.BatchID]
		if recs == nil {
			recs = make(map[string]batch.GradeRecord)
			t.records[rec.BatchID] = recs
		}
		if prev, ok := recs[rec.StudentNumber]; ok {
			rec.ID, rec.CreatedAt = prev.ID, prev.CreatedAt
		}
		recs[rec.StudentNumber] = copyRecord(rec)
		return nil
	})
	if err != nil {
		return batch.GradeRecord{}, err
	}
	return rec, nil
}

func (repo *batchRepository) DeleteRecords(_ context.Context, batchID string) (int, error) {
	var n int
	err := repo.acc.write(func(t *tables) error {
		n = len(t.records[batchID])
		delete(t.records, batchID)
		return nil
	})
	return n, err
}

type classRepository struct {
	acc access
}

func (repo *classRepository) GetClass(_ context.Context, id string) (batch.Class, error) {
	if c, ok := repo.acc.read().classes[id]; ok {
		return c, nil
	}
	return batch.Class{}, batch.ErrClassNotFound
}

func (repo *classRepository) ListClasses(_ context.Context, teacherID string) ([]batch.Class, error) {
	classes := make([]batch.Class, 0)
	for _, c := range repo.acc.read().classes {
		if teacherID == "" || c.TeacherID == teacherID {
			classes = append(classes, c)
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Name != classes[j].Name {
			return classes[i].Name < classes[j].Name
		}
		return classes[i].ID < classes[j].ID
	})
	return classes, nil
}

func (repo *classRepository) CreateClass(_ context.Context, c batch.Class) (batch.Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := repo.acc.write(func(t *tables) error {
		t.classes[c.ID] = c
		return nil
	})
	if err != nil {
		return batch.Class{}, err
	}
	return c, nil
}

func (repo *classRepository) UpdateClass(_ context.Context, c batch.Class) (batch.Class, error) {
	err := repo.acc.write(func(t *tables) error {
		prev, ok := t.classes[c.ID]
		if !ok {
			return batch.ErrClassNotFound
		}
		c.TeacherID, c.CreatedAt = prev.TeacherID, prev.CreatedAt
		t.classes[c.ID] = c
		return nil
	})
	if err != nil {
		return batch.Class{}, err
	}
	return c, nil
}

func dedupSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
