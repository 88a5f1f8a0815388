// Package batch stores uploaded grade spreadsheets and reconciles new uploads against them.
package batch

import (
	"fmt"
	"sort"
	"time"

	"github.com/trezcool/gradebook/core/grade"
)

// Mode selects how an upload is reconciled with the stored batch.
type Mode string

const (
	// ModeMerge overwrites the grades of matching students and enrolls new ones.
	ModeMerge Mode = "merge"
	// ModeReplace drops every stored record and enrolls exactly the uploaded roster.
	ModeReplace Mode = "replace"
)

// ParseMode defaults to ModeMerge.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("unknown upload mode %q", s)
}

// GradeRecord is the grades of one student in a batch.
type GradeRecord struct {
	ID            string            `json:"id"`
	BatchID       string            `json:"batch_id"`
	StudentID     string            `json:"student_id"`
	StudentNumber string            `json:"student_number"`
	Grades        map[string]string `json:"grades"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Raw rebuilds the spreadsheet row of the record.
func (r GradeRecord) Raw() grade.RawRecord {
	return grade.RecordFromMap(r.Grades)
}

// Batch is the stored spreadsheet of a class. It owns its grade records.
type Batch struct {
	ID         string                 `json:"id"`
	ClassID    string                 `json:"class_id"`
	Headers    []string               `json:"headers"`
	Maxima     grade.AssessmentMaxima `json:"maxima"`
	Visible    map[string]bool        `json:"-"`
	StudentIDs []string               `json:"student_ids"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// VisibleAssessments returns the sorted visible assessment names.
func (b Batch) VisibleAssessments() []string {
	names := make([]string, 0, len(b.Visible))
	for name, ok := range b.Visible {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsEnrolled reports whether the student is part of the batch's roster.
func (b Batch) IsEnrolled(studentID string) bool {
	for _, id := range b.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// pruneVisible drops visible names that no longer have a maximum and returns them.
func (b *Batch) pruneVisible() []string {
	var dropped []string
	for name := range b.Visible {
		if !b.Maxima.Has(name) {
			dropped = append(dropped, name)
			delete(b.Visible, name)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Class is a course taught by one teacher, graded with one scheme and owning at most one batch.
type Class struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	TeacherID     string    `json:"teacher_id" db:"teacher_id"`
	GradingScheme string    `json:"grading_scheme" db:"grading_scheme"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Report summarizes the grades of a class.
type Report struct {
	ClassID     string             `json:"class_id"`
	BatchID     string             `json:"batch_id"`
	Scheme      grade.Scheme       `json:"scheme"`
	Average     float64            `json:"average"`
	Stats       grade.Stats        `json:"stats"`
	Assessments map[string]float64 `json:"assessments"`
}
