package grade

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FirstDataRow is the spreadsheet row number (1-based) of the first student record:
// row 1 holds the headers and row 2 the maxima.
const FirstDataRow = 3

// Violation describes one grade above its declared maximum.
type Violation struct {
	Message       string  `json:"message"`
	Row           int     `json:"row"` // 0 for a record already stored in the batch
	StudentNumber string  `json:"student_number"`
	Assessment    string  `json:"assessment"`
	Actual        float64 `json:"actual"`
	Max           float64 `json:"max"`
}

// ValidationFailure carries every violation found in a batch.
type ValidationFailure struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationFailure) Error() string {
	switch len(e.Violations) {
	case 0:
		return "grade validation failed"
	case 1:
		return e.Violations[0].Message
	default:
		return fmt.Sprintf("%d grades exceed their maximum; first: %s", len(e.Violations), e.Violations[0].Message)
	}
}

// Validate checks every numeric grade of every record against its column maximum.
// Non-numeric grades (letter grades, "Incomplete") are tolerated. All violations are returned at once.
func Validate(records []RawRecord, maxima AssessmentMaxima) error {
	return ValidateWithStored(records, nil, maxima)
}

// ValidateStored checks records already in a batch. They have no spreadsheet row, so their
// violations carry Row 0.
func ValidateStored(stored []RawRecord, maxima AssessmentMaxima) error {
	return ValidateWithStored(nil, stored, maxima)
}

// ValidateWithStored checks an upload together with the stored records it keeps.
// Upload violations come first, numbered by spreadsheet row.
func ValidateWithStored(uploaded, stored []RawRecord, maxima AssessmentMaxima) error {
	var violations []Violation
	for i, rec := range uploaded {
		violations = append(violations, check(rec, i+FirstDataRow, maxima)...)
	}
	for _, rec := range stored {
		violations = append(violations, check(rec, 0, maxima)...)
	}
	if len(violations) > 0 {
		return &ValidationFailure{Violations: violations}
	}
	return nil
}

// check validates one record; row 0 marks a stored record.
func check(rec RawRecord, row int, maxima AssessmentMaxima) []Violation {
	var violations []Violation
	number := rec.StudentNumber().String
	for j, col := range rec.Headers {
		max, ok := maxima[col]
		if !ok || IsIdentityField(col) || j >= len(rec.Values) {
			continue
		}
		score, ok := ParseScore(rec.Values[j])
		if !ok || score <= float64(max) {
			continue
		}
		where := fmt.Sprintf("row %d", row)
		if row == 0 {
			where = "stored grade"
		}
		violations = append(violations, Violation{
			Message: fmt.Sprintf(
				"%s: %s of student %q is %s, above the maximum of %d",
				where, col, number, strconv.FormatFloat(score, 'f', -1, 64), max),
			Row:           row,
			StudentNumber: number,
			Assessment:    col,
			Actual:        score,
			Max:           float64(max),
		})
	}
	return violations
}

// ValidateMaxima rejects negative maxima.
func ValidateMaxima(maxima AssessmentMaxima) error {
	var violations []Violation
	for _, name := range maxima.Names() {
		if max := maxima[name]; max < 0 {
			violations = append(violations, Violation{
				Message:    fmt.Sprintf("maximum of %s must not be negative, got %d", name, max),
				Assessment: name,
				Max:        float64(max),
			})
		}
	}
	if len(violations) > 0 {
		return &ValidationFailure{Violations: violations}
	}
	return nil
}

// ParseScore parses a finite numeric grade; blank and qualitative values are not scores.
func ParseScore(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
