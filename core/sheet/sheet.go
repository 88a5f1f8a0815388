// Package sheet turns uploaded spreadsheets into grade records.
//
// Every source is normalized to a grid of text cells: row 0 holds the headers,
// row 1 the maximum score of each assessment and the following rows one student each.
package sheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/trezcool/gradebook/core/grade"
)

// ParseError reports a source that could not be read as a spreadsheet.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return "unreadable spreadsheet: " + e.Err.Error()
	}
	return fmt.Sprintf("unreadable spreadsheet %q: %s", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Source is anything that can be read into a grid of cells.
type Source interface {
	rows() ([][]string, error)
	name() string
}

// Table is a parsed spreadsheet.
type Table struct {
	Headers []string
	Maxima  grade.AssessmentMaxima
	Records []grade.RawRecord
}

// StudentNumbers returns the distinct non-empty student numbers in record order.
func (t *Table) StudentNumbers() []string {
	seen := make(map[string]bool, len(t.Records))
	numbers := make([]string, 0, len(t.Records))
	for _, rec := range t.Records {
		if n := rec.StudentNumber(); n.Valid && !seen[n.String] {
			seen[n.String] = true
			numbers = append(numbers, n.String)
		}
	}
	return numbers
}

// Parse reads `src` into a Table. Any read failure aborts the whole parse.
func Parse(src Source) (*Table, error) {
	rows, err := src.rows()
	if err != nil {
		return nil, &ParseError{Source: src.name(), Err: err}
	}
	rows = trimBlankRows(rows)
	if len(rows) == 0 {
		return nil, &ParseError{Source: src.name(), Err: fmt.Errorf("no header row")}
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	table := &Table{
		Headers: headers,
		Maxima:  grade.AssessmentMaxima{},
		Records: make([]grade.RawRecord, 0, len(rows)),
	}
	if len(rows) > 1 {
		table.Maxima = parseMaxima(headers, rows[1])
	}
	for _, row := range rows[min(2, len(rows)):] {
		table.Records = append(table.Records, grade.NewRawRecord(headers, row))
	}
	return table, nil
}

// parseMaxima floors every numeric cell of the maxima row.
// Blank, non-numeric and negative cells leave their column without maximum.
// For duplicated headers the first numeric cell wins, as it does for grades.
func parseMaxima(headers, row []string) grade.AssessmentMaxima {
	maxima := grade.AssessmentMaxima{}
	for i, h := range headers {
		if i >= len(row) {
			break
		}
		if maxima.Has(h) {
			continue
		}
		v, ok := grade.ParseScore(row[i])
		if !ok || v < 0 || v > math.MaxInt32 {
			continue
		}
		maxima[h] = int(math.Floor(v))
	}
	return maxima
}

func trimBlankRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && isBlank(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// formatCell renders a cell value as text: numbers in their shortest decimal form,
// booleans as "true"/"false", strings trimmed and anything else as "".
func formatCell(v interface{}) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatNumber(v)
	case float32:
		return formatNumber(float64(v))
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case fmt.Stringer:
		// json.Number and friends
		s := strings.TrimSpace(v.String())
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return formatNumber(f)
		}
		return ""
	default:
		return ""
	}
}

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
