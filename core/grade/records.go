package grade

import (
	"sort"
	"strings"

	"github.com/volatiletech/null/v8"
)

// UnknownName is used when no first/last name alias is present in a record.
const UnknownName = "Unknown"

// Identity header aliases, in priority order.
var (
	StudentNumberAliases = []string{"Student Number", "StudentNumber"}
	FirstNameAliases     = []string{"First Name", "FIRST NAME", "FirstName", "FIRSTNAME"}
	LastNameAliases      = []string{"Last Name", "LAST NAME", "LastName", "LASTNAME"}
	FullNameAliases      = []string{"Name", "NAME"}

	reserved = buildReserved()
)

func buildReserved() map[string]bool {
	m := make(map[string]bool)
	for _, aliases := range [][]string{StudentNumberAliases, FirstNameAliases, LastNameAliases, FullNameAliases} {
		for _, a := range aliases {
			m[a] = true
		}
	}
	return m
}

// IsIdentityField reports whether `col` is one of the reserved identity header names.
func IsIdentityField(col string) bool {
	return reserved[col]
}

// AssessmentMaxima maps an assessment header to its maximum score.
type AssessmentMaxima map[string]int

// Names returns the sorted assessment names.
func (m AssessmentMaxima) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m AssessmentMaxima) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m AssessmentMaxima) Clone() AssessmentMaxima {
	c := make(AssessmentMaxima, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// RawRecord is one student row. Values are positional: Values[i] belongs to Headers[i],
// so duplicate or empty headers keep their own cell.
type RawRecord struct {
	Headers []string
	Values  []string
}

// NewRawRecord pads (or truncates) `values` to the length of `headers`.
func NewRawRecord(headers, values []string) RawRecord {
	vals := make([]string, len(headers))
	copy(vals, values)
	return RawRecord{Headers: headers, Values: vals}
}

// RecordFromMap builds a record with sorted columns from a grade mapping.
func RecordFromMap(m map[string]string) RawRecord {
	headers := make([]string, 0, len(m))
	for k := range m {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	values := make([]string, 0, len(m))
	for _, h := range headers {
		values = append(values, m[h])
	}
	return RawRecord{Headers: headers, Values: values}
}

// Get returns the value of the first column named `col`.
func (r RawRecord) Get(col string) (string, bool) {
	for i, h := range r.Headers {
		if h == col {
			if i < len(r.Values) {
				return r.Values[i], true
			}
			return "", true
		}
	}
	return "", false
}

// Map returns the grade mapping of the record. The first column of a duplicated header wins.
func (r RawRecord) Map() map[string]string {
	m := make(map[string]string, len(r.Headers))
	for i, h := range r.Headers {
		if _, seen := m[h]; seen {
			continue
		}
		var v string
		if i < len(r.Values) {
			v = r.Values[i]
		}
		m[h] = v
	}
	return m
}

// Identity holds the identity fields of a record.
type Identity struct {
	Number    null.String
	FirstName string
	LastName  string
}

// Identity resolves the student number and names through the header aliases.
func (r RawRecord) Identity() Identity {
	id := Identity{
		Number:    r.firstOf(StudentNumberAliases),
		FirstName: UnknownName,
		LastName:  UnknownName,
	}

	fullFirst, fullRest := r.splitFullName()
	if v := r.firstOf(FirstNameAliases); v.Valid {
		id.FirstName = v.String
	} else if fullFirst != "" {
		id.FirstName = fullFirst
	}
	if v := r.firstOf(LastNameAliases); v.Valid {
		id.LastName = v.String
	} else if fullRest != "" {
		id.LastName = fullRest
	}
	return id
}

// StudentNumber is a shortcut for Identity().Number.
func (r RawRecord) StudentNumber() null.String {
	return r.firstOf(StudentNumberAliases)
}

func (r RawRecord) firstOf(aliases []string) null.String {
	for _, alias := range aliases {
		if v, ok := r.Get(alias); ok {
			if v = strings.TrimSpace(v); v != "" {
				return null.StringFrom(v)
			}
		}
	}
	return null.String{}
}

func (r RawRecord) splitFullName() (first, rest string) {
	full := r.firstOf(FullNameAliases)
	if !full.Valid {
		return "", ""
	}
	fields := strings.Fields(full.String)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
