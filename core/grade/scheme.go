package grade

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

var (
	// Quiz1 = 40%, "Final Exam": 60, [Lab 1] * 0.2
	trailingWeightRegex = regexp.MustCompile(`^(.+?)\s*[*:=]\s*(\d+(?:\.\d+)?)\s*%?$`)
	// Quiz1 40%, "Final Exam" 60 %; the percent sign tells the weight from a name like "Quiz 1"
	percentSuffixRegex = regexp.MustCompile(`^(.+?)\s+(\d+(?:\.\d+)?)\s*%$`)
	// 40% Quiz1, 0.6 * "Final Exam"
	leadingWeightRegex = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*%?\s*\*?\s*(\S.*)$`)

	suggestionCutoff = 0.6
)

// CalculationError reports a grading scheme that cannot be evaluated.
type CalculationError struct {
	Scheme     string
	Assessment string // set when the scheme references an unknown assessment
	Suggestion string
	Reason     string
}

func (e *CalculationError) Error() string {
	if e.Assessment != "" {
		msg := fmt.Sprintf("grading scheme references unknown assessment %q", e.Assessment)
		if e.Suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
		}
		return msg
	}
	return "invalid grading scheme: " + e.Reason
}

// Term is one weighted assessment of a scheme.
type Term struct {
	Assessment string  `json:"assessment"`
	Weight     float64 `json:"weight"` // as written
}

// Scheme is a parsed weighted-sum grading scheme.
type Scheme struct {
	Source string `json:"source"`
	Terms  []Term `json:"terms"`
	total  float64
}

// Percent returns the weight of term i normalized so all weights sum to 100.
func (s Scheme) Percent(i int) float64 {
	if s.total == 0 {
		return 0
	}
	return s.Terms[i].Weight / s.total * 100
}

// ParseScheme parses terms separated by "+", ",", ";" or new lines.
// A term is `<weight>[%] [*] <name>`, `<name> (*|:|=) <weight>[%]` or `<name> <weight>%`;
// a weight after the name needs an operator or a percent sign, so "Quiz 1" alone has no weight.
// Names containing separators are quoted with "..." or [...]. Weights are normalized to sum to 100.
func ParseScheme(src string) (Scheme, error) {
	scheme := Scheme{Source: src}
	parts, err := splitTerms(src)
	if err != nil {
		return Scheme{}, &CalculationError{Scheme: src, Reason: err.Error()}
	}

	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		term, err := parseTerm(part)
		if err != nil {
			return Scheme{}, &CalculationError{Scheme: src, Reason: err.Error()}
		}
		if seen[term.Assessment] {
			return Scheme{}, &CalculationError{Scheme: src, Reason: fmt.Sprintf("assessment %q listed twice", term.Assessment)}
		}
		seen[term.Assessment] = true
		scheme.Terms = append(scheme.Terms, term)
		scheme.total += term.Weight
	}

	if len(scheme.Terms) == 0 {
		return Scheme{}, &CalculationError{Scheme: src, Reason: "no weighted assessment"}
	}
	if scheme.total <= 0 {
		return Scheme{}, &CalculationError{Scheme: src, Reason: "weights must sum to a positive value"}
	}
	return scheme, nil
}

// Check verifies that every assessment of the scheme has a declared maximum.
func (s Scheme) Check(maxima AssessmentMaxima) error {
	for _, t := range s.Terms {
		if !maxima.Has(t.Assessment) {
			return &CalculationError{
				Scheme:     s.Source,
				Assessment: t.Assessment,
				Suggestion: Suggest(t.Assessment, maxima.Names()),
			}
		}
	}
	return nil
}

func splitTerms(src string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		closing rune
	)
	for _, r := range src {
		switch {
		case closing != 0:
			if r == closing {
				closing = 0
			}
			current.WriteRune(r)
		case r == '"':
			closing = '"'
			current.WriteRune(r)
		case r == '[':
			closing = ']'
			current.WriteRune(r)
		case r == '+' || r == ',' || r == ';' || r == '\n':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if closing != 0 {
		return nil, fmt.Errorf("unterminated quoted name, missing %q", closing)
	}
	parts = append(parts, current.String())

	terms := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			terms = append(terms, p)
		}
	}
	return terms, nil
}

func parseTerm(s string) (Term, error) {
	var name, weight string
	if m := trailingWeightRegex.FindStringSubmatch(s); m != nil {
		name, weight = m[1], m[2]
	} else if m := percentSuffixRegex.FindStringSubmatch(s); m != nil {
		name, weight = m[1], m[2]
	} else if m := leadingWeightRegex.FindStringSubmatch(s); m != nil {
		weight, name = m[1], m[2]
	} else {
		return Term{}, fmt.Errorf("term %q has no weight", s)
	}

	name = unquote(strings.TrimSpace(name))
	if name == "" {
		return Term{}, fmt.Errorf("term %q has no assessment name", s)
	}
	w, err := strconv.ParseFloat(weight, 64)
	if err != nil {
		return Term{}, fmt.Errorf("term %q: invalid weight %q", s, weight)
	}
	return Term{Assessment: name, Weight: w}, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '[' && s[len(s)-1] == ']') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// Suggest returns the candidate closest to `name`, or "" when none is similar enough.
func Suggest(name string, candidates []string) string {
	var (
		best      string
		bestRatio float64
	)
	lname := strings.Split(strings.ToLower(name), "")
	for _, c := range candidates {
		ratio := difflib.NewMatcher(lname, strings.Split(strings.ToLower(c), "")).Ratio()
		if ratio > bestRatio {
			best, bestRatio = c, ratio
		}
	}
	if bestRatio < suggestionCutoff {
		return ""
	}
	return best
}
