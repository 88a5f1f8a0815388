package grade

import (
	"math"
	"sort"
)

// Calculate parses `scheme` and returns the blended percentage of `grades`.
func Calculate(grades map[string]string, scheme string, maxima AssessmentMaxima) (float64, error) {
	s, err := ParseScheme(scheme)
	if err != nil {
		return 0, err
	}
	return s.Grade(grades, maxima)
}

// Grade returns the weighted percentage in [0, 100] of one student's grades.
// A missing or non-numeric grade earns zero credit for its assessment.
func (s Scheme) Grade(grades map[string]string, maxima AssessmentMaxima) (float64, error) {
	if err := s.Check(maxima); err != nil {
		return 0, err
	}
	var weighted float64
	for _, t := range s.Terms {
		weighted += t.Weight * Percentage(grades[t.Assessment], maxima[t.Assessment])
	}
	return clamp(weighted / s.total), nil
}

// Percentage returns score/maximum as a percentage; blank, qualitative or zero-maximum grades are 0.
func Percentage(value string, max int) float64 {
	if max <= 0 {
		return 0
	}
	score, ok := ParseScore(value)
	if !ok {
		return 0
	}
	return clamp(score / float64(max) * 100)
}

// ClassAverage is the arithmetic mean of every student's grade.
func (s Scheme) ClassAverage(students []map[string]string, maxima AssessmentMaxima) (float64, error) {
	if err := s.Check(maxima); err != nil {
		return 0, err
	}
	if len(students) == 0 {
		return 0, &CalculationError{Scheme: s.Source, Reason: "no grade records"}
	}
	values := make([]float64, 0, len(students))
	for _, grades := range students {
		g, err := s.Grade(grades, maxima)
		if err != nil {
			return 0, err
		}
		values = append(values, g)
	}
	return mean(values), nil
}

// AssessmentAverages returns the class mean percentage of every assessment with a positive maximum.
func AssessmentAverages(students []map[string]string, maxima AssessmentMaxima) map[string]float64 {
	averages := make(map[string]float64, len(maxima))
	if len(students) == 0 {
		return averages
	}
	for name, max := range maxima {
		if max <= 0 {
			continue
		}
		values := make([]float64, 0, len(students))
		for _, grades := range students {
			values = append(values, Percentage(grades[name], max))
		}
		averages[name] = mean(values)
	}
	return averages
}

// Stats summarizes a set of percentages.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := sortedCopy(values)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Stats{
		Count:  n,
		Mean:   sum(sorted) / float64(n),
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

// mean sums in ascending order so the result does not depend on the input order.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(sortedCopy(values)) / float64(len(values))
}

func sum(sorted []float64) float64 {
	var total float64
	for _, v := range sorted {
		total += v
	}
	return total
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

func clamp(pct float64) float64 {
	return math.Max(0, math.Min(100, pct))
}
