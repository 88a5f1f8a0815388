package grade

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheme(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		want      []Term
		wantError string
	}{
		{
			name: "name then weight",
			src:  "Quiz1=40%, Quiz2=60%",
			want: []Term{{"Quiz1", 40}, {"Quiz2", 60}},
		},
		{
			name: "weight then name",
			src:  "40% Quiz1 + 0.6 * Quiz2",
			want: []Term{{"Quiz1", 40}, {"Quiz2", 0.6}},
		},
		{
			name: "mixed separators",
			src:  "Quiz 1: 10; Quiz 2 * 20\nFinal Exam = 70",
			want: []Term{{"Quiz 1", 10}, {"Quiz 2", 20}, {"Final Exam", 70}},
		},
		{
			name: "quoted names",
			src:  `"Lab, part 1" = 25 + [Lab + Report] * 75`,
			want: []Term{{"Lab, part 1", 25}, {"Lab + Report", 75}},
		},
		{
			name: "name then percentage",
			src:  "Quiz1 40%, Quiz2 60 %",
			want: []Term{{"Quiz1", 40}, {"Quiz2", 60}},
		},
		{
			name: "name ending with a number then percentage",
			src:  `Quiz 1 25%, 2024 Final 75%, "Lab 2" 10%`,
			want: []Term{{"Quiz 1", 25}, {"2024 Final", 75}, {"Lab 2", 10}},
		},
		{name: "empty", src: "  ,  ", wantError: "no weighted assessment"},
		{name: "missing weight", src: "Quiz1", wantError: "has no weight"},
		{name: "number is part of the name", src: "Quiz 1", wantError: "has no weight"},
		{name: "duplicate", src: "Quiz1=10, Quiz1=20", wantError: "listed twice"},
		{name: "zero weights", src: "Quiz1=0, Quiz2=0", wantError: "positive"},
		{name: "unterminated quote", src: `"Quiz1 = 10`, wantError: "unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScheme(tt.src)
			if tt.wantError != "" {
				var calcErr *CalculationError
				require.True(t, errors.As(err, &calcErr), "want *CalculationError, got %v", err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Terms)
		})
	}
}

func TestScheme_Percent(t *testing.T) {
	s, err := ParseScheme("A=1, B=3")
	require.NoError(t, err)

	assert.InDelta(t, 25.0, s.Percent(0), 1e-9)
	assert.InDelta(t, 75.0, s.Percent(1), 1e-9)
}

func TestCalculate(t *testing.T) {
	maxima := AssessmentMaxima{"Quiz1": 50, "Quiz2": 100, "Bonus": 0}

	tests := []struct {
		name   string
		grades map[string]string
		scheme string
		want   float64
	}{
		{
			name:   "weighted percentage",
			grades: map[string]string{"Quiz1": "40", "Quiz2": "90"},
			scheme: "Quiz1=40%, Quiz2=60%",
			want:   86,
		},
		{
			name:   "weights are normalized",
			grades: map[string]string{"Quiz1": "40", "Quiz2": "90"},
			scheme: "Quiz1=2, Quiz2=3",
			want:   86,
		},
		{
			name:   "missing grade is zero",
			grades: map[string]string{"Quiz2": "100"},
			scheme: "Quiz1=50, Quiz2=50",
			want:   50,
		},
		{
			name:   "qualitative grade is zero",
			grades: map[string]string{"Quiz1": "Incomplete", "Quiz2": "100"},
			scheme: "Quiz1=50, Quiz2=50",
			want:   50,
		},
		{
			name:   "zero maximum is zero",
			grades: map[string]string{"Bonus": "5", "Quiz2": "100"},
			scheme: "Bonus=50, Quiz2=50",
			want:   50,
		},
		{
			name:   "clamped to 100",
			grades: map[string]string{"Quiz1": "500", "Quiz2": "100"},
			scheme: "Quiz1=50, Quiz2=50",
			want:   100,
		},
		{
			name:   "negative grades are clamped to 0",
			grades: map[string]string{"Quiz1": "-50"},
			scheme: "Quiz1=100",
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.grades, tt.scheme, maxima)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalculate_unknownAssessment(t *testing.T) {
	maxima := AssessmentMaxima{"Quiz1": 50, "Final Exam": 100}

	_, err := Calculate(map[string]string{"Quiz1": "10"}, "Quiz1=40, Final Exm=60", maxima)

	var calcErr *CalculationError
	require.True(t, errors.As(err, &calcErr))
	assert.Equal(t, "Final Exm", calcErr.Assessment)
	assert.Equal(t, "Final Exam", calcErr.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "Final Exam"`)

	_, err = Calculate(nil, "Homework=100", maxima)
	require.True(t, errors.As(err, &calcErr))
	assert.Equal(t, "Homework", calcErr.Assessment)
	assert.Empty(t, calcErr.Suggestion)
}

func TestScheme_ClassAverage(t *testing.T) {
	maxima := AssessmentMaxima{"Quiz1": 50, "Quiz2": 100}
	s, err := ParseScheme("Quiz1=40%, Quiz2=60%")
	require.NoError(t, err)

	students := []map[string]string{
		{"Student Number": "S1", "Quiz1": "40", "Quiz2": "90"}, // 86
		{"Student Number": "S2", "Quiz1": "50", "Quiz2": "100"}, // 100
		{"Student Number": "S3", "Quiz1": "0", "Quiz2": "20"},   // 12
	}

	avg, err := s.ClassAverage(students, maxima)
	require.NoError(t, err)
	assert.InDelta(t, 66.0, avg, 1e-9)

	reversed := []map[string]string{students[2], students[1], students[0]}
	again, err := s.ClassAverage(reversed, maxima)
	require.NoError(t, err)
	assert.Equal(t, avg, again, "average must not depend on record order")

	_, err = s.ClassAverage(nil, maxima)
	var calcErr *CalculationError
	require.True(t, errors.As(err, &calcErr))
	assert.Contains(t, err.Error(), "no grade records")
}

func TestCalculate_orderIndependent(t *testing.T) {
	maxima := AssessmentMaxima{}
	grades := map[string]string{}
	scheme := ""
	for i, name := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		maxima[name] = 7 * (i + 1)
		grades[name] = []string{"1", "3.3", "12", "0.7", "30", "41", "2"}[i]
		if scheme != "" {
			scheme += ", "
		}
		scheme += name + " = " + []string{"0.1", "0.2", "0.3", "1", "2", "3", "0.01"}[i]
	}

	first, err := Calculate(grades, scheme, maxima)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		got, err := Calculate(grades, scheme, maxima)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestAssessmentAverages(t *testing.T) {
	maxima := AssessmentMaxima{"Quiz1": 50, "Quiz2": 0}
	students := []map[string]string{
		{"Quiz1": "25"},
		{"Quiz1": "50"},
	}

	avgs := AssessmentAverages(students, maxima)

	assert.Len(t, avgs, 1)
	assert.InDelta(t, 75.0, avgs["Quiz1"], 1e-9)
	assert.Empty(t, AssessmentAverages(nil, maxima))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Stats{}, Summarize(nil))

	stats := Summarize([]float64{90, 10, 50, 30})
	assert.Equal(t, 4, stats.Count)
	assert.InDelta(t, 45.0, stats.Mean, 1e-9)
	assert.InDelta(t, 40.0, stats.Median, 1e-9)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 90.0, stats.Max)
}

func TestFilterVisible(t *testing.T) {
	grades := map[string]string{"Student Number": "S1", "First Name": "Ada", "Quiz1": "40", "Quiz2": "90"}

	view := FilterVisible(grades, map[string]bool{"Quiz2": true, "Quiz1": false})

	assert.Equal(t, map[string]string{"Student Number": "S1", "First Name": "Ada", "Quiz2": "90"}, view)
}

func TestSuggest(t *testing.T) {
	candidates := []string{"Quiz1", "Quiz2", "Final Exam"}

	assert.Equal(t, "Final Exam", Suggest("final exam", candidates))
	assert.Contains(t, []string{"Quiz1", "Quiz2"}, Suggest("Quiz", candidates))
	assert.Empty(t, Suggest("Attendance", candidates))
	assert.Empty(t, Suggest("Quiz1", nil))
}
