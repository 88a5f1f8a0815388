package logsvc

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/gradebook/core/user"
	testutil "github.com/trezcool/gradebook/tests"
)

func TestEntry_line(t *testing.T) {
	student := user.NewStudent("S1", "Ada", "Lovelace", "s1@school.test")
	student.ID = "u1"

	tests := []struct {
		name string
		args []interface{}
		want string
	}{
		{name: "message only", want: "grades uploaded"},
		{
			name: "extras are merged and sorted",
			args: []interface{}{
				map[string]interface{}{"rows": 2, "class_id": "c1"},
				map[string]interface{}{"batch_id": "b1"},
			},
			want: "grades uploaded batch_id=b1 class_id=c1 rows=2",
		},
		{
			name: "error, user and leftovers",
			args: []interface{}{errors.New("boom"), student, "extra", nil},
			want: `grades uploaded err="boom" user=u1 extra`,
		},
		{
			name: "second error kept as leftover",
			args: []interface{}{errors.New("first"), errors.New("second")},
			want: `grades uploaded err="first" second`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newEntry("grades uploaded", tt.args).line())
		})
	}
}

func TestEntry_rollbarArgs(t *testing.T) {
	teacher := user.NewTeacher("Grace", "Hopper", "grace@school.test")
	student := user.NewStudent("S1", "Ada", "Lovelace", "s1@school.test")
	assert.Equal(t, "Grace Hopper", personName(teacher))
	assert.Equal(t, "S1", personName(student))

	args := newEntry("msg", nil).rollbarArgs()
	assert.Equal(t, []interface{}{"msg"}, args)

	args = newEntry("msg", []interface{}{errors.New("boom"), map[string]interface{}{"k": "v"}, 42, teacher}).rollbarArgs()
	if assert.Len(t, args, 4) {
		assert.EqualError(t, args[1].(error), "boom")
		assert.Equal(t, map[string]interface{}{"k": "v", "args": []interface{}{42}}, args[2])
	}
}

func TestRollbarLogger_mirrorsToStd(t *testing.T) {
	var buf bytes.Buffer
	conf := testutil.NewTestConfig()
	l := NewRollbarLogger(log.New(&buf, "", 0), conf)
	l.Enable(false)

	l.Debug("debounced", map[string]interface{}{"assessment": "Quiz1"})
	l.Warn("skipping row without student number", map[string]interface{}{"row": 4})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"DEBUG debounced assessment=Quiz1",
		"WARN skipping row without student number row=4",
	}, lines)
}
