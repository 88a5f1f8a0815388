package core

import (
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		wantMsg  string
		wantMap  map[string]string
		wantWrap error
	}{
		{
			name:    "fields",
			err:     &ValidationError{Fields: []FieldError{{"file", "required"}, {"mode", "unknown"}, {"file", "ignored"}}},
			wantMsg: "file: required; mode: unknown; file: ignored",
			wantMap: map[string]string{"file": "required", "mode": "unknown"},
		},
		{
			name:     "wrapped",
			err:      &ValidationError{Err: sql.ErrNoRows},
			wantMsg:  sql.ErrNoRows.Error(),
			wantWrap: sql.ErrNoRows,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.Equal(t, tt.wantMap, tt.err.FieldMap())
			if tt.wantWrap != nil {
				assert.ErrorIs(t, tt.err, tt.wantWrap)
			}
		})
	}
}

func TestIsShutdown(t *testing.T) {
	err := NewShutdownError("database unavailable", sql.ErrConnDone)
	assert.True(t, IsShutdown(err))
	assert.True(t, IsShutdown(errors.Wrap(err, "creating class")))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.EqualError(t, err, "database unavailable: sql: connection is already closed")
	assert.False(t, IsShutdown(sql.ErrConnDone))
	assert.False(t, IsShutdown(nil))
}
