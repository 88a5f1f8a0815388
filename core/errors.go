package core

import (
	"strings"

	"github.com/pkg/errors"
)

// FieldError is an invalid request field with the message shown for it.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports a request rejected outside of struct tag validation.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err *ValidationError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	msgs := make([]string, 0, len(err.Fields))
	for _, f := range err.Fields {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return strings.Join(msgs, "; ")
}

func (err *ValidationError) Unwrap() error { return err.Err }

// FieldMap returns the messages keyed by field, the shape translated tag errors have.
// It returns nil when no field is set.
func (err *ValidationError) FieldMap() map[string]string {
	if len(err.Fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(err.Fields))
	for _, f := range err.Fields {
		if _, ok := m[f.Field]; !ok {
			m[f.Field] = f.Error
		}
	}
	return m
}

// ShutdownError is an error the process cannot keep serving after, such as a closed database.
type ShutdownError struct {
	Reason string
	Err    error
}

func NewShutdownError(reason string, err error) error {
	return &ShutdownError{Reason: reason, Err: err}
}

func (err *ShutdownError) Error() string {
	if err.Err == nil {
		return err.Reason
	}
	return err.Reason + ": " + err.Err.Error()
}

func (err *ShutdownError) Unwrap() error { return err.Err }

func IsShutdown(err error) bool {
	var s *ShutdownError
	return errors.As(err, &s)
}
