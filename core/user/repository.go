package user

import (
	"context"
	"errors"
	"time"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("a user with this email already exists")
	ErrNumberTaken = errors.New("a student with this number already exists")
)

// Repository is the identity store.
type Repository interface {
	FindStudentByNumber(ctx context.Context, number string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// GetUsersByID silently ignores unknown ids.
	GetUsersByID(ctx context.Context, ids []string) ([]User, error)
	CreateUser(ctx context.Context, usr User) (User, error)
	UpdateUser(ctx context.Context, usr User) (User, error)
	// DeactivateStudents deactivates active students created before `before` that never logged in.
	DeactivateStudents(ctx context.Context, before time.Time) (int, error)
	// ClearPushTokens removes push tokens last refreshed before `before`.
	ClearPushTokens(ctx context.Context, before time.Time) (int, error)
}
