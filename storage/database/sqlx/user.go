package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

const userColumns = `"id", "role", "email", "password_hash", "is_active", "push_token", "push_token_updated_at",
	"student_number", "first_name", "last_name", "department", "last_login", "created_at", "updated_at"`

type userRow struct {
	ID                 string      `db:"id"`
	Role               string      `db:"role"`
	Email              null.String `db:"email"`
	PasswordHash       []byte      `db:"password_hash"`
	IsActive           bool        `db:"is_active"`
	PushToken          null.String `db:"push_token"`
	PushTokenUpdatedAt null.Time   `db:"push_token_updated_at"`
	StudentNumber      null.String `db:"student_number"`
	FirstName          string      `db:"first_name"`
	LastName           string      `db:"last_name"`
	Department         string      `db:"department"`
	LastLogin          null.Time   `db:"last_login"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

func toUserRow(usr user.User) userRow {
	row := userRow{
		ID:                 usr.ID,
		Role:               string(usr.Role),
		Email:              null.NewString(usr.Email, usr.Email != ""),
		PasswordHash:       usr.PasswordHash,
		IsActive:           usr.IsActive,
		PushToken:          usr.PushToken,
		PushTokenUpdatedAt: usr.PushTokenUpdatedAt,
		LastLogin:          usr.LastLogin,
		CreatedAt:          usr.CreatedAt,
		UpdatedAt:          usr.UpdatedAt,
	}
	switch {
	case usr.IsStudent():
		row.StudentNumber = null.StringFrom(usr.Student.Number)
		row.FirstName, row.LastName = usr.Student.FirstName, usr.Student.LastName
	case usr.IsTeacher():
		row.FirstName, row.LastName = usr.Teacher.FirstName, usr.Teacher.LastName
		row.Department = usr.Teacher.Department
	}
	return row
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:                 row.ID,
		Role:               user.Role(row.Role),
		Email:              row.Email.String,
		PasswordHash:       row.PasswordHash,
		IsActive:           row.IsActive,
		PushToken:          row.PushToken,
		PushTokenUpdatedAt: row.PushTokenUpdatedAt,
		LastLogin:          row.LastLogin,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
	switch usr.Role {
	case user.RoleStudent:
		usr.Student = &user.StudentProfile{Number: row.StudentNumber.String, FirstName: row.FirstName, LastName: row.LastName}
	case user.RoleTeacher:
		usr.Teacher = &user.TeacherProfile{FirstName: row.FirstName, LastName: row.LastName, Department: row.Department}
	}
	return usr
}

type userRepository struct {
	exec core.DBExecutor
}

func (repo *userRepository) get(ctx context.Context, where string, args ...interface{}) (user.User, error) {
	var row userRow
	err := repo.exec.GetContext(ctx, &row, `SELECT `+userColumns+` FROM "users" WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, errors.Wrap(err, "selecting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) FindStudentByNumber(ctx context.Context, number string) (user.User, error) {
	return repo.get(ctx, `"role" = $1 AND "student_number" = $2`, string(user.RoleStudent), number)
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.get(ctx, `"id" = $1`, id)
}

func (repo *userRepository) GetUsersByID(ctx context.Context, ids []string) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "users" WHERE "id" = ANY($1::uuid[]) ORDER BY "created_at", "id"`
	if err := repo.exec.SelectContext(ctx, &rows, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

// CreateUser skips conflicting inserts instead of failing them, which would abort the
// surrounding transaction, then reports which unique field was taken.
func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = newID()
	}
	row := toUserRow(usr)
	q := `INSERT INTO "users" (` + userColumns + `) VALUES (
		:id, :role, :email, :password_hash, :is_active, :push_token, :push_token_updated_at,
		:student_number, :first_name, :last_name, :department, :last_login, :created_at, :updated_at
	) ON CONFLICT DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	if n, err := rowsAffected(res); err != nil {
		return user.User{}, err
	} else if n == 0 {
		return user.User{}, repo.conflict(ctx, row)
	}
	return row.toUser(), nil
}

func (repo *userRepository) conflict(ctx context.Context, row userRow) error {
	if row.Email.Valid {
		if _, err := repo.get(ctx, `"email" = $1`, row.Email.String); err == nil {
			return user.ErrEmailExists
		}
	}
	if row.StudentNumber.Valid {
		return user.ErrNumberTaken
	}
	return errors.New("user already exists")
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := toUserRow(usr)
	q := `UPDATE "users" SET
		"email" = :email, "password_hash" = :password_hash, "is_active" = :is_active,
		"push_token" = :push_token, "push_token_updated_at" = :push_token_updated_at,
		"student_number" = :student_number, "first_name" = :first_name, "last_name" = :last_name,
		"department" = :department, "last_login" = :last_login, "updated_at" = :updated_at
	WHERE "id" = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, row)
	if isUniqueViolation(err) {
		return user.User{}, user.ErrEmailExists
	}
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := rowsAffected(res); err != nil {
		return user.User{}, err
	} else if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return row.toUser(), nil
}

func (repo *userRepository) DeactivateStudents(ctx context.Context, before time.Time) (int, error) {
	res, err := repo.exec.ExecContext(ctx, `UPDATE "users" SET "is_active" = FALSE, "updated_at" = $1
		WHERE "role" = $2 AND "is_active" AND "last_login" IS NULL AND "created_at" < $3`,
		time.Now().UTC(), string(user.RoleStudent), before)
	if err != nil {
		return 0, errors.Wrap(err, "deactivating students")
	}
	return rowsAffected(res)
}

func (repo *userRepository) ClearPushTokens(ctx context.Context, before time.Time) (int, error) {
	res, err := repo.exec.ExecContext(ctx, `UPDATE "users" SET "push_token" = NULL, "push_token_updated_at" = NULL
		WHERE "push_token" IS NOT NULL AND ("push_token_updated_at" IS NULL OR "push_token_updated_at" < $1)`, before)
	if err != nil {
		return 0, errors.Wrap(err, "clearing push tokens")
	}
	return rowsAffected(res)
}
