package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core/user"
)

type userRepository struct {
	acc access
}

func (repo *userRepository) find(match func(u user.User) bool) (user.User, error) {
	for _, u := range repo.acc.read().users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) FindStudentByNumber(_ context.Context, number string) (user.User, error) {
	return repo.find(func(u user.User) bool { return u.IsStudent() && u.Student.Number == number })
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	if u, ok := repo.acc.read().users[id]; ok {
		return copyUser(u), nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUsersByID(_ context.Context, ids []string) ([]user.User, error) {
	t := repo.acc.read()
	seen := make(map[string]bool, len(ids))
	users := make([]user.User, 0, len(ids))
	for _, id := range ids {
		u, ok := t.users[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// checkUnique mirrors the unique indexes on email and student number.
func checkUnique(t *tables, usr user.User) error {
	for id, other := range t.users {
		if id == usr.ID {
			continue
		}
		if usr.Email != "" && other.Email == usr.Email {
			return user.ErrEmailExists
		}
		if usr.IsStudent() && other.IsStudent() && other.Student.Number == usr.Student.Number {
			return user.ErrNumberTaken
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	err := repo.acc.write(func(t *tables) error {
		if err := checkUnique(t, usr); err != nil {
			return err
		}
		t.users[usr.ID] = copyUser(usr)
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return copyUser(usr), nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	err := repo.acc.write(func(t *tables) error {
		stored, ok := t.users[usr.ID]
		if !ok {
			return user.ErrNotFound
		}
		if err := checkUnique(t, usr); err != nil {
			return err
		}
		usr.Role, usr.CreatedAt = stored.Role, stored.CreatedAt
		t.users[usr.ID] = copyUser(usr)
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return copyUser(usr), nil
}

func (repo *userRepository) DeactivateStudents(_ context.Context, before time.Time) (int, error) {
	var n int
	now := time.Now().UTC()
	err := repo.acc.write(func(t *tables) error {
		for id, u := range t.users {
			if u.Role == user.RoleStudent && u.IsActive && !u.LastLogin.Valid && u.CreatedAt.Before(before) {
				u.IsActive = false
				u.UpdatedAt = now
				t.users[id] = u
				n++
			}
		}
		return nil
	})
	return n, err
}

func (repo *userRepository) ClearPushTokens(_ context.Context, before time.Time) (int, error) {
	var n int
	err := repo.acc.write(func(t *tables) error {
		for id, u := range t.users {
			if !u.PushToken.Valid {
				continue
			}
			if u.PushTokenUpdatedAt.Valid && !u.PushTokenUpdatedAt.Time.Before(before) {
				continue
			}
			u.PushToken, u.PushTokenUpdatedAt = null.String{}, null.Time{}
			t.users[id] = u
			n++
		}
		return nil
	})
	return n, err
}
