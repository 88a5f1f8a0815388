package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/gradebook/core/notify"
)

type notificationRepository struct {
	acc access
}

var _ notify.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notify.Repository {
	return &notificationRepository{acc: live{db: db}}
}

func (repo *notificationRepository) CreateNotifications(_ context.Context, notes []notify.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	return repo.acc.write(func(t *tables) error {
		for _, n := range notes {
			if n.ID == "" {
				n.ID = uuid.NewString()
			}
			t.notifications = append(t.notifications, n)
		}
		return nil
	})
}

func (repo *notificationRepository) ListNotifications(_ context.Context, userID string, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	notes := make([]notify.Notification, 0)
	for _, n := range repo.acc.read().notifications {
		if n.UserID == userID {
			notes = append(notes, n)
		}
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID < notes[j].ID
	})
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

func (repo *notificationRepository) DeleteOlderThan(_ context.Context, before time.Time) (int, error) {
	var n int
	err := repo.acc.write(func(t *tables) error {
		kept := t.notifications[:0]
		for _, note := range t.notifications {
			if note.CreatedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, note)
		}
		t.notifications = kept
		return nil
	})
	return n, err
}
