package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/notify"
)

type notificationRepository struct {
	exec core.DBExecutor
}

var _ notify.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db core.DBExecutor) notify.Repository {
	return &notificationRepository{exec: db}
}

func (repo *notificationRepository) CreateNotifications(ctx context.Context, notes []notify.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	// postgres accepts at most 65535 parameters per statement
	const chunk = 1000
	for start := 0; start < len(notes); start += chunk {
		end := start + chunk
		if end > len(notes) {
			end = len(notes)
		}
		_, err := sqlx.NamedExecContext(ctx, repo.exec, `INSERT INTO "notifications"
			("id", "user_id", "batch_id", "assessment", "kind", "title", "body", "created_at")
			VALUES (:id, :user_id, :batch_id, :assessment, :kind, :title, :body, :created_at)`, notes[start:end])
		if err != nil {
			return errors.Wrap(err, "inserting notifications")
		}
	}
	return nil
}

func (repo *notificationRepository) ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	notes := make([]notify.Notification, 0)
	err := repo.exec.SelectContext(ctx, &notes, `SELECT * FROM "notifications"
		WHERE "user_id" = $1 ORDER BY "created_at" DESC, "id" LIMIT $2`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "selecting notifications")
	}
	return notes, nil
}

func (repo *notificationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	res, err := repo.exec.ExecContext(ctx, `DELETE FROM "notifications" WHERE "created_at" < $1`, before)
	if err != nil {
		return 0, errors.Wrap(err, "pruning notifications")
	}
	return rowsAffected(res)
}
