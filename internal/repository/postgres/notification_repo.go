package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepo)(nil)

type NotificationRepo struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (recipient, intent, subject, content, html)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at;`

	qNotifByID = `
SELECT id, recipient, intent, subject, content, html, created_at, sent_at
FROM notifications
WHERE id = $1;`

	qNotifFind = `
SELECT id, recipient, intent, subject, content, html, created_at, sent_at
FROM notifications
WHERE recipient = $1 AND intent = $2;`

	qNotifMarkSent = `
UPDATE notifications
SET sent_at = $2
WHERE id = $1 AND sent_at IS NULL;`
)

// Create inserts a pending record. The (recipient, intent) unique index
// turns a lost dedup race into notification.ErrDuplicate instead of a
// duplicate send.
func (r *NotificationRepo) Create(ctx context.Context, n *notification.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qNotifInsert,
		n.Recipient, n.Intent, n.Subject, n.Content, n.HTML,
	).Scan(&n.ID, &n.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return notification.ErrDuplicate
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id int64) (*notification.Record, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Record
	if err := scanNotif(r.db.Pool.QueryRow(ctx, qNotifByID, id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepo) Find(ctx context.Context, recipient string, intent notification.Intent) (*notification.Record, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Record
	if err := scanNotif(r.db.Pool.QueryRow(ctx, qNotifFind, recipient, intent), &n); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qNotifMarkSent, id, at); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func scanNotif(row pgx.Row, n *notification.Record) error {
	if err := row.Scan(
		&n.ID,
		&n.Recipient,
		&n.Intent,
		&n.Subject,
		&n.Content,
		&n.HTML,
		&n.CreatedAt,
		&n.SentAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan notification: %w", err)
	}
	return nil
}
