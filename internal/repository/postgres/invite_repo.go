package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/invite"
)

var _ invite.Repo = (*InviteRepo)(nil)

type InviteRepo struct{ db *DB }

func NewInviteRepo(db *DB) *InviteRepo { return &InviteRepo{db: db} }

const (
	qInviteByID = `
SELECT id, dao_name, sender_username, recipient_email, token, is_recipient_sent, created_at
FROM dao_invites
WHERE id = $1;`

	qInvitesPending = `
SELECT id, dao_name, sender_username, recipient_email, token, is_recipient_sent, created_at
FROM dao_invites
WHERE is_recipient_sent = FALSE
ORDER BY created_at
LIMIT $1;`

	qInviteMarkSent = `
UPDATE dao_invites
SET is_recipient_sent = TRUE
WHERE id = $1;`
)

func (r *InviteRepo) GetByID(ctx context.Context, id int64) (*invite.Invite, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var iv invite.Invite
	if err := scanInvite(r.db.Pool.QueryRow(ctx, qInviteByID, id), &iv); err != nil {
		return nil, err
	}
	return &iv, nil
}

func (r *InviteRepo) ListPending(ctx context.Context, limit int) ([]*invite.Invite, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qInvitesPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	var out []*invite.Invite
	for rows.Next() {
		var iv invite.Invite
		if err := scanInvite(rows, &iv); err != nil {
			return nil, err
		}
		out = append(out, &iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *InviteRepo) MarkRecipientSent(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if _, err := eq.Exec(ctx, qInviteMarkSent, id); err != nil {
		return fmt.Errorf("mark invite sent: %w", err)
	}
	return nil
}

func scanInvite(row pgx.Row, out *invite.Invite) error {
	if err := row.Scan(
		&out.ID,
		&out.DaoName,
		&out.SenderUsername,
		&out.RecipientEmail,
		&out.Token,
		&out.RecipientSent,
		&out.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan invite: %w", err)
	}
	return nil
}
