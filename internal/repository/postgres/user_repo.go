package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/user"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct{ db *DB }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const (
	qUserByID = `
SELECT id, username, email, onboarded_at, renamed_from, created_at, updated_at
FROM users
WHERE id = $1;`

	// The anti-join against notifications keeps enumeration bounded to
	// users still owed the intent: without it a backlog larger than the
	// batch limit would reread the same notified head every cycle and
	// never reach the rest.
	qUsersUnnotified = `
SELECT u.id, u.username, u.email, u.onboarded_at, u.renamed_from, u.created_at, u.updated_at
FROM users u
WHERE NOT EXISTS (
      SELECT 1 FROM notifications n
      WHERE n.recipient = u.email AND n.intent = $1
)
ORDER BY u.created_at
LIMIT $2;`

	qUsersOnboardedUnnotified = `
SELECT u.id, u.username, u.email, u.onboarded_at, u.renamed_from, u.created_at, u.updated_at
FROM users u
WHERE u.onboarded_at IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM notifications n
      WHERE n.recipient = u.email AND n.intent = $1
)
ORDER BY u.onboarded_at
LIMIT $2;`

	qUsersRenamed = `
SELECT id, username, email, onboarded_at, renamed_from, created_at, updated_at
FROM users
WHERE renamed_from IS NOT NULL
ORDER BY updated_at
LIMIT $1;`

	qUserClearRename = `
UPDATE users
SET renamed_from = NULL, updated_at = NOW()
WHERE id = $1;`
)

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.Pool.QueryRow(ctx, qUserByID, id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) ListUnnotified(ctx context.Context, intent notification.Intent, limit int) ([]*user.User, error) {
	return r.list(ctx, qUsersUnnotified, string(intent), clampLimit(limit))
}

func (r *UserRepo) ListOnboardedUnnotified(ctx context.Context, intent notification.Intent, limit int) ([]*user.User, error) {
	return r.list(ctx, qUsersOnboardedUnnotified, string(intent), clampLimit(limit))
}

func (r *UserRepo) ListRenamed(ctx context.Context, limit int) ([]*user.User, error) {
	return r.list(ctx, qUsersRenamed, clampLimit(limit))
}

func (r *UserRepo) ClearRename(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if _, err := eq.Exec(ctx, qUserClearRename, id); err != nil {
		return fmt.Errorf("clear rename: %w", err)
	}
	return nil
}

func (r *UserRepo) list(ctx context.Context, q string, args ...any) ([]*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*user.User
	for rows.Next() {
		var u user.User
		if err := scanUser(rows, &u); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func scanUser(row pgx.Row, out *user.User) error {
	if err := row.Scan(
		&out.ID,
		&out.Username,
		&out.Email,
		&out.OnboardedAt,
		&out.RenamedFrom,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan user: %w", err)
	}
	return nil
}
