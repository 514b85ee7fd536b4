package user

import (
	"context"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
)

type Repo interface {
	GetByID(ctx context.Context, id int64) (*User, error)

	// ListUnnotified returns registered users that have no notification
	// record for the intent, oldest first. Filtering here keeps the
	// batch limit paging through the backlog rather than rereading
	// already-notified rows every cycle.
	ListUnnotified(ctx context.Context, intent notification.Intent, limit int) ([]*User, error)

	// ListOnboardedUnnotified is ListUnnotified restricted to users
	// whose onboarding completed (onboarded_at set), ordered by
	// completion time.
	ListOnboardedUnnotified(ctx context.Context, intent notification.Intent, limit int) ([]*User, error)

	// ListRenamed returns users carrying a pending rename marker.
	ListRenamed(ctx context.Context, limit int) ([]*User, error)

	// ClearRename drops the rename marker once the notification is queued.
	ClearRename(ctx context.Context, id int64) error
}
