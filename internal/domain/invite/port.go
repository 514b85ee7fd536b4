package invite

import "context"

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Invite, error)

	// ListPending returns invites not yet forwarded to their recipient,
	// oldest first.
	ListPending(ctx context.Context, limit int) ([]*Invite, error)

	// MarkRecipientSent flags the invite as consumed by the pipeline.
	MarkRecipientSent(ctx context.Context, id int64) error
}
