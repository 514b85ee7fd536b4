package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingRecipient means the entity carries no resolvable address.
	// Terminal per entity: requires out-of-band data correction, never retried.
	ErrMissingRecipient = errors.New("missing recipient address")

	// ErrDuplicate is returned by Create when a record for the same
	// (recipient, intent) pair already exists.
	ErrDuplicate = errors.New("notification already recorded")
)

type Repo interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id int64) (*Record, error)
	// Find returns (nil, nil) when no record exists for the pair.
	Find(ctx context.Context, recipient string, intent Intent) (*Record, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body, html string) error
}

type Clock interface {
	Now() time.Time
}
