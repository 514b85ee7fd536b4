package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/dispatch"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
	"github.com/goshlabs/onboarding-pipeline/internal/queue"
	"github.com/goshlabs/onboarding-pipeline/internal/templates"
)

// Transactor runs a function inside one store transaction. Matches the
// postgres implementation; actions only see the interface.
type Transactor interface {
	WithTx(ctx context.Context, function func(ctx context.Context) error) error
}

// Action decides for one entity whether its intent is due, renders the
// payload and persists a pending record plus a send job. One type serves
// every intent; templates, queue policy and the post-enqueue hook are
// injected.
//
// Evaluate is idempotent: the dedup check plus the unique index on
// (recipient, intent) form the idempotency boundary, so repeated or
// concurrent calls for the same entity queue at most one send.
type Action struct {
	Intent  notification.Intent
	Records notification.Repo
	Jobs    job.Repo
	Tmpl    *templates.Set
	Log     *zap.Logger

	// Tx, when set, makes record insert, job enqueue and the After hook
	// one atomic step. Without it the sequence is best-effort.
	Tx Transactor

	Queue   string
	Retries int
	Backoff job.Backoff

	// After runs once a send has been queued for the entity, e.g. to
	// flag a dao_invite row as consumed.
	After func(ctx context.Context, e dispatch.Entity) error
}

var _ dispatch.Action = (*Action)(nil)

func (a *Action) Evaluate(ctx context.Context, e dispatch.Entity) error {
	recipient := strings.TrimSpace(e.Recipient)
	if recipient == "" {
		return fmt.Errorf("%w: entity %s", notification.ErrMissingRecipient, e.Key)
	}

	existing, err := a.Records.Find(ctx, recipient, a.Intent)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		a.Log.Debug("notification already recorded",
			zap.String("recipient", recipient),
			zap.String("intent", string(a.Intent)),
			zap.Bool("sent", existing.Sent()))
		return nil
	}

	rendered, err := a.Tmpl.Render(a.Intent, e.Vars)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	run := func(ctx context.Context) error {
		rec := &notification.Record{
			Recipient: recipient,
			Intent:    a.Intent,
			Subject:   rendered.Subject,
			Content:   rendered.Content,
			HTML:      rendered.HTML,
		}
		if err := a.Records.Create(ctx, rec); err != nil {
			return err
		}

		payload, err := json.Marshal(queue.EmailPayload{RecordID: rec.ID})
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		j := job.New(a.Queue, payload,
			job.WithRetries(a.Retries),
			job.WithBackoff(a.Backoff.Kind, a.Backoff.Delay),
		)
		if err := a.Jobs.Enqueue(ctx, j); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		if a.After != nil {
			if err := a.After(ctx, e); err != nil {
				return fmt.Errorf("after hook: %w", err)
			}
		}

		a.Log.Info("notification queued",
			zap.String("recipient", recipient),
			zap.String("intent", string(a.Intent)),
			zap.Int64("record_id", rec.ID),
			zap.String("job_id", j.ID))
		return nil
	}

	if a.Tx != nil {
		err = a.Tx.WithTx(ctx, run)
	} else {
		err = run(ctx)
	}
	if errors.Is(err, notification.ErrDuplicate) {
		// Lost the check-then-insert race to a concurrent evaluation;
		// the other writer owns the send.
		a.Log.Debug("duplicate record insert; treating as queued",
			zap.String("recipient", recipient),
			zap.String("intent", string(a.Intent)))
		return nil
	}
	return err
}
