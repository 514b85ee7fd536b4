package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
	"github.com/goshlabs/onboarding-pipeline/internal/obs/retry"
)

// SendEmailQueue is the queue name the actions enqueue into and the
// send-worker consumes from.
const SendEmailQueue = "send_email"

// EmailPayload references the notification record a job must deliver.
type EmailPayload struct {
	RecordID int64 `json:"record_id"`
}

// NewEmailHandlerMux resolves queue names to handlers. The send_email
// handler loads the record, delivers it and sets sent_at; a record that
// is already sent makes the attempt a no-op success, which keeps
// redelivered jobs from double-sending.
func NewEmailHandlerMux(
	records notification.Repo,
	out notification.EmailSender,
	clock notification.Clock,
	log *zap.Logger,
	pol retry.Policy,
) job.HandlerMux {
	sendEmail := func(ctx context.Context, payload []byte) error {
		var p EmailPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal send-email payload: %w", err)
		}

		rec, err := records.GetByID(ctx, p.RecordID)
		if err != nil {
			return fmt.Errorf("get record %d: %w", p.RecordID, err)
		}
		if rec.Sent() {
			log.Debug("record already sent; skipping",
				zap.Int64("record_id", rec.ID),
				zap.String("intent", string(rec.Intent)))
			return nil
		}

		if err := retry.Do(ctx, func() error {
			return out.Send(ctx, rec.Recipient, rec.Subject, rec.Content, rec.HTML)
		}, pol); err != nil {
			return fmt.Errorf("send email: %w", err)
		}

		if err := records.MarkSent(ctx, rec.ID, clock.Now()); err != nil {
			return fmt.Errorf("mark sent %d: %w", rec.ID, err)
		}
		return nil
	}

	return func(queue string) (job.Handler, error) {
		switch queue {
		case SendEmailQueue:
			return sendEmail, nil
		default:
			return nil, fmt.Errorf("unsupported queue: %q", queue)
		}
	}
}
