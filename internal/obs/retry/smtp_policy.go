package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultSMTPPolicy covers transient mail-relay hiccups inside a single
// job attempt; the job-level backoff handles anything longer.
func DefaultSMTPPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "smtp_send",
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("smtp retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("smtp retries exhausted", zap.Error(err))
			}
		},
	}
}
