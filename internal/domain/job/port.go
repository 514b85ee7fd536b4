package job

import (
	"context"
	"time"
)

type Repo interface {
	Enqueue(ctx context.Context, j *Job) error

	// PickBatch atomically claims up to batch due jobs from queue
	// (WAITING or RETRYING past next_attempt_at, plus ACTIVE jobs whose
	// claim is older than activeTTL), marking them ACTIVE and bumping
	// their attempt counter. FIFO by creation time.
	PickBatch(ctx context.Context, queue string, batch int, activeTTL time.Duration) ([]Job, error)

	MarkSucceeded(ctx context.Context, ids []string) error
	MarkRetrying(ctx context.Context, id string, nextAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// Handler executes one job attempt. An error triggers the retry policy.
type Handler func(ctx context.Context, payload []byte) error

// HandlerMux resolves the handler for a queue name.
type HandlerMux func(queue string) (Handler, error)
