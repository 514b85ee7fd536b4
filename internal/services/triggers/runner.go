package triggers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/dispatch"
)

var mPollTicks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "triggers_poll_ticks_total", Help: "Poll ticks executed.",
})

// PollRunner is the sleep-loop half of the trigger sources: every tick
// it nudges every stream, catching rows whose change event was missed
// or that predate the consumer.
type PollRunner struct {
	Log  *zap.Logger
	D    *dispatch.Dispatcher
	Tick time.Duration
}

func NewPollRunner(log *zap.Logger, d *dispatch.Dispatcher, tick time.Duration) *PollRunner {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &PollRunner{Log: log, D: d, Tick: tick}
}

func (r *PollRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *PollRunner) tick(ctx context.Context) {
	mPollTicks.Inc()
	for _, id := range r.D.StreamIDs() {
		r.D.Notify(ctx, id)
	}
	r.Log.Debug("poll tick", zap.Int("streams", len(r.D.StreamIDs())))
}
