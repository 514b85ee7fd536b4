package triggers

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/dispatch"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/event"
	kafkax "github.com/goshlabs/onboarding-pipeline/internal/repository/kafka"
)

var (
	mEventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triggers_change_events_consumed_total", Help: "Row-change events consumed.",
	})
	mEventsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triggers_change_events_ignored_total", Help: "Events for unwatched tables.",
	})
)

// Controller is the push half: it consumes the row-change feed and fans
// each table change out to the streams that table feeds. Duplicate
// delivery is fine; notifications are coalesced by the dispatcher and
// the actions are idempotent.
type Controller struct {
	Log          *zap.Logger
	Sub          *kafkax.Consumer
	D            *dispatch.Dispatcher
	TableStreams map[string][]string
}

func (c *Controller) Run(ctx context.Context) error {
	handler := kafkax.JSONHandler(
		func(ctx context.Context, _ []byte, ev *event.Change) error {
			mEventsConsumed.Inc()
			streams, ok := c.TableStreams[ev.Table]
			if !ok {
				mEventsIgnored.Inc()
				c.Log.Debug("change event for unwatched table", zap.String("table", ev.Table))
				return nil
			}
			for _, id := range streams {
				c.D.Notify(ctx, id)
			}
			return nil
		},
	)
	return c.Sub.Consume(ctx, handler)
}
