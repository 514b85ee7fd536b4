package kafka

import (
	"context"
	"encoding/json"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/event"
)

// ChangeFeed publishes row-change events to the feed topic. The store-side
// trigger is the usual producer; this is also what tests and backfill
// tooling use to inject events.
type ChangeFeed struct {
	p *Producer
}

func NewChangeFeed(p *Producer) *ChangeFeed { return &ChangeFeed{p: p} }

func (f *ChangeFeed) PublishChange(ctx context.Context, op event.Op, table string, row any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return f.p.PublishJSON(ctx, []byte(table), event.Change{
		Event: op,
		Table: table,
		Row:   raw,
	})
}
