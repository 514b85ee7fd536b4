// change-emit publishes a single row-change event to the feed topic.
// Handy for backfills and for poking the triggers service without a
// store-side producer running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/event"
	kafkax "github.com/goshlabs/onboarding-pipeline/internal/repository/kafka"
)

func main() {
	var (
		brokers = flag.String("brokers", "localhost:9092", "comma-separated broker list")
		topic   = flag.String("topic", "onboarding.row.change", "change feed topic")
		table   = flag.String("table", "", "changed table (users, dao_invites)")
		op      = flag.String("op", string(event.OpUpdate), "operation: insert, update or delete")
		row     = flag.String("row", "{}", "row snapshot as JSON")
	)
	flag.Parse()

	if *table == "" {
		log.Fatal("-table is required")
	}
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(*row), &raw); err != nil {
		log.Fatalf("-row is not valid JSON: %v", err)
	}

	p := kafkax.NewProducer(strings.Split(*brokers, ","), *topic)
	defer func() { _ = p.Close() }()
	feed := kafkax.NewChangeFeed(p)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := feed.PublishChange(ctx, event.Op(*op), *table, raw); err != nil {
		log.Fatalf("publish: %v", err)
	}
	log.Printf("change event published: table=%s op=%s", *table, *op)
}
