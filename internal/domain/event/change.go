package event

import "encoding/json"

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one row-change event from the store feed. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Change struct {
	Event Op              `json:"event"`
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}
