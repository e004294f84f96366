package vector

import (
	"context"
	"time"
)

// Op names used in change events, metrics and spans.
const (
	OpInsert         = "insert"
	OpBatchInsert    = "batch_insert"
	OpGet            = "get"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpDeleteByFilter = "delete_by_filter"
	OpSearch         = "search"
	OpProvision      = "provision"
)

// ChangeEvent describes a successful write.
type ChangeEvent struct {
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	Scope      Scope     `json:"scope"`
	IDs        []string  `json:"ids,omitempty"`
	Count      int       `json:"count"`
	Time       time.Time `json:"time"`
}

// EventSink receives change events after writes succeed. A failing sink
// never changes the outcome of the write.
type EventSink interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event ChangeEvent) error

func (f EventSinkFunc) Publish(ctx context.Context, event ChangeEvent) error {
	return f(ctx, event)
}
