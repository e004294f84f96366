package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Zereker/vecstore/pkg/vector"
)

// EventPublisher publishes vector.ChangeEvent as JSON onto a topic,
// keyed by collection.
type EventPublisher struct {
	queue MessageQueue
	topic string
}

var _ vector.EventSink = (*EventPublisher)(nil)

// NewEventPublisher returns a sink writing to topic through queue.
func NewEventPublisher(queue MessageQueue, topic string) *EventPublisher {
	return &EventPublisher{queue: queue, topic: topic}
}

func (p *EventPublisher) Publish(ctx context.Context, event vector.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	return p.queue.Publish(ctx, p.topic, []byte(event.Collection), data)
}
