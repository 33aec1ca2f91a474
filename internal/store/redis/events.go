package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"meanrev-trader/internal/notification"
)

const eventsChannel = "meanrev:events"

// EventPublisher fans lifecycle alerts out over Redis pub/sub so other
// processes (dashboards, replicas) can observe the engine without polling
// the database. It plugs into the notification dispatcher as one more
// backend.
type EventPublisher struct {
	client  *goredis.Client
	channel string
}

// NewEventPublisher wraps a connected client. channel may be empty for the
// default.
func NewEventPublisher(client *goredis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = eventsChannel
	}
	return &EventPublisher{client: client, channel: channel}
}

// Send publishes the alert as JSON. Implements notification.Notifier.
func (p *EventPublisher) Send(ctx context.Context, alert notification.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis events: marshal: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis events: publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded alerts published on the events
// channel. The subscription ends when ctx does.
func (p *EventPublisher) Subscribe(ctx context.Context) (<-chan notification.Alert, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("redis events: subscribe: %w", err)
	}

	out := make(chan notification.Alert, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var alert notification.Alert
				if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
					continue // skip malformed payloads
				}
				select {
				case out <- alert:
				default: // slow consumer, drop
				}
			}
		}
	}()
	return out, nil
}
