package messaging

import (
	"context"
	"log/slog"
	"sync"

	contractsv1 "escrowline/contracts/gen/events/v1"
)

// Handler consumes one relayed event.
type Handler func(context.Context, contractsv1.Envelope) error

// Bus is the in-process event bus between outbox relays and consumers.
// Publish blocks until every subscriber of the topic has buffered the event,
// so a relay only marks a row published once delivery is queued.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	bufferSize  int
	logger      *slog.Logger
}

type subscription struct {
	ch chan contractsv1.Envelope
}

func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]*subscription),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub.ch <- event:
		}
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"subscribers", len(subs),
	)
	return nil
}

// Subscribe starts a consumer goroutine that lives until ctx is done.
// Handler errors are logged and the event is not redelivered.
func (b *Bus) Subscribe(ctx context.Context, topic string, consumerGroup string, handler Handler) error {
	sub := &subscription{ch: make(chan contractsv1.Envelope, b.bufferSize)}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, sub)
				return
			case event := <-sub.ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// SubscriberCount reports the live subscriptions on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

func (b *Bus) removeSubscriber(topic string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[topic]
	filtered := make([]*subscription, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[topic] = filtered
}
