package outbox

import (
	"errors"
	"sort"
	"time"

	contractsv1 "escrowline/contracts/gen/events/v1"
)

const (
	StatusPending   = "pending"
	StatusPublished = "published"
)

// ErrNotFound is returned when acknowledging an unknown outbox row.
var ErrNotFound = errors.New("outbox record not found")

// ErrDuplicate is returned when an outbox id is reused.
var ErrDuplicate = errors.New("outbox record already exists")

// Message is an outbox row: persisted inside the same unit as the state
// change, published later by a relay worker.
type Message struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Envelope     contractsv1.Envelope
	Status       string
	CreatedAt    time.Time
	PublishedAt  *time.Time
	Sequence     int64
}

// Buffer is the in-memory outbox used by memory adapters. It is not
// goroutine-safe; callers hold their store lock.
type Buffer struct {
	rows map[string]Message
	next int64
}

func NewBuffer() *Buffer {
	return &Buffer{rows: make(map[string]Message)}
}

func (b *Buffer) Append(envelope contractsv1.Envelope) error {
	if _, exists := b.rows[envelope.EventID]; exists {
		return ErrDuplicate
	}
	b.next++
	b.rows[envelope.EventID] = Message{
		Sequence:     b.next,
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Envelope:     envelope,
		Status:       StatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	return nil
}

// Pending lists unpublished rows in append order.
func (b *Buffer) Pending(limit int) []Message {
	if limit <= 0 {
		limit = 100
	}
	rows := make([]Message, 0, len(b.rows))
	for _, row := range b.rows {
		if row.Status == StatusPending {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Sequence < rows[j].Sequence
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (b *Buffer) MarkPublished(outboxID string, publishedAt time.Time) error {
	row, ok := b.rows[outboxID]
	if !ok {
		return ErrNotFound
	}
	at := publishedAt.UTC()
	row.Status = StatusPublished
	row.PublishedAt = &at
	b.rows[outboxID] = row
	return nil
}

// EventTypes lists every appended event type, published or not, in append order.
func (b *Buffer) EventTypes() []string {
	rows := make([]Message, 0, len(b.rows))
	for _, row := range b.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Sequence < rows[j].Sequence
	})
	items := make([]string, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.EventType)
	}
	return items
}
