// Package audit records who changed what, strictly after the change committed.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Entry is one audit record.
type Entry struct {
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	OccurredAt time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives committed audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Emit records entry and logs, rather than returns, sink failures: the
// mutation it describes has already committed.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, entry Entry) {
	if sink == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, entry); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("audit record failed",
			"event", "audit_record_failed",
			"module", "internal/shared/audit",
			"layer", "platform",
			"actor_id", entry.ActorID,
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err.Error(),
		)
	}
}

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONSink writes to w, or stdout when w is nil.
func NewJSONSink(w io.Writer) *JSONSink {
	if w == nil {
		w = os.Stdout
	}
	return &JSONSink{writer: w}
}

func (s *JSONSink) Record(_ context.Context, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// MemorySink keeps entries in memory for tests and local wiring.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	fail    error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, entry)
	return nil
}

// FailWith makes subsequent Record calls return err.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Actions lists recorded actions in order.
func (s *MemorySink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		items = append(items, entry.Action)
	}
	return items
}

var ErrSinkUnavailable = errors.New("audit sink unavailable")
