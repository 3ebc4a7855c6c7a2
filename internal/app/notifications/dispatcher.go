// Package notifications turns relayed governance events into notifications
// for the people they concern.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	contractsv1 "escrowline/contracts/gen/events/v1"
	"escrowline/internal/shared/events"
)

const moduleName = "internal/app/notifications"

// Notification is one message addressed to an audience such as a deal room
// or a single actor.
type Notification struct {
	EventID   string
	EventType string
	Audience  string
	Subject   string
	Body      string
}

type Sender interface {
	Send(ctx context.Context, notification Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, notification Notification) error

func (f SenderFunc) Send(ctx context.Context, notification Notification) error {
	return f(ctx, notification)
}

// eventFields is the union of the identifiers carried by governance payloads.
type eventFields struct {
	DelegationID     string   `json:"delegation_id"`
	GranteeID        string   `json:"grantee_id"`
	ApprovalTypes    []string `json:"approval_types"`
	AmendmentID      string   `json:"amendment_id"`
	DealID           string   `json:"deal_id"`
	ActorID          string   `json:"actor_id"`
	Status           string   `json:"status"`
	Decision         string   `json:"decision"`
	Resolution       string   `json:"resolution"`
	PartyID          string   `json:"party_id"`
	InvitationStatus string   `json:"invitation_status"`
	DeclineReason    string   `json:"decline_reason"`
}

// Dispatcher consumes bus events. Delivery from the relay is at least once,
// so events are deduplicated by id within a bounded window.
type Dispatcher struct {
	Sender Sender
	Logger *slog.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

func NewDispatcher(sender Sender, capacity int, logger *slog.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Sender:   sender,
		Logger:   logger,
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, event contractsv1.Envelope) error {
	if !d.reserve(event.EventID) {
		d.Logger.Debug("notification skipped for duplicate event",
			"event", "notification_duplicate_skipped",
			"module", moduleName,
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var fields eventFields
	if err := json.Unmarshal(event.Data, &fields); err != nil {
		d.release(event.EventID)
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	notification, ok := render(event, fields)
	if !ok {
		return nil
	}
	if err := d.Sender.Send(ctx, notification); err != nil {
		d.release(event.EventID)
		return err
	}

	d.Logger.Info("notification dispatched",
		"event", "notification_dispatched",
		"module", moduleName,
		"layer", "worker",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"audience", notification.Audience,
	)
	return nil
}

func render(event contractsv1.Envelope, f eventFields) (Notification, bool) {
	n := Notification{EventID: event.EventID, EventType: event.EventType}
	switch event.EventType {
	case events.DelegationGranted:
		n.Audience = "actor:" + f.GranteeID
		n.Subject = "Approval authority granted"
		n.Body = fmt.Sprintf("Delegation %s grants approval for %v.", f.DelegationID, f.ApprovalTypes)
	case events.DelegationUpdated:
		n.Audience = "actor:" + f.GranteeID
		n.Subject = "Approval authority updated"
		n.Body = fmt.Sprintf("Delegation %s was updated.", f.DelegationID)
	case events.DelegationRevoked:
		n.Audience = "actor:" + f.GranteeID
		n.Subject = "Approval authority revoked"
		n.Body = fmt.Sprintf("Delegation %s is no longer active.", f.DelegationID)
	case events.AmendmentProposed:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Amendment proposed"
		n.Body = fmt.Sprintf("Amendment %s awaits your response.", f.AmendmentID)
	case events.AmendmentResponded:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Amendment response recorded"
		n.Body = fmt.Sprintf("%s responded %s to amendment %s.", f.ActorID, f.Decision, f.AmendmentID)
	case events.AmendmentApplied:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Amendment applied"
		n.Body = fmt.Sprintf("Amendment %s was approved and applied.", f.AmendmentID)
	case events.AmendmentDisputed:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Amendment disputed"
		n.Body = fmt.Sprintf("Amendment %s is disputed and needs resolution.", f.AmendmentID)
	case events.AmendmentResolved:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Amendment dispute resolved"
		n.Body = fmt.Sprintf("Amendment %s was resolved with %s.", f.AmendmentID, f.Resolution)
	case events.InvitationAccepted:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Invitation accepted"
		n.Body = fmt.Sprintf("%s joined the deal.", f.PartyID)
	case events.InvitationDeclined:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Invitation declined"
		n.Body = fmt.Sprintf("%s declined the invitation.", f.PartyID)
		if f.DeclineReason != "" {
			n.Body = fmt.Sprintf("%s declined the invitation: %s", f.PartyID, f.DeclineReason)
		}
	case events.DealActivated:
		n.Audience = "deal:" + f.DealID
		n.Subject = "Deal activated"
		n.Body = "Every party accepted. The deal is now active."
	default:
		return Notification{}, false
	}
	return n, true
}

// reserve reports whether eventID is new and records it.
func (d *Dispatcher) reserve(eventID string) bool {
	if eventID == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return false
	}
	d.seen[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	if len(d.order) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return true
}

// release forgets eventID so a redelivery is retried.
func (d *Dispatcher) release(eventID string) {
	if eventID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	for i := len(d.order) - 1; i >= 0; i-- {
		if d.order[i] == eventID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// LogSender writes notifications to the structured log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, notification Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"event", "notification_sent",
		"module", moduleName,
		"layer", "worker",
		"event_id", notification.EventID,
		"event_type", notification.EventType,
		"audience", notification.Audience,
		"subject", notification.Subject,
		"body", notification.Body,
	)
	return nil
}
