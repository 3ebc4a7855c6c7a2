package ports

import (
	"context"
	"time"

	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	contractsv1 "escrowline/contracts/gen/events/v1"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// AcceptInput is applied under the deal row lock. OutboxIDs holds the
// InvitationAccepted id and the DealActivated id.
type AcceptInput struct {
	Token        string
	MembershipID string
	OutboxIDs    [2]string
	AcceptedAt   time.Time
}

type AcceptOutcome struct {
	Party           entities.Party
	Deal            entities.Deal
	Membership      *entities.Membership
	AlreadyAccepted bool
	DealActivated   bool
}

type DeclineInput struct {
	Token      string
	Reason     string
	OutboxID   string
	DeclinedAt time.Time
}

type DeclineOutcome struct {
	Party           entities.Party
	Deal            entities.Deal
	AlreadyDeclined bool
}

// Repository owns parties, memberships and the deal status. AcceptInvitation
// and DeclineInvitation are each one atomic unit.
type Repository interface {
	AcceptInvitation(ctx context.Context, input AcceptInput) (AcceptOutcome, error)
	DeclineInvitation(ctx context.Context, input DeclineInput) (DeclineOutcome, error)
	GetDeal(ctx context.Context, dealID string) (entities.Deal, error)
	ListParties(ctx context.Context, dealID string) ([]entities.Party, error)
}

type OutboxMessage struct {
	OutboxID  string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventEnvelope = contractsv1.Envelope

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Metrics interface {
	RecordInvitationResponse(status string)
	RecordDealActivation()
}

// InvitationEvent is the outbox payload of invitation and activation events.
type InvitationEvent struct {
	DealID           string                    `json:"deal_id"`
	PartyID          string                    `json:"party_id"`
	InvitationStatus entities.InvitationStatus `json:"invitation_status"`
	DealStatus       entities.DealStatus       `json:"deal_status"`
	DeclineReason    string                    `json:"decline_reason,omitempty"`
	MembershipID     string                    `json:"membership_id,omitempty"`
}

// NewInvitationEnvelope builds an outbox envelope partitioned by deal.
func NewInvitationEnvelope(
	outboxID string,
	eventType string,
	party entities.Party,
	deal entities.Deal,
	membershipID string,
	occurredAt time.Time,
) (EventEnvelope, error) {
	return contractsv1.NewEnvelope(
		outboxID,
		eventType,
		"invitation-service",
		"deal_id",
		deal.DealID,
		occurredAt,
		InvitationEvent{
			DealID:           deal.DealID,
			PartyID:          party.PartyID,
			InvitationStatus: party.InvitationStatus,
			DealStatus:       deal.Status,
			DeclineReason:    party.DeclineReason,
			MembershipID:     membershipID,
		},
	)
}
