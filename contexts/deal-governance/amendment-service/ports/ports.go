package ports

import (
	"context"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	"escrowline/contexts/deal-governance/amendment-service/domain/services"
	contractsv1 "escrowline/contracts/gen/events/v1"

	"github.com/shopspring/decimal"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// CreateAmendmentInput is persisted atomically with its outbox row.
type CreateAmendmentInput struct {
	Amendment entities.Amendment
	OutboxID  string
}

// RespondInput is applied under the amendment row lock. OutboxIDs holds one
// id for the response event and one for a possible outcome event.
type RespondInput struct {
	AmendmentID string
	Response    entities.PartyResponse
	OutboxIDs   [2]string
}

// ResolveInput is applied under the amendment row lock.
type ResolveInput struct {
	AmendmentID string
	Resolution  entities.AdminResolution
	OutboxIDs   [2]string
}

// ReconcilePartiesInput applies an optional party change and re-decides the
// deal's pending amendments in one atomic unit.
type ReconcilePartiesInput struct {
	DealID  string
	Change  *entities.PartyChange
	ActorID string
	At      time.Time
}

// Repository is the write/read boundary for amendments and the party
// projection they are decided against.
type Repository interface {
	GetDeal(ctx context.Context, dealID string) (entities.Deal, error)
	ListParties(ctx context.Context, dealID string) ([]entities.Party, error)
	GetAmendment(ctx context.Context, amendmentID string) (entities.Amendment, error)
	ListAmendmentsByDeal(ctx context.Context, dealID string) ([]entities.Amendment, error)
	CreateAmendment(ctx context.Context, input CreateAmendmentInput) (entities.Amendment, error)
	RespondToAmendment(ctx context.Context, input RespondInput) (services.RespondOutcome, error)
	ResolveAmendment(ctx context.Context, input ResolveInput) (services.ResolveOutcome, error)
	ReconcileParties(ctx context.Context, input ReconcilePartiesInput) ([]services.RosterOutcome, error)
}

// ChangeRequest is what ChangeApplier receives once an amendment applies.
type ChangeRequest struct {
	AmendmentID string             `json:"amendment_id"`
	DealID      string             `json:"deal_id"`
	Changeset   entities.Changeset `json:"changeset"`
}

// ChangeApplier mutates the deal. It is called at most once per amendment,
// after the APPLIED transition has committed.
type ChangeApplier interface {
	Apply(ctx context.Context, request ChangeRequest) error
}

// ApprovalVerdict is the answer of the approval policy evaluator.
type ApprovalVerdict struct {
	Allowed bool
	Reason  string
}

// ApprovalGate checks whether an actor may approve an action.
type ApprovalGate interface {
	CanApprove(ctx context.Context, actorID string, actionType string, amount *decimal.Decimal) (ApprovalVerdict, error)
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

// Metrics receives status transitions.
type Metrics interface {
	RecordAmendmentTransition(from string, to string)
}

// AmendmentEvent is the outbox payload of every amendment event.
type AmendmentEvent struct {
	AmendmentID   string                    `json:"amendment_id"`
	DealID        string                    `json:"deal_id"`
	ProposerID    string                    `json:"proposer_id"`
	ActorID       string                    `json:"actor_id"`
	Status        entities.AmendmentStatus  `json:"status"`
	PreviousState entities.AmendmentStatus  `json:"previous_status,omitempty"`
	Decision      entities.ResponseDecision `json:"decision,omitempty"`
	Resolution    entities.ResolutionType   `json:"resolution,omitempty"`
	ChangeKind    entities.ChangeKind       `json:"change_kind,omitempty"`
	SupersedesID  string                    `json:"supersedes_id,omitempty"`
	Responses     int                       `json:"responses"`
}

// NewAmendmentEnvelope builds an outbox envelope partitioned by deal.
func NewAmendmentEnvelope(
	outboxID string,
	eventType string,
	actorID string,
	amendment entities.Amendment,
	previous entities.AmendmentStatus,
	occurredAt time.Time,
) (EventEnvelope, error) {
	payload := AmendmentEvent{
		AmendmentID:   amendment.AmendmentID,
		DealID:        amendment.DealID,
		ProposerID:    amendment.ProposerID,
		ActorID:       actorID,
		Status:        amendment.Status,
		PreviousState: previous,
		ChangeKind:    amendment.ProposedChanges.Changeset.Kind(),
		SupersedesID:  amendment.SupersedesID,
		Responses:     len(amendment.Responses),
	}
	if response, ok := amendment.ResponseFrom(actorID); ok {
		payload.Decision = response.Decision
	}
	if amendment.AdminResolution != nil {
		payload.Resolution = amendment.AdminResolution.Type
	}
	return contractsv1.NewEnvelope(
		outboxID,
		eventType,
		"amendment-service",
		"deal_id",
		amendment.DealID,
		occurredAt,
		payload,
	)
}
