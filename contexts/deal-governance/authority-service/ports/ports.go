package ports

import (
	"context"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	contractsv1 "escrowline/contracts/gen/events/v1"

	"github.com/shopspring/decimal"
)

// Clock abstracts current time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts UUID generation for delegations and outbox rows.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// CreateDelegationInput is persisted atomically with the grantee summary and
// the outbox row.
type CreateDelegationInput struct {
	Delegation entities.Delegation
	OutboxID   string
}

// UpdateDelegationInput is merged under the delegation row lock.
type UpdateDelegationInput struct {
	DelegationID string
	UpdaterID    string
	Patch        entities.DelegationPatch
	OutboxID     string
	UpdatedAt    time.Time
}

// RevokeDelegationInput deactivates a delegation.
type RevokeDelegationInput struct {
	DelegationID string
	RevokerID    string
	OutboxID     string
	RevokedAt    time.Time
}

// DelegationMutationResult is returned by every delegation write.
type DelegationMutationResult struct {
	Delegation     entities.Delegation
	Summary        entities.AuthoritySummary
	AlreadyRevoked bool
}

// Repository is the write/read boundary for authority state. Every write
// recomputes the grantee summary and appends its outbox row in one unit.
type Repository interface {
	GetActor(ctx context.Context, actorID string) (entities.Actor, error)
	GetDelegation(ctx context.Context, delegationID string) (entities.Delegation, error)
	ListDelegationsByGrantee(ctx context.Context, granteeID string) ([]entities.Delegation, error)
	ListDelegationsByGrantor(ctx context.Context, grantorID string) ([]entities.Delegation, error)
	ListDelegations(ctx context.Context, includeInactive bool) ([]entities.Delegation, error)
	CreateDelegation(ctx context.Context, input CreateDelegationInput) (DelegationMutationResult, error)
	UpdateDelegation(ctx context.Context, input UpdateDelegationInput) (DelegationMutationResult, error)
	RevokeDelegation(ctx context.Context, input RevokeDelegationInput) (DelegationMutationResult, error)
	GetAuthoritySummary(ctx context.Context, actorID string) (entities.AuthoritySummary, error)
}

// SummaryCache is the read-through cache in front of GetAuthoritySummary.
type SummaryCache interface {
	GetSummary(ctx context.Context, actorID string) (entities.AuthoritySummary, bool, error)
	SetSummary(ctx context.Context, summary entities.AuthoritySummary, ttl time.Duration) error
	InvalidateSummary(ctx context.Context, actorID string) error
}

// OutboxMessage represents a pending relay message.
type OutboxMessage struct {
	OutboxID  string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxRepository supports worker relay polling and acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

// EventPublisher emits relayed outbox events to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

// EventDedupStore enforces idempotent processing for consumed events.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

// Metrics receives approval decision counts. Implementations must be safe
// for concurrent use.
type Metrics interface {
	RecordApprovalDecision(actionType string, allowed bool)
}

// DelegationEvent is the outbox payload of every delegation event.
type DelegationEvent struct {
	DelegationID         string                        `json:"delegation_id"`
	GranteeID            string                        `json:"grantee_id"`
	GrantorID            string                        `json:"grantor_id"`
	ActorID              string                        `json:"actor_id"`
	ApprovalTypes        []entities.ApprovalActionType `json:"approval_types"`
	MaxAmount            *decimal.Decimal              `json:"max_amount,omitempty"`
	RequiresSeniorReview bool                          `json:"requires_senior_review"`
	ValidUntil           *time.Time                    `json:"valid_until,omitempty"`
	Active               bool                          `json:"active"`
}

// NewDelegationEnvelope builds the outbox envelope for a delegation write,
// partitioned by grantee so the summary consumer sees writes in order.
func NewDelegationEnvelope(
	outboxID string,
	eventType string,
	actorID string,
	delegation entities.Delegation,
	occurredAt time.Time,
) (EventEnvelope, error) {
	return contractsv1.NewEnvelope(
		outboxID,
		eventType,
		"authority-service",
		"grantee_id",
		delegation.GranteeID,
		occurredAt,
		DelegationEvent{
			DelegationID:         delegation.DelegationID,
			GranteeID:            delegation.GranteeID,
			GrantorID:            delegation.GrantorID,
			ActorID:              actorID,
			ApprovalTypes:        delegation.ApprovalTypes,
			MaxAmount:            delegation.MaxAmount,
			RequiresSeniorReview: delegation.RequiresSeniorReview,
			ValidUntil:           delegation.ValidUntil,
			Active:               delegation.Active,
		},
	)
}
