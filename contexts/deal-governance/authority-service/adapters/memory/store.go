package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/domain/services"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/outbox"

	"github.com/google/uuid"
)

// Store is an in-memory adapter implementing repository, cache, outbox and
// dedup ports. Every write runs under one mutex, which gives the same
// per-row serialization the postgres adapter gets from row locks.
type Store struct {
	mu sync.RWMutex

	actors      map[string]entities.Actor
	delegations map[string]entities.Delegation
	summaries   map[string]entities.AuthoritySummary

	cache  map[string]cacheEntry
	outbox *outbox.Buffer
	dedup  map[string]dedupEntry

	clock func() time.Time
}

type cacheEntry struct {
	Summary   entities.AuthoritySummary
	ExpiresAt time.Time
}

type dedupEntry struct {
	PayloadHash string
	ExpiresAt   time.Time
}

func NewStore() *Store {
	return &Store{
		actors:      make(map[string]entities.Actor),
		delegations: make(map[string]entities.Delegation),
		summaries:   make(map[string]entities.AuthoritySummary),
		cache:       make(map[string]cacheEntry),
		outbox:      outbox.NewBuffer(),
		dedup:       make(map[string]dedupEntry),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock pins Now for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = now
}

// SeedActor registers an actor. Roles are owned elsewhere; this is the only
// way they enter the store.
func (s *Store) SeedActor(actor entities.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[actor.ActorID] = actor
}

// SeedDelegation inserts a delegation as-is, bypassing grant validation.
func (s *Store) SeedDelegation(delegation entities.Delegation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegations[delegation.DelegationID] = cloneDelegation(delegation)
	s.refreshSummaryLocked(delegation.GranteeID, s.clock())
}

func (s *Store) GetActor(_ context.Context, actorID string) (entities.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.actors[actorID]
	if !ok {
		return entities.Actor{}, domainerrors.ErrActorNotFound
	}
	return actor, nil
}

func (s *Store) GetDelegation(_ context.Context, delegationID string) (entities.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delegation, ok := s.delegations[delegationID]
	if !ok {
		return entities.Delegation{}, domainerrors.ErrDelegationNotFound
	}
	return cloneDelegation(delegation), nil
}

func (s *Store) ListDelegationsByGrantee(_ context.Context, granteeID string) ([]entities.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(item entities.Delegation) bool { return item.GranteeID == granteeID }), nil
}

func (s *Store) ListDelegationsByGrantor(_ context.Context, grantorID string) ([]entities.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(item entities.Delegation) bool { return item.GrantorID == grantorID }), nil
}

func (s *Store) ListDelegations(_ context.Context, includeInactive bool) ([]entities.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(item entities.Delegation) bool { return includeInactive || item.Active }), nil
}

func (s *Store) CreateDelegation(_ context.Context, input ports.CreateDelegationInput) (ports.DelegationMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delegation := cloneDelegation(input.Delegation)
	if _, exists := s.delegations[delegation.DelegationID]; exists {
		return ports.DelegationMutationResult{}, domainerrors.ErrInvalidDelegation.WithReason("delegation %s already exists", delegation.DelegationID)
	}
	if _, ok := s.actors[delegation.GranteeID]; !ok {
		return ports.DelegationMutationResult{}, domainerrors.ErrGranteeNotFound
	}
	if err := s.appendEventLocked(input.OutboxID, events.DelegationGranted, delegation.GrantorID, delegation, delegation.CreatedAt); err != nil {
		return ports.DelegationMutationResult{}, err
	}
	s.delegations[delegation.DelegationID] = delegation
	summary := s.refreshSummaryLocked(delegation.GranteeID, delegation.CreatedAt)
	return ports.DelegationMutationResult{Delegation: cloneDelegation(delegation), Summary: summary}, nil
}

func (s *Store) UpdateDelegation(_ context.Context, input ports.UpdateDelegationInput) (ports.DelegationMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.delegations[input.DelegationID]
	if !ok {
		return ports.DelegationMutationResult{}, domainerrors.ErrDelegationNotFound
	}
	if !current.Active {
		return ports.DelegationMutationResult{}, domainerrors.ErrDelegationRevoked
	}
	next := input.Patch.Apply(cloneDelegation(current), input.UpdatedAt)
	if input.Patch.TouchesAuthority() {
		if err := services.ValidateSpec(next.ApprovalTypes, next.MaxAmount, next.ValidUntil, input.UpdatedAt); err != nil {
			return ports.DelegationMutationResult{}, err
		}
	}
	if err := s.appendEventLocked(input.OutboxID, events.DelegationUpdated, input.UpdaterID, next, input.UpdatedAt); err != nil {
		return ports.DelegationMutationResult{}, err
	}
	s.delegations[next.DelegationID] = next
	summary := s.refreshSummaryLocked(next.GranteeID, input.UpdatedAt)
	return ports.DelegationMutationResult{Delegation: cloneDelegation(next), Summary: summary}, nil
}

func (s *Store) RevokeDelegation(_ context.Context, input ports.RevokeDelegationInput) (ports.DelegationMutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.delegations[input.DelegationID]
	if !ok {
		return ports.DelegationMutationResult{}, domainerrors.ErrDelegationNotFound
	}
	if !current.Active {
		return ports.DelegationMutationResult{
			Delegation:     cloneDelegation(current),
			Summary:        s.summaryLocked(current.GranteeID, input.RevokedAt),
			AlreadyRevoked: true,
		}, nil
	}
	next := cloneDelegation(current)
	revokedAt := input.RevokedAt.UTC()
	next.Active = false
	next.RevokedAt = &revokedAt
	next.RevokedBy = input.RevokerID
	next.UpdatedAt = revokedAt
	if err := s.appendEventLocked(input.OutboxID, events.DelegationRevoked, input.RevokerID, next, revokedAt); err != nil {
		return ports.DelegationMutationResult{}, err
	}
	s.delegations[next.DelegationID] = next
	summary := s.refreshSummaryLocked(next.GranteeID, revokedAt)
	return ports.DelegationMutationResult{Delegation: cloneDelegation(next), Summary: summary}, nil
}

func (s *Store) GetAuthoritySummary(_ context.Context, actorID string) (entities.AuthoritySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.actors[actorID]; !ok {
		return entities.AuthoritySummary{}, domainerrors.ErrActorNotFound
	}
	return s.summaryLocked(actorID, s.clock()), nil
}

func (s *Store) GetSummary(_ context.Context, actorID string) (entities.AuthoritySummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[actorID]
	if !ok || !entry.ExpiresAt.After(s.clock()) {
		return entities.AuthoritySummary{}, false, nil
	}
	return entry.Summary, true, nil
}

func (s *Store) SetSummary(_ context.Context, summary entities.AuthoritySummary, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[summary.ActorID] = cacheEntry{Summary: summary, ExpiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *Store) InvalidateSummary(_ context.Context, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, actorID)
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.outbox.Pending(limit)
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		payload, err := json.Marshal(row.Envelope)
		if err != nil {
			return nil, err
		}
		items = append(items, ports.OutboxMessage{
			OutboxID:  row.OutboxID,
			EventType: row.EventType,
			Payload:   payload,
			CreatedAt: row.CreatedAt,
		})
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.MarkPublished(outboxID, publishedAt)
}

// OutboxEventTypes lists every event written so far, for assertions.
func (s *Store) OutboxEventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outbox.EventTypes()
}

func (s *Store) ReserveEvent(_ context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.dedup[eventID]
	if !ok || !existing.ExpiresAt.After(s.clock()) {
		s.dedup[eventID] = dedupEntry{PayloadHash: payloadHash, ExpiresAt: expiresAt.UTC()}
		return false, nil
	}
	if existing.PayloadHash != payloadHash {
		return false, domainerrors.ErrIdempotencyConflict
	}
	return true, nil
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) appendEventLocked(
	outboxID string,
	eventType string,
	actorID string,
	delegation entities.Delegation,
	at time.Time,
) error {
	envelope, err := ports.NewDelegationEnvelope(outboxID, eventType, actorID, delegation, at)
	if err != nil {
		return err
	}
	return s.outbox.Append(envelope)
}

func (s *Store) refreshSummaryLocked(granteeID string, now time.Time) entities.AuthoritySummary {
	owned := s.filterLocked(func(item entities.Delegation) bool { return item.GranteeID == granteeID })
	summary := services.BuildSummary(granteeID, owned, now)
	s.summaries[granteeID] = summary
	return summary
}

func (s *Store) summaryLocked(actorID string, now time.Time) entities.AuthoritySummary {
	if summary, ok := s.summaries[actorID]; ok && !summary.StaleBy(now) {
		return summary
	}
	owned := s.filterLocked(func(item entities.Delegation) bool { return item.GranteeID == actorID })
	return services.BuildSummary(actorID, owned, now)
}

func (s *Store) filterLocked(keep func(entities.Delegation) bool) []entities.Delegation {
	items := make([]entities.Delegation, 0)
	for _, delegation := range s.delegations {
		if keep(delegation) {
			items = append(items, cloneDelegation(delegation))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].DelegationID > items[j].DelegationID
	})
	return items
}

func cloneDelegation(delegation entities.Delegation) entities.Delegation {
	clone := delegation
	clone.ApprovalTypes = append([]entities.ApprovalActionType(nil), delegation.ApprovalTypes...)
	if delegation.MaxAmount != nil {
		amount := *delegation.MaxAmount
		clone.MaxAmount = &amount
	}
	if delegation.ValidUntil != nil {
		until := *delegation.ValidUntil
		clone.ValidUntil = &until
	}
	if delegation.RevokedAt != nil {
		revokedAt := *delegation.RevokedAt
		clone.RevokedAt = &revokedAt
	}
	return clone
}
