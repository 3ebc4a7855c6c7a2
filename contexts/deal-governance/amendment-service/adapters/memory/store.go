package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/domain/services"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/outbox"

	"github.com/google/uuid"
)

// Store is an in-memory adapter for amendments and the deal/party projection.
// Each read-modify-write runs entirely under mu, so the response set a
// decision is computed from is the one the write appends to.
type Store struct {
	mu sync.RWMutex

	deals      map[string]entities.Deal
	parties    map[string][]entities.Party
	amendments map[string]entities.Amendment
	outbox     *outbox.Buffer
}

func NewStore() *Store {
	return &Store{
		deals:      make(map[string]entities.Deal),
		parties:    make(map[string][]entities.Party),
		amendments: make(map[string]entities.Amendment),
		outbox:     outbox.NewBuffer(),
	}
}

// SeedDeal registers a deal with its parties in order.
func (s *Store) SeedDeal(deal entities.Deal, parties ...entities.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[deal.DealID] = deal
	items := make([]entities.Party, 0, len(parties))
	for _, party := range parties {
		party.DealID = deal.DealID
		items = append(items, party)
	}
	s.parties[deal.DealID] = items
}

// SetPartyStatus changes one party's invitation status without re-deciding
// pending amendments. Use ReconcileParties for that.
func (s *Store) SetPartyStatus(dealID string, partyID string, status entities.InvitationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, party := range s.parties[dealID] {
		if party.PartyID == partyID {
			s.parties[dealID][i].InvitationStatus = status
		}
	}
}

func (s *Store) GetDeal(_ context.Context, dealID string) (entities.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deal, ok := s.deals[dealID]
	if !ok {
		return entities.Deal{}, domainerrors.ErrDealNotFound
	}
	return deal, nil
}

func (s *Store) ListParties(_ context.Context, dealID string) ([]entities.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.deals[dealID]; !ok {
		return nil, domainerrors.ErrDealNotFound
	}
	return append([]entities.Party(nil), s.parties[dealID]...), nil
}

func (s *Store) GetAmendment(_ context.Context, amendmentID string) (entities.Amendment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	amendment, ok := s.amendments[amendmentID]
	if !ok {
		return entities.Amendment{}, domainerrors.ErrAmendmentNotFound
	}
	return amendment.Clone(), nil
}

func (s *Store) ListAmendmentsByDeal(_ context.Context, dealID string) ([]entities.Amendment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.deals[dealID]; !ok {
		return nil, domainerrors.ErrDealNotFound
	}
	items := make([]entities.Amendment, 0)
	for _, amendment := range s.amendments {
		if amendment.DealID == dealID {
			items = append(items, amendment.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].AmendmentID < items[j].AmendmentID
	})
	return items, nil
}

func (s *Store) CreateAmendment(_ context.Context, input ports.CreateAmendmentInput) (entities.Amendment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amendment := input.Amendment.Clone()
	if _, ok := s.deals[amendment.DealID]; !ok {
		return entities.Amendment{}, domainerrors.ErrDealNotFound
	}
	if _, exists := s.amendments[amendment.AmendmentID]; exists {
		return entities.Amendment{}, domainerrors.ErrIdempotencyConflict
	}
	if !services.IsCurrentParty(s.parties[amendment.DealID], amendment.ProposerID) {
		return entities.Amendment{}, domainerrors.ErrNotCurrentParty
	}
	if amendment.SupersedesID != "" {
		previous, ok := s.amendments[amendment.SupersedesID]
		if !ok {
			return entities.Amendment{}, domainerrors.ErrInvalidSupersede
		}
		if err := services.CheckSupersedes(previous, amendment.DealID); err != nil {
			return entities.Amendment{}, err
		}
	}
	if err := s.appendEventLocked(input.OutboxID, events.AmendmentProposed, amendment.ProposerID, amendment, "", amendment.CreatedAt); err != nil {
		return entities.Amendment{}, err
	}
	s.amendments[amendment.AmendmentID] = amendment
	return amendment.Clone(), nil
}

func (s *Store) RespondToAmendment(_ context.Context, input ports.RespondInput) (services.RespondOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.amendments[input.AmendmentID]
	if !ok {
		return services.RespondOutcome{}, domainerrors.ErrAmendmentNotFound
	}
	outcome, err := services.ApplyResponse(current.Clone(), s.parties[current.DealID], input.Response)
	if err != nil || outcome.AlreadyResponded {
		return outcome, err
	}

	at := input.Response.RespondedAt
	actorID := input.Response.PartyID
	if err := s.appendEventLocked(input.OutboxIDs[0], events.AmendmentResponded, actorID, outcome.Amendment, current.Status, at); err != nil {
		return services.RespondOutcome{}, err
	}
	if eventType, ok := statusEvent(outcome.Transition); ok {
		if err := s.appendEventLocked(input.OutboxIDs[1], eventType, actorID, outcome.Amendment, current.Status, at); err != nil {
			return services.RespondOutcome{}, err
		}
	}
	s.amendments[input.AmendmentID] = outcome.Amendment.Clone()
	return outcome, nil
}

func (s *Store) ResolveAmendment(_ context.Context, input ports.ResolveInput) (services.ResolveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.amendments[input.AmendmentID]
	if !ok {
		return services.ResolveOutcome{}, domainerrors.ErrAmendmentNotFound
	}
	outcome, err := services.ApplyResolution(current.Clone(), input.Resolution)
	if err != nil {
		return services.ResolveOutcome{}, err
	}

	at := input.Resolution.ResolvedAt
	actorID := input.Resolution.ResolvedBy
	if err := s.appendEventLocked(input.OutboxIDs[0], events.AmendmentResolved, actorID, outcome.Amendment, current.Status, at); err != nil {
		return services.ResolveOutcome{}, err
	}
	if outcome.Transition.AppliedNow() {
		if err := s.appendEventLocked(input.OutboxIDs[1], events.AmendmentApplied, actorID, outcome.Amendment, current.Status, at); err != nil {
			return services.ResolveOutcome{}, err
		}
	}
	s.amendments[input.AmendmentID] = outcome.Amendment.Clone()
	return outcome, nil
}

func (s *Store) ReconcileParties(_ context.Context, input ports.ReconcilePartiesInput) ([]services.RosterOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deals[input.DealID]; !ok {
		return nil, domainerrors.ErrDealNotFound
	}
	parties := s.parties[input.DealID]
	if input.Change != nil {
		parties = services.ApplyPartyChange(parties, *input.Change)
	}

	pending := make([]entities.Amendment, 0)
	for _, amendment := range s.amendments {
		if amendment.DealID == input.DealID && amendment.Status == entities.AmendmentStatusPending {
			pending = append(pending, amendment)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].AmendmentID < pending[j].AmendmentID
	})

	outcomes := make([]services.RosterOutcome, 0)
	settled := make(map[string]entities.Amendment)
	for _, current := range pending {
		outcome, changed := services.SettleAfterRosterChange(current.Clone(), parties, input.At)
		if !changed {
			continue
		}
		if eventType, ok := statusEvent(outcome.Transition); ok {
			if err := s.appendEventLocked(uuid.NewString(), eventType, input.ActorID, outcome.Amendment, current.Status, input.At); err != nil {
				return nil, err
			}
		}
		settled[current.AmendmentID] = outcome.Amendment.Clone()
		outcomes = append(outcomes, outcome)
	}

	s.parties[input.DealID] = parties
	for id, amendment := range settled {
		s.amendments[id] = amendment
	}
	return outcomes, nil
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

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) appendEventLocked(
	outboxID string,
	eventType string,
	actorID string,
	amendment entities.Amendment,
	previous entities.AmendmentStatus,
	at time.Time,
) error {
	envelope, err := ports.NewAmendmentEnvelope(outboxID, eventType, actorID, amendment, previous, at)
	if err != nil {
		return err
	}
	return s.outbox.Append(envelope)
}

// statusEvent maps a response-driven transition to its outcome event.
func statusEvent(transition services.Transition) (string, bool) {
	if !transition.Changed() {
		return "", false
	}
	switch transition.To {
	case entities.AmendmentStatusApplied:
		return events.AmendmentApplied, true
	case entities.AmendmentStatusDisputed:
		return events.AmendmentDisputed, true
	default:
		return "", false
	}
}
