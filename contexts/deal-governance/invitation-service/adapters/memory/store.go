package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/invitation-service/domain/errors"
	"escrowline/contexts/deal-governance/invitation-service/domain/services"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/outbox"

	"github.com/google/uuid"
)

// Store keeps deals, parties and memberships in memory. Accept and decline
// hold mu for the whole read-recount-write so the activation check and the
// status swap cannot interleave.
type Store struct {
	mu sync.RWMutex

	deals       map[string]entities.Deal
	parties     map[string]entities.Party // by token
	memberships map[string]entities.Membership
	outbox      *outbox.Buffer
}

func NewStore() *Store {
	return &Store{
		deals:       make(map[string]entities.Deal),
		parties:     make(map[string]entities.Party),
		memberships: make(map[string]entities.Membership),
		outbox:      outbox.NewBuffer(),
	}
}

// SeedDeal registers a deal and its invitees. Party positions follow argument order.
func (s *Store) SeedDeal(deal entities.Deal, parties ...entities.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deal.Status == "" {
		deal.Status = entities.DealPending
	}
	s.deals[deal.DealID] = deal
	for i, party := range parties {
		party.DealID = deal.DealID
		party.Position = i
		if party.InvitationStatus == "" {
			party.InvitationStatus = entities.InvitationPending
		}
		s.parties[party.InvitationToken] = party
	}
}

func (s *Store) AcceptInvitation(_ context.Context, input ports.AcceptInput) (ports.AcceptOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, deal, err := s.lookupLocked(input.Token)
	if err != nil {
		return ports.AcceptOutcome{}, err
	}
	already, err := services.CheckAccept(party)
	if err != nil {
		return ports.AcceptOutcome{}, err
	}
	if already {
		return ports.AcceptOutcome{Party: party, Deal: deal, AlreadyAccepted: true}, nil
	}

	next := services.Accept(party, input.AcceptedAt)
	membership := entities.Membership{
		MembershipID: input.MembershipID,
		DealID:       deal.DealID,
		PartyID:      party.PartyID,
		JoinedAt:     input.AcceptedAt.UTC(),
	}
	if err := s.appendEventLocked(input.OutboxIDs[0], events.InvitationAccepted, next, deal, membership.MembershipID, input.AcceptedAt); err != nil {
		return ports.AcceptOutcome{}, err
	}
	s.parties[input.Token] = next
	s.memberships[membershipKey(deal.DealID, party.PartyID)] = membership

	outcome := ports.AcceptOutcome{Party: next, Deal: deal, Membership: &membership}
	if services.ShouldActivate(deal, s.partiesLocked(deal.DealID)) {
		activatedAt := input.AcceptedAt.UTC()
		deal.Status = entities.DealActive
		deal.ActivatedAt = &activatedAt
		if err := s.appendEventLocked(input.OutboxIDs[1], events.DealActivated, next, deal, "", input.AcceptedAt); err != nil {
			return ports.AcceptOutcome{}, err
		}
		s.deals[deal.DealID] = deal
		outcome.Deal = deal
		outcome.DealActivated = true
	}
	return outcome, nil
}

func (s *Store) DeclineInvitation(_ context.Context, input ports.DeclineInput) (ports.DeclineOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, deal, err := s.lookupLocked(input.Token)
	if err != nil {
		return ports.DeclineOutcome{}, err
	}
	already, err := services.CheckDecline(party)
	if err != nil {
		return ports.DeclineOutcome{}, err
	}
	if already {
		return ports.DeclineOutcome{Party: party, Deal: deal, AlreadyDeclined: true}, nil
	}
	next := services.Decline(party, input.Reason, input.DeclinedAt)
	if err := s.appendEventLocked(input.OutboxID, events.InvitationDeclined, next, deal, "", input.DeclinedAt); err != nil {
		return ports.DeclineOutcome{}, err
	}
	s.parties[input.Token] = next
	return ports.DeclineOutcome{Party: next, Deal: deal}, nil
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
	return s.partiesLocked(dealID), nil
}

// Memberships lists a deal's memberships, for assertions.
func (s *Store) Memberships(dealID string) []entities.Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Membership, 0)
	for _, membership := range s.memberships {
		if membership.DealID == dealID {
			items = append(items, membership)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PartyID < items[j].PartyID })
	return items
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

func (s *Store) lookupLocked(token string) (entities.Party, entities.Deal, error) {
	party, ok := s.parties[token]
	if !ok {
		return entities.Party{}, entities.Deal{}, domainerrors.ErrInvalidToken
	}
	deal, ok := s.deals[party.DealID]
	if !ok {
		return entities.Party{}, entities.Deal{}, domainerrors.ErrDealNotFound
	}
	return party, deal, nil
}

func (s *Store) partiesLocked(dealID string) []entities.Party {
	items := make([]entities.Party, 0)
	for _, party := range s.parties {
		if party.DealID == dealID {
			items = append(items, party)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items
}

func (s *Store) appendEventLocked(
	outboxID string,
	eventType string,
	party entities.Party,
	deal entities.Deal,
	membershipID string,
	at time.Time,
) error {
	envelope, err := ports.NewInvitationEnvelope(outboxID, eventType, party, deal, membershipID, at)
	if err != nil {
		return err
	}
	return s.outbox.Append(envelope)
}

func membershipKey(dealID string, partyID string) string {
	return dealID + "/" + partyID
}
