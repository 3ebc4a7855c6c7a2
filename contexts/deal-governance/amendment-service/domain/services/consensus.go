package services

import (
	"strings"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
)

// IsCurrentParty reports whether partyID belongs to the deal and has not declined.
func IsCurrentParty(parties []entities.Party, partyID string) bool {
	for _, party := range parties {
		if party.PartyID == partyID {
			return party.Current()
		}
	}
	return false
}

// Decide derives the status from the full response set. Any dispute wins and
// sticks; otherwise the amendment applies once every current party approved.
func Decide(parties []entities.Party, responses []entities.PartyResponse) entities.AmendmentStatus {
	approvals := make(map[string]struct{}, len(responses))
	for _, response := range responses {
		if response.Decision == entities.DecisionDispute {
			return entities.AmendmentStatusDisputed
		}
		approvals[response.PartyID] = struct{}{}
	}
	current := 0
	for _, party := range parties {
		if !party.Current() {
			continue
		}
		current++
		if _, ok := approvals[party.PartyID]; !ok {
			return entities.AmendmentStatusPending
		}
	}
	if current == 0 {
		return entities.AmendmentStatusPending
	}
	return entities.AmendmentStatusApplied
}

// Transition captures a status change made by one write.
type Transition struct {
	From entities.AmendmentStatus `json:"from"`
	To   entities.AmendmentStatus `json:"to"`
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// AppliedNow reports whether this write is the one that applied the amendment.
func (t Transition) AppliedNow() bool {
	return t.Changed() && t.To == entities.AmendmentStatusApplied
}

// RespondOutcome is the result of recording one party response.
type RespondOutcome struct {
	Amendment        entities.Amendment
	Response         entities.PartyResponse
	AlreadyResponded bool
	Transition       Transition
}

// ApplyResponse records response against current, which must be the row read
// under lock together with parties. Checks run in a fixed order.
func ApplyResponse(
	current entities.Amendment,
	parties []entities.Party,
	response entities.PartyResponse,
) (RespondOutcome, error) {
	if current.Status.Terminal() {
		return RespondOutcome{}, domainerrors.ErrAmendmentFinalized.WithReason("amendment is %s and can no longer change", current.Status)
	}
	if current.Status != entities.AmendmentStatusPending {
		return RespondOutcome{}, domainerrors.ErrAmendmentNotPending.WithReason("amendment is %s, responses are closed", current.Status)
	}
	if !IsCurrentParty(parties, response.PartyID) {
		return RespondOutcome{}, domainerrors.ErrNotCurrentParty
	}
	if existing, ok := current.ResponseFrom(response.PartyID); ok {
		return RespondOutcome{
			Amendment:        current.Clone(),
			Response:         existing,
			AlreadyResponded: true,
			Transition:       Transition{From: current.Status, To: current.Status},
		}, nil
	}

	next := current.Clone()
	next.Responses = append(next.Responses, response)
	next.Status = Decide(parties, next.Responses)
	next.UpdatedAt = response.RespondedAt
	if next.Status == entities.AmendmentStatusApplied {
		appliedAt := response.RespondedAt
		next.AppliedAt = &appliedAt
	}
	return RespondOutcome{
		Amendment:  next,
		Response:   response,
		Transition: Transition{From: current.Status, To: next.Status},
	}, nil
}

// RosterOutcome is a pending amendment re-decided after its deal's party set
// changed.
type RosterOutcome struct {
	Amendment  entities.Amendment
	Transition Transition
}

// SettleAfterRosterChange re-decides a pending amendment against parties.
// The response set is unchanged, so the only move is PENDING to APPLIED once
// every remaining current party has approved. It reports false when nothing
// changes.
func SettleAfterRosterChange(current entities.Amendment, parties []entities.Party, at time.Time) (RosterOutcome, bool) {
	if current.Status != entities.AmendmentStatusPending {
		return RosterOutcome{}, false
	}
	status := Decide(parties, current.Responses)
	if status == current.Status {
		return RosterOutcome{}, false
	}
	next := current.Clone()
	next.Status = status
	next.UpdatedAt = at
	if status == entities.AmendmentStatusApplied {
		appliedAt := at
		next.AppliedAt = &appliedAt
	}
	return RosterOutcome{
		Amendment:  next,
		Transition: Transition{From: current.Status, To: status},
	}, true
}

// ApplyPartyChange returns parties with change applied. Unknown parties are
// ignored.
func ApplyPartyChange(parties []entities.Party, change entities.PartyChange) []entities.Party {
	next := make([]entities.Party, 0, len(parties))
	for _, party := range parties {
		if party.PartyID == change.PartyID {
			if change.Removed {
				continue
			}
			party.InvitationStatus = change.Status
		}
		next = append(next, party)
	}
	return next
}

// CheckResolvable enforces the admin resolution preconditions.
func CheckResolvable(current entities.Amendment) error {
	if current.Status.Terminal() {
		return domainerrors.ErrAmendmentFinalized.WithReason("amendment is %s and can no longer change", current.Status)
	}
	if current.Status != entities.AmendmentStatusDisputed {
		return domainerrors.ErrAmendmentNotDisputed
	}
	return nil
}

// ResolveOutcome is the result of an admin resolution.
type ResolveOutcome struct {
	Amendment  entities.Amendment
	Transition Transition
}

// ApplyResolution resolves a disputed amendment. A compromise request keeps
// it disputed so it can be resolved again or superseded.
func ApplyResolution(current entities.Amendment, resolution entities.AdminResolution) (ResolveOutcome, error) {
	if err := CheckResolvable(current); err != nil {
		return ResolveOutcome{}, err
	}
	next := current.Clone()
	next.AdminResolution = &resolution
	next.UpdatedAt = resolution.ResolvedAt
	switch resolution.Type {
	case entities.ResolutionApproveOverride:
		next.Status = entities.AmendmentStatusApplied
		appliedAt := resolution.ResolvedAt
		next.AppliedAt = &appliedAt
	case entities.ResolutionReject:
		next.Status = entities.AmendmentStatusRejected
	case entities.ResolutionRequestCompromise:
	default:
		return ResolveOutcome{}, domainerrors.ErrInvalidResolution
	}
	return ResolveOutcome{
		Amendment:  next,
		Transition: Transition{From: current.Status, To: next.Status},
	}, nil
}

// ValidateProposal checks the proposal payload.
func ValidateProposal(changes entities.ProposedChanges) error {
	if strings.TrimSpace(changes.AmendmentType) == "" {
		return domainerrors.ErrInvalidProposal.WithReason("amendment type is required")
	}
	if strings.TrimSpace(changes.Description) == "" {
		return domainerrors.ErrInvalidProposal.WithReason("description is required")
	}
	if err := changes.Changeset.Validate(); err != nil {
		return domainerrors.ErrInvalidProposal.WithReason("%s", err.Error())
	}
	return nil
}

// CheckSupersedes validates the amendment a new proposal replaces.
func CheckSupersedes(previous entities.Amendment, dealID string) error {
	if previous.DealID != dealID || previous.Status != entities.AmendmentStatusDisputed {
		return domainerrors.ErrInvalidSupersede
	}
	return nil
}
