package services

import (
	"strings"
	"time"

	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/invitation-service/domain/errors"
)

// NormalizeToken trims a token; an empty result never matches a party.
func NormalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domainerrors.ErrInvalidToken
	}
	return token, nil
}

// CheckAccept reports whether party can accept. An already accepted party is
// a replay and returns alreadyAccepted.
func CheckAccept(party entities.Party) (alreadyAccepted bool, err error) {
	switch party.InvitationStatus {
	case entities.InvitationAccepted:
		return true, nil
	case entities.InvitationDeclined:
		return false, domainerrors.ErrInvitationDeclined
	default:
		return false, nil
	}
}

// CheckDecline mirrors CheckAccept for declines.
func CheckDecline(party entities.Party) (alreadyDeclined bool, err error) {
	switch party.InvitationStatus {
	case entities.InvitationDeclined:
		return true, nil
	case entities.InvitationAccepted:
		return false, domainerrors.ErrInvitationAccepted
	default:
		return false, nil
	}
}

// Accept stamps the transition to ACCEPTED.
func Accept(party entities.Party, at time.Time) entities.Party {
	next := party
	respondedAt := at.UTC()
	next.InvitationStatus = entities.InvitationAccepted
	next.RespondedAt = &respondedAt
	return next
}

func Decline(party entities.Party, reason string, at time.Time) entities.Party {
	next := party
	respondedAt := at.UTC()
	next.InvitationStatus = entities.InvitationDeclined
	next.RespondedAt = &respondedAt
	next.DeclineReason = strings.TrimSpace(reason)
	return next
}

// CountNotAccepted counts parties still blocking activation.
func CountNotAccepted(parties []entities.Party) int {
	count := 0
	for _, party := range parties {
		if party.InvitationStatus != entities.InvitationAccepted {
			count++
		}
	}
	return count
}

// ShouldActivate is the activation rule: a PENDING deal with parties, none of
// which is outstanding. A declined party never counts as accepted.
func ShouldActivate(deal entities.Deal, parties []entities.Party) bool {
	return deal.Status == entities.DealPending && len(parties) > 0 && CountNotAccepted(parties) == 0
}

// BuildActivation summarizes a deal's activation state.
func BuildActivation(deal entities.Deal, parties []entities.Party) entities.DealActivation {
	view := entities.DealActivation{
		Deal:    deal,
		Parties: append([]entities.Party(nil), parties...),
	}
	for _, party := range parties {
		switch party.InvitationStatus {
		case entities.InvitationPending:
			view.PendingParties++
		case entities.InvitationDeclined:
			view.DeclinedParties++
		}
	}
	view.Blocked = deal.Status == entities.DealPending && view.DeclinedParties > 0
	return view
}
