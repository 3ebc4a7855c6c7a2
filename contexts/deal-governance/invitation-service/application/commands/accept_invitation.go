package commands

import (
	"context"
	"log/slog"
	"time"

	application "escrowline/contexts/deal-governance/invitation-service/application"
	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	"escrowline/contexts/deal-governance/invitation-service/domain/services"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	"escrowline/internal/shared/audit"
	"escrowline/internal/shared/faults"
)

type AcceptInvitationResult struct {
	Party           entities.Party
	Deal            entities.Deal
	Membership      *entities.Membership
	AlreadyAccepted bool
	DealActivated   bool
}

// AcceptInvitationUseCase accepts by token and activates the deal when the
// last outstanding party accepts. At most one caller sees DealActivated.
type AcceptInvitationUseCase struct {
	Repository  ports.Repository
	Audit       audit.Sink
	Metrics     ports.Metrics
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Logger      *slog.Logger
}

func (u AcceptInvitationUseCase) Execute(ctx context.Context, token string) (result AcceptInvitationResult, err error) {
	logger := application.ResolveLogger(u.Logger)
	defer func() {
		if err != nil {
			err = normalize(logger, "invitation_accept_failed", err)
		}
	}()
	defer faults.Recover(&err)

	token, err = services.NormalizeToken(token)
	if err != nil {
		return AcceptInvitationResult{}, err
	}
	ids, err := newIDs(ctx, u.IDGenerator, 3)
	if err != nil {
		return AcceptInvitationResult{}, err
	}
	now := u.now()
	outcome, err := u.Repository.AcceptInvitation(ctx, ports.AcceptInput{
		Token:        token,
		MembershipID: ids[0],
		OutboxIDs:    [2]string{ids[1], ids[2]},
		AcceptedAt:   now,
	})
	if err != nil {
		return AcceptInvitationResult{}, err
	}

	result = AcceptInvitationResult{
		Party:           outcome.Party,
		Deal:            outcome.Deal,
		Membership:      outcome.Membership,
		AlreadyAccepted: outcome.AlreadyAccepted,
		DealActivated:   outcome.DealActivated,
	}
	if outcome.AlreadyAccepted {
		logger.Info("invitation accept replayed",
			"event", "invitation_accept_already_accepted",
			"module", application.ModuleName,
			"layer", "application",
			"deal_id", outcome.Deal.DealID,
			"party_id", outcome.Party.PartyID,
		)
		return result, nil
	}

	if u.Metrics != nil {
		u.Metrics.RecordInvitationResponse(string(entities.InvitationAccepted))
		if outcome.DealActivated {
			u.Metrics.RecordDealActivation()
		}
	}
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    outcome.Party.PartyID,
		Action:     "invitation.accepted",
		EntityType: "party",
		EntityID:   outcome.Party.PartyID,
		OccurredAt: now,
		Metadata:   map[string]string{"deal_id": outcome.Deal.DealID},
	})
	if outcome.DealActivated {
		audit.Emit(ctx, u.Audit, logger, audit.Entry{
			ActorID:    outcome.Party.PartyID,
			Action:     "deal.activated",
			EntityType: "deal",
			EntityID:   outcome.Deal.DealID,
			OccurredAt: now,
		})
	}

	logger.Info("invitation accepted",
		"event", "invitation_accept_completed",
		"module", application.ModuleName,
		"layer", "application",
		"deal_id", outcome.Deal.DealID,
		"party_id", outcome.Party.PartyID,
		"deal_activated", outcome.DealActivated,
	)
	return result, nil
}

func (u AcceptInvitationUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
