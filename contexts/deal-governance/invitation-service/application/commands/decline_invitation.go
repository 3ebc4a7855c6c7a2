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

type DeclineInvitationCommand struct {
	Token  string
	Reason string
}

type DeclineInvitationResult struct {
	Party           entities.Party
	Deal            entities.Deal
	AlreadyDeclined bool
}

// DeclineInvitationUseCase declines by token. A declined party keeps the deal
// from ever activating automatically.
type DeclineInvitationUseCase struct {
	Repository  ports.Repository
	Audit       audit.Sink
	Metrics     ports.Metrics
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Logger      *slog.Logger
}

func (u DeclineInvitationUseCase) Execute(ctx context.Context, cmd DeclineInvitationCommand) (result DeclineInvitationResult, err error) {
	logger := application.ResolveLogger(u.Logger)
	defer func() {
		if err != nil {
			err = normalize(logger, "invitation_decline_failed", err)
		}
	}()
	defer faults.Recover(&err)

	token, err := services.NormalizeToken(cmd.Token)
	if err != nil {
		return DeclineInvitationResult{}, err
	}
	ids, err := newIDs(ctx, u.IDGenerator, 1)
	if err != nil {
		return DeclineInvitationResult{}, err
	}
	now := u.now()
	outcome, err := u.Repository.DeclineInvitation(ctx, ports.DeclineInput{
		Token:      token,
		Reason:     cmd.Reason,
		OutboxID:   ids[0],
		DeclinedAt: now,
	})
	if err != nil {
		return DeclineInvitationResult{}, err
	}
	result = DeclineInvitationResult{
		Party:           outcome.Party,
		Deal:            outcome.Deal,
		AlreadyDeclined: outcome.AlreadyDeclined,
	}
	if outcome.AlreadyDeclined {
		return result, nil
	}

	if u.Metrics != nil {
		u.Metrics.RecordInvitationResponse(string(entities.InvitationDeclined))
	}
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    outcome.Party.PartyID,
		Action:     "invitation.declined",
		EntityType: "party",
		EntityID:   outcome.Party.PartyID,
		OccurredAt: now,
		Metadata:   map[string]string{"deal_id": outcome.Deal.DealID},
	})
	logger.Info("invitation declined",
		"event", "invitation_decline_completed",
		"module", application.ModuleName,
		"layer", "application",
		"deal_id", outcome.Deal.DealID,
		"party_id", outcome.Party.PartyID,
	)
	return result, nil
}

func (u DeclineInvitationUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
