package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/audit"
)

type RespondToAmendmentCommand struct {
	AmendmentID string
	PartyID     string
	Decision    entities.ResponseDecision
	Notes       string
}

// RespondToAmendmentUseCase records one party's decision. The repository
// decides the new status under the amendment row lock; only the write that
// moved PENDING to APPLIED reaches the ChangeApplier.
type RespondToAmendmentUseCase struct {
	Repository  ports.Repository
	Applier     ports.ChangeApplier
	Audit       audit.Sink
	Metrics     ports.Metrics
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Roster      ReconcilePartiesUseCase
	Logger      *slog.Logger
}

func (u RespondToAmendmentUseCase) Execute(ctx context.Context, cmd RespondToAmendmentCommand) (AmendmentResult, error) {
	logger := application.ResolveLogger(u.Logger)
	amendmentID := strings.TrimSpace(cmd.AmendmentID)
	partyID := strings.TrimSpace(cmd.PartyID)

	if amendmentID == "" {
		return AmendmentResult{}, domainerrors.ErrInvalidAmendmentID
	}
	if partyID == "" {
		return AmendmentResult{}, domainerrors.ErrInvalidPartyID
	}
	decision := entities.ResponseDecision(strings.ToUpper(strings.TrimSpace(string(cmd.Decision))))
	if !decision.Valid() {
		return AmendmentResult{}, domainerrors.ErrInvalidDecision
	}

	outboxIDs, err := newOutboxIDs(ctx, u.IDGenerator)
	if err != nil {
		return AmendmentResult{}, classify(err)
	}
	now := u.now()
	outcome, err := u.Repository.RespondToAmendment(ctx, ports.RespondInput{
		AmendmentID: amendmentID,
		Response: entities.PartyResponse{
			PartyID:     partyID,
			Decision:    decision,
			Notes:       strings.TrimSpace(cmd.Notes),
			RespondedAt: now,
		},
		OutboxIDs: outboxIDs,
	})
	if err != nil {
		logger.Warn("respond to amendment failed",
			"event", "amendment_respond_failed",
			"module", application.ModuleName,
			"layer", "application",
			"amendment_id", amendmentID,
			"party_id", partyID,
			"error", err.Error(),
		)
		return AmendmentResult{}, classify(err)
	}

	response := outcome.Response
	result := AmendmentResult{
		Amendment:        outcome.Amendment,
		Response:         &response,
		AlreadyResponded: outcome.AlreadyResponded,
	}
	if outcome.AlreadyResponded {
		logger.Info("amendment response replayed",
			"event", "amendment_respond_already_responded",
			"module", application.ModuleName,
			"layer", "application",
			"amendment_id", amendmentID,
			"party_id", partyID,
		)
		return result, nil
	}

	recordTransition(u.Metrics, outcome.Transition)
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    partyID,
		Action:     "amendment.responded",
		EntityType: "amendment",
		EntityID:   amendmentID,
		OccurredAt: now,
		Metadata: map[string]string{
			"decision": string(decision),
			"status":   string(outcome.Amendment.Status),
		},
	})

	if outcome.Transition.AppliedNow() {
		result.Applied = true
		if err := applyChanges(ctx, u.Applier, logger, outcome.Amendment, partyID); err != nil {
			return result, err
		}
		if err := u.Roster.afterApplied(ctx, outcome.Amendment, partyID); err != nil {
			return result, err
		}
	}

	logger.Info("amendment response recorded",
		"event", "amendment_respond_completed",
		"module", application.ModuleName,
		"layer", "application",
		"amendment_id", amendmentID,
		"party_id", partyID,
		"decision", string(decision),
		"status", string(outcome.Amendment.Status),
	)
	return result, nil
}

func (u RespondToAmendmentUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
