package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/audit"
)

// ReconcilePartiesCommand reports a change to a deal's party set. PartyID may
// be empty to only re-decide the deal's pending amendments.
type ReconcilePartiesCommand struct {
	DealID  string
	PartyID string
	Status  entities.InvitationStatus
	Removed bool
	ActorID string
}

// ReconcilePartiesUseCase re-decides pending amendments after a party
// declined or was removed, so an amendment every remaining party approved
// does not wait forever for a party that can no longer respond.
type ReconcilePartiesUseCase struct {
	Repository ports.Repository
	Applier    ports.ChangeApplier
	Audit      audit.Sink
	Metrics    ports.Metrics
	Clock      ports.Clock
	Logger     *slog.Logger
}

func (u ReconcilePartiesUseCase) Execute(ctx context.Context, cmd ReconcilePartiesCommand) ([]entities.Amendment, error) {
	logger := application.ResolveLogger(u.Logger)
	dealID := strings.TrimSpace(cmd.DealID)
	if dealID == "" {
		return nil, domainerrors.ErrInvalidDealID
	}

	input := ports.ReconcilePartiesInput{
		DealID:  dealID,
		ActorID: strings.TrimSpace(cmd.ActorID),
		At:      u.now(),
	}
	if partyID := strings.TrimSpace(cmd.PartyID); partyID != "" {
		status := entities.InvitationStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
		if !cmd.Removed && !status.Valid() {
			return nil, domainerrors.ErrInvalidPartyStatus
		}
		input.Change = &entities.PartyChange{PartyID: partyID, Status: status, Removed: cmd.Removed}
	}

	outcomes, err := u.Repository.ReconcileParties(ctx, input)
	if err != nil {
		logger.Warn("reconcile deal parties failed",
			"event", "amendment_reconcile_parties_failed",
			"module", application.ModuleName,
			"layer", "application",
			"deal_id", dealID,
			"error", err.Error(),
		)
		return nil, classify(err)
	}

	settled := make([]entities.Amendment, 0, len(outcomes))
	var applyErrs []error
	for _, outcome := range outcomes {
		settled = append(settled, outcome.Amendment)
		recordTransition(u.Metrics, outcome.Transition)
		audit.Emit(ctx, u.Audit, logger, audit.Entry{
			ActorID:    input.ActorID,
			Action:     "amendment.settled",
			EntityType: "amendment",
			EntityID:   outcome.Amendment.AmendmentID,
			OccurredAt: input.At,
			Metadata: map[string]string{
				"status": string(outcome.Amendment.Status),
			},
		})
		if !outcome.Transition.AppliedNow() {
			continue
		}
		if err := applyChanges(ctx, u.Applier, logger, outcome.Amendment, input.ActorID); err != nil {
			applyErrs = append(applyErrs, err)
			continue
		}
		if err := u.afterApplied(ctx, outcome.Amendment, input.ActorID); err != nil {
			applyErrs = append(applyErrs, err)
		}
	}

	logger.Info("deal parties reconciled",
		"event", "amendment_reconcile_parties_completed",
		"module", application.ModuleName,
		"layer", "application",
		"deal_id", dealID,
		"party_id", cmd.PartyID,
		"settled", len(settled),
	)
	return settled, errors.Join(applyErrs...)
}

// afterApplied re-decides the deal's other pending amendments when the
// applied changeset removed a party.
func (u ReconcilePartiesUseCase) afterApplied(ctx context.Context, amendment entities.Amendment, actorID string) error {
	removal, ok := amendment.ProposedChanges.Changeset.Change.(entities.RemoveParty)
	if !ok || u.Repository == nil {
		return nil
	}
	_, err := u.Execute(ctx, ReconcilePartiesCommand{
		DealID:  amendment.DealID,
		PartyID: removal.PartyID,
		Removed: true,
		ActorID: actorID,
	})
	return err
}

func (u ReconcilePartiesUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
