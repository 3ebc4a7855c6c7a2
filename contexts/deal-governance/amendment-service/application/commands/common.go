package commands

import (
	"context"
	"errors"
	"log/slog"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/domain/services"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/faults"
)

// AmendmentResult is returned by every amendment command.
type AmendmentResult struct {
	Amendment        entities.Amendment
	Response         *entities.PartyResponse
	AlreadyResponded bool
	Applied          bool
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *faults.Error
	if errors.As(err, &classified) {
		return err
	}
	return faults.Internal(err)
}

func newOutboxIDs(ctx context.Context, generator ports.IDGenerator) ([2]string, error) {
	var ids [2]string
	for i := range ids {
		id, err := generator.NewID(ctx)
		if err != nil {
			return ids, err
		}
		ids[i] = id
	}
	return ids, nil
}

func recordTransition(metrics ports.Metrics, transition services.Transition) {
	if metrics == nil || !transition.Changed() {
		return
	}
	metrics.RecordAmendmentTransition(string(transition.From), string(transition.To))
}

// applyChanges hands an applied amendment to the ChangeApplier. The status
// is already committed, so a failure here leaves the deal behind the
// amendment and is reported as a consistency incident.
func applyChanges(
	ctx context.Context,
	applier ports.ChangeApplier,
	logger *slog.Logger,
	amendment entities.Amendment,
	actorID string,
) error {
	if applier == nil {
		return nil
	}
	err := applier.Apply(ctx, ports.ChangeRequest{
		AmendmentID: amendment.AmendmentID,
		DealID:      amendment.DealID,
		Changeset:   amendment.ProposedChanges.Changeset,
	})
	if err == nil {
		return nil
	}
	logger.Error("amendment applied but deal change failed",
		"event", "amendment_change_apply_failed",
		"module", application.ModuleName,
		"layer", "application",
		"incident", "data_consistency",
		"amendment_id", amendment.AmendmentID,
		"deal_id", amendment.DealID,
		"change_kind", string(amendment.ProposedChanges.Changeset.Kind()),
		"actor_id", actorID,
		"error", err.Error(),
	)
	return domainerrors.ErrChangeApplyFailed.WithCause(err)
}
