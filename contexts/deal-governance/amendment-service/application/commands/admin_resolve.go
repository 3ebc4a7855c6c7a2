package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/domain/services"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/audit"
)

// DisputeResolutionAction is the approval action an admin needs to resolve.
const DisputeResolutionAction = "DISPUTE_RESOLUTION"

type AdminResolveCommand struct {
	AmendmentID string
	AdminID     string
	Type        entities.ResolutionType
	Notes       string
}

// AdminResolveUseCase settles a DISPUTED amendment.
type AdminResolveUseCase struct {
	Repository  ports.Repository
	Approvals   ports.ApprovalGate
	Applier     ports.ChangeApplier
	Audit       audit.Sink
	Metrics     ports.Metrics
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Roster      ReconcilePartiesUseCase
	Logger      *slog.Logger
}

func (u AdminResolveUseCase) Execute(ctx context.Context, cmd AdminResolveCommand) (AmendmentResult, error) {
	logger := application.ResolveLogger(u.Logger)
	amendmentID := strings.TrimSpace(cmd.AmendmentID)
	adminID := strings.TrimSpace(cmd.AdminID)

	if amendmentID == "" {
		return AmendmentResult{}, domainerrors.ErrInvalidAmendmentID
	}
	if adminID == "" {
		return AmendmentResult{}, domainerrors.ErrInvalidPartyID
	}
	resolutionType := entities.ResolutionType(strings.ToUpper(strings.TrimSpace(string(cmd.Type))))
	if !resolutionType.Valid() {
		return AmendmentResult{}, domainerrors.ErrInvalidResolution
	}

	current, err := u.Repository.GetAmendment(ctx, amendmentID)
	if err != nil {
		return AmendmentResult{}, classify(err)
	}
	if err := services.CheckResolvable(current); err != nil {
		return AmendmentResult{}, err
	}
	if err := u.authorize(ctx, adminID); err != nil {
		logger.Warn("amendment resolution denied",
			"event", "amendment_resolve_denied",
			"module", application.ModuleName,
			"layer", "application",
			"amendment_id", amendmentID,
			"admin_id", adminID,
			"error", err.Error(),
		)
		return AmendmentResult{}, err
	}

	outboxIDs, err := newOutboxIDs(ctx, u.IDGenerator)
	if err != nil {
		return AmendmentResult{}, classify(err)
	}
	now := u.now()
	outcome, err := u.Repository.ResolveAmendment(ctx, ports.ResolveInput{
		AmendmentID: amendmentID,
		Resolution: entities.AdminResolution{
			Type:       resolutionType,
			Notes:      strings.TrimSpace(cmd.Notes),
			ResolvedBy: adminID,
			ResolvedAt: now,
		},
		OutboxIDs: outboxIDs,
	})
	if err != nil {
		logger.Warn("resolve amendment failed",
			"event", "amendment_resolve_failed",
			"module", application.ModuleName,
			"layer", "application",
			"amendment_id", amendmentID,
			"admin_id", adminID,
			"error", err.Error(),
		)
		return AmendmentResult{}, classify(err)
	}

	recordTransition(u.Metrics, outcome.Transition)
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    adminID,
		Action:     "amendment.resolved",
		EntityType: "amendment",
		EntityID:   amendmentID,
		OccurredAt: now,
		Metadata: map[string]string{
			"resolution": string(resolutionType),
			"status":     string(outcome.Amendment.Status),
		},
	})

	result := AmendmentResult{Amendment: outcome.Amendment}
	if outcome.Transition.AppliedNow() {
		result.Applied = true
		if err := applyChanges(ctx, u.Applier, logger, outcome.Amendment, adminID); err != nil {
			return result, err
		}
		if err := u.Roster.afterApplied(ctx, outcome.Amendment, adminID); err != nil {
			return result, err
		}
	}

	logger.Info("amendment resolved",
		"event", "amendment_resolve_completed",
		"module", application.ModuleName,
		"layer", "application",
		"amendment_id", amendmentID,
		"admin_id", adminID,
		"resolution", string(resolutionType),
		"status", string(outcome.Amendment.Status),
	)
	return result, nil
}

func (u AdminResolveUseCase) authorize(ctx context.Context, adminID string) error {
	if u.Approvals == nil {
		return domainerrors.ErrResolutionNotAuthorized
	}
	verdict, err := u.Approvals.CanApprove(ctx, adminID, DisputeResolutionAction, nil)
	if err != nil {
		return classify(err)
	}
	if !verdict.Allowed {
		if verdict.Reason != "" {
			return domainerrors.ErrResolutionNotAuthorized.WithReason("%s", verdict.Reason)
		}
		return domainerrors.ErrResolutionNotAuthorized
	}
	return nil
}

func (u AdminResolveUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
