package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/authority-service/application"
	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/audit"
)

// UpdateDelegationCommand carries a field-level patch.
type UpdateDelegationCommand struct {
	DelegationID string
	UpdaterID    string
	Patch        entities.DelegationPatch
}

// UpdateDelegationUseCase merges a patch into an active delegation.
type UpdateDelegationUseCase struct {
	Repository   ports.Repository
	SummaryCache ports.SummaryCache
	Audit        audit.Sink
	IDGenerator  ports.IDGenerator
	Clock        ports.Clock
	Logger       *slog.Logger
}

func (u UpdateDelegationUseCase) Execute(ctx context.Context, cmd UpdateDelegationCommand) (DelegationResult, error) {
	logger := application.ResolveLogger(u.Logger)
	delegationID := strings.TrimSpace(cmd.DelegationID)
	updaterID := strings.TrimSpace(cmd.UpdaterID)

	if _, err := requireSuperAdmin(ctx, u.Repository, updaterID); err != nil {
		return DelegationResult{}, err
	}
	if delegationID == "" {
		return DelegationResult{}, domainerrors.ErrInvalidDelegationID
	}
	if cmd.Patch.Empty() {
		return DelegationResult{}, domainerrors.ErrEmptyPatch
	}
	if cmd.Patch.Notes != nil {
		notes := strings.TrimSpace(*cmd.Patch.Notes)
		cmd.Patch.Notes = &notes
	}

	outboxID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return DelegationResult{}, classify(err)
	}
	now := u.now()
	mutation, err := u.Repository.UpdateDelegation(ctx, ports.UpdateDelegationInput{
		DelegationID: delegationID,
		UpdaterID:    updaterID,
		Patch:        cmd.Patch,
		OutboxID:     outboxID,
		UpdatedAt:    now,
	})
	if err != nil {
		logger.Warn("update delegation failed",
			"event", "authority_update_delegation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"delegation_id", delegationID,
			"updater_id", updaterID,
			"error", err.Error(),
		)
		return DelegationResult{}, classify(err)
	}

	invalidateSummary(ctx, u.SummaryCache, logger, mutation.Delegation.GranteeID)
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    updaterID,
		Action:     "delegation.updated",
		EntityType: "delegation",
		EntityID:   delegationID,
		OccurredAt: now,
	})

	logger.Info("update delegation completed",
		"event", "authority_update_delegation_completed",
		"module", application.ModuleName,
		"layer", "application",
		"delegation_id", delegationID,
		"updater_id", updaterID,
		"grantee_id", mutation.Delegation.GranteeID,
	)
	return DelegationResult{Delegation: mutation.Delegation, Summary: mutation.Summary}, nil
}

func (u UpdateDelegationUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
