package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/authority-service/application"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/audit"
)

type RevokeDelegationCommand struct {
	DelegationID string
	RevokerID    string
}

// RevokeDelegationUseCase deactivates a delegation. Revoking twice succeeds
// with AlreadyRevoked set and writes nothing.
type RevokeDelegationUseCase struct {
	Repository   ports.Repository
	SummaryCache ports.SummaryCache
	Audit        audit.Sink
	IDGenerator  ports.IDGenerator
	Clock        ports.Clock
	Logger       *slog.Logger
}

func (u RevokeDelegationUseCase) Execute(ctx context.Context, cmd RevokeDelegationCommand) (DelegationResult, error) {
	logger := application.ResolveLogger(u.Logger)
	delegationID := strings.TrimSpace(cmd.DelegationID)
	revokerID := strings.TrimSpace(cmd.RevokerID)

	if _, err := requireSuperAdmin(ctx, u.Repository, revokerID); err != nil {
		return DelegationResult{}, err
	}
	if delegationID == "" {
		return DelegationResult{}, domainerrors.ErrInvalidDelegationID
	}

	outboxID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return DelegationResult{}, classify(err)
	}
	now := u.now()
	mutation, err := u.Repository.RevokeDelegation(ctx, ports.RevokeDelegationInput{
		DelegationID: delegationID,
		RevokerID:    revokerID,
		OutboxID:     outboxID,
		RevokedAt:    now,
	})
	if err != nil {
		logger.Warn("revoke delegation failed",
			"event", "authority_revoke_delegation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"delegation_id", delegationID,
			"revoker_id", revokerID,
			"error", err.Error(),
		)
		return DelegationResult{}, classify(err)
	}
	result := DelegationResult{
		Delegation:     mutation.Delegation,
		Summary:        mutation.Summary,
		AlreadyRevoked: mutation.AlreadyRevoked,
	}
	if mutation.AlreadyRevoked {
		logger.Info("revoke delegation replayed",
			"event", "authority_revoke_delegation_already_revoked",
			"module", application.ModuleName,
			"layer", "application",
			"delegation_id", delegationID,
			"revoker_id", revokerID,
		)
		return result, nil
	}

	invalidateSummary(ctx, u.SummaryCache, logger, mutation.Delegation.GranteeID)
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    revokerID,
		Action:     "delegation.revoked",
		EntityType: "delegation",
		EntityID:   delegationID,
		OccurredAt: now,
	})

	logger.Info("revoke delegation completed",
		"event", "authority_revoke_delegation_completed",
		"module", application.ModuleName,
		"layer", "application",
		"delegation_id", delegationID,
		"revoker_id", revokerID,
		"grantee_id", mutation.Delegation.GranteeID,
	)
	return result, nil
}

func (u RevokeDelegationUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
