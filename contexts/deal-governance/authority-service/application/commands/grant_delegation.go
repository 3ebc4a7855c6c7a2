package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/authority-service/application"
	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/domain/services"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/audit"
)

// GrantDelegationCommand contains input for a new delegation.
type GrantDelegationCommand struct {
	GrantorID string
	GranteeID string
	Spec      entities.DelegationSpec
}

// DelegationResult is returned by every delegation command.
type DelegationResult struct {
	Delegation     entities.Delegation       `json:"delegation"`
	Summary        entities.AuthoritySummary `json:"summary"`
	AlreadyRevoked bool                      `json:"already_revoked,omitempty"`
}

// GrantDelegationUseCase creates an active delegation from a super admin.
type GrantDelegationUseCase struct {
	Repository   ports.Repository
	SummaryCache ports.SummaryCache
	Audit        audit.Sink
	IDGenerator  ports.IDGenerator
	Clock        ports.Clock
	Logger       *slog.Logger
}

func (u GrantDelegationUseCase) Execute(ctx context.Context, cmd GrantDelegationCommand) (DelegationResult, error) {
	logger := application.ResolveLogger(u.Logger)
	grantorID := strings.TrimSpace(cmd.GrantorID)
	granteeID := strings.TrimSpace(cmd.GranteeID)
	logger.Info("grant delegation started",
		"event", "authority_grant_delegation_started",
		"module", application.ModuleName,
		"layer", "application",
		"grantor_id", grantorID,
		"grantee_id", granteeID,
	)

	if _, err := requireSuperAdmin(ctx, u.Repository, grantorID); err != nil {
		logger.Warn("grant delegation rejected",
			"event", "authority_grant_delegation_rejected",
			"module", application.ModuleName,
			"layer", "application",
			"grantor_id", grantorID,
			"grantee_id", granteeID,
			"error", err.Error(),
		)
		return DelegationResult{}, err
	}
	if granteeID == "" {
		return DelegationResult{}, domainerrors.ErrInvalidActorID
	}
	if _, err := u.Repository.GetActor(ctx, granteeID); err != nil {
		if errors.Is(err, domainerrors.ErrActorNotFound) {
			return DelegationResult{}, domainerrors.ErrGranteeNotFound
		}
		return DelegationResult{}, classify(err)
	}
	if granteeID == grantorID {
		return DelegationResult{}, domainerrors.ErrInvalidDelegation.WithReason("a super admin cannot delegate to themselves")
	}

	now := u.now()
	if err := services.ValidateSpec(cmd.Spec.ApprovalTypes, cmd.Spec.MaxAmount, cmd.Spec.ValidUntil, now); err != nil {
		return DelegationResult{}, err
	}

	delegationID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return DelegationResult{}, classify(err)
	}
	outboxID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return DelegationResult{}, classify(err)
	}

	delegation := entities.Delegation{
		DelegationID:         delegationID,
		GranteeID:            granteeID,
		GrantorID:            grantorID,
		ApprovalTypes:        append([]entities.ApprovalActionType(nil), cmd.Spec.ApprovalTypes...),
		MaxAmount:            cmd.Spec.MaxAmount,
		RequiresSeniorReview: cmd.Spec.RequiresSeniorReview,
		Active:               true,
		Notes:                services.NormalizeNotes(cmd.Spec.Notes),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if cmd.Spec.ValidUntil != nil {
		until := cmd.Spec.ValidUntil.UTC()
		delegation.ValidUntil = &until
	}

	mutation, err := u.Repository.CreateDelegation(ctx, ports.CreateDelegationInput{
		Delegation: delegation,
		OutboxID:   outboxID,
	})
	if err != nil {
		logger.Error("grant delegation write failed",
			"event", "authority_grant_delegation_write_failed",
			"module", application.ModuleName,
			"layer", "application",
			"grantor_id", grantorID,
			"grantee_id", granteeID,
			"error", err.Error(),
		)
		return DelegationResult{}, classify(err)
	}

	invalidateSummary(ctx, u.SummaryCache, logger, granteeID)
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    grantorID,
		Action:     "delegation.granted",
		EntityType: "delegation",
		EntityID:   mutation.Delegation.DelegationID,
		OccurredAt: now,
		Metadata:   map[string]string{"grantee_id": granteeID},
	})

	logger.Info("grant delegation completed",
		"event", "authority_grant_delegation_completed",
		"module", application.ModuleName,
		"layer", "application",
		"delegation_id", mutation.Delegation.DelegationID,
		"grantor_id", grantorID,
		"grantee_id", granteeID,
	)
	return DelegationResult{Delegation: mutation.Delegation, Summary: mutation.Summary}, nil
}

func (u GrantDelegationUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// invalidateSummary drops the cached read model after a committed write. A
// failure only leaves a stale cache entry until its TTL runs out.
func invalidateSummary(ctx context.Context, cache ports.SummaryCache, logger *slog.Logger, actorID string) {
	if cache == nil {
		return
	}
	if err := cache.InvalidateSummary(ctx, actorID); err != nil {
		logger.Warn("authority summary invalidation failed",
			"event", "authority_summary_invalidate_failed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"error", err.Error(),
		)
	}
}
