package queries

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
	"escrowline/internal/shared/faults"

	"github.com/shopspring/decimal"
)

// CanApproveQuery asks whether ActorID may approve ActionType, optionally
// for a specific amount.
type CanApproveQuery struct {
	ActorID    string
	ActionType string
	Amount     *decimal.Decimal
}

// CanApproveUseCase evaluates approval authority against canonical delegation
// rows only. It never reads the summary cache.
type CanApproveUseCase struct {
	Repository ports.Repository
	Clock      ports.Clock
	Metrics    ports.Metrics
	Logger     *slog.Logger
}

// Execute returns deny-by-default together with the error on lookup failures.
func (u CanApproveUseCase) Execute(ctx context.Context, query CanApproveQuery) (entities.ApprovalDecision, error) {
	actorID := strings.TrimSpace(query.ActorID)
	if actorID == "" {
		return entities.ApprovalDecision{}, domainerrors.ErrInvalidActorID
	}
	action, ok := entities.ParseActionType(query.ActionType)
	if !ok {
		return entities.ApprovalDecision{}, domainerrors.ErrInvalidActionType.WithReason("unknown approval type %q", query.ActionType)
	}
	if query.Amount != nil && query.Amount.IsNegative() {
		return entities.ApprovalDecision{}, domainerrors.ErrInvalidAmount.WithReason("amount must not be negative")
	}

	logger := application.ResolveLogger(u.Logger)
	now := u.now()
	denied := entities.ApprovalDecision{
		ActorID:    actorID,
		ActionType: action,
		Amount:     query.Amount,
		Reason:     "deny_by_default",
		CheckedAt:  now,
	}

	var actor *entities.Actor
	loaded, err := u.Repository.GetActor(ctx, actorID)
	switch {
	case err == nil:
		actor = &loaded
	case errors.Is(err, domainerrors.ErrActorNotFound):
	default:
		logger.Error("approval actor lookup failed, deny by default",
			"event", "authority_can_approve_actor_lookup_failed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"action_type", string(action),
			"error", err.Error(),
		)
		u.record(action, false)
		return denied, faults.Internal(err)
	}

	var delegations []entities.Delegation
	if actor != nil && actor.Role != entities.RoleSuperAdmin && actor.Role != entities.RoleSeniorEscrowOfficer {
		delegations, err = u.Repository.ListDelegationsByGrantee(ctx, actorID)
		if err != nil {
			logger.Error("approval delegation lookup failed, deny by default",
				"event", "authority_can_approve_delegation_lookup_failed",
				"module", application.ModuleName,
				"layer", "application",
				"actor_id", actorID,
				"action_type", string(action),
				"error", err.Error(),
			)
			u.record(action, false)
			return denied, faults.Internal(err)
		}
	}

	decision := services.EvaluateApproval(actor, delegations, action, query.Amount, now)
	decision.ActorID = actorID
	u.record(action, decision.Allowed)
	if decision.Allowed {
		logger.Debug("approval allowed",
			"event", "authority_can_approve_allowed",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"action_type", string(action),
			"delegation_id", decision.DelegationID,
			"requires_senior_review", decision.RequiresSeniorReview,
		)
	} else {
		logger.Info("approval denied",
			"event", "authority_can_approve_denied",
			"module", application.ModuleName,
			"layer", "application",
			"actor_id", actorID,
			"action_type", string(action),
			"reason", decision.Reason,
		)
	}
	return decision, nil
}

func (u CanApproveUseCase) record(action entities.ApprovalActionType, allowed bool) {
	if u.Metrics != nil {
		u.Metrics.RecordApprovalDecision(string(action), allowed)
	}
}

func (u CanApproveUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
