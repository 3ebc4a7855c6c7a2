package httpadapter

import (
	"context"
	"log/slog"
	"strings"

	application "escrowline/contexts/deal-governance/authority-service/application"
	"escrowline/contexts/deal-governance/authority-service/application/commands"
	"escrowline/contexts/deal-governance/authority-service/application/queries"
	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	httptransport "escrowline/contexts/deal-governance/authority-service/transport/http"

	"github.com/shopspring/decimal"
)

// Handler maps HTTP DTOs to application commands/queries.
type Handler struct {
	Grant      commands.GrantDelegationUseCase
	Update     commands.UpdateDelegationUseCase
	Revoke     commands.RevokeDelegationUseCase
	CanApprove queries.CanApproveUseCase
	List       queries.ListDelegationsUseCase
	Stats      queries.DelegationStatsUseCase
	Summary    queries.AuthoritySummaryUseCase
	Logger     *slog.Logger
}

func (h Handler) GrantDelegationHandler(
	ctx context.Context,
	actorID string,
	request httptransport.GrantDelegationRequest,
) (httptransport.DelegationResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	logger.Info("http grant delegation received",
		"event", "authority_http_grant_received",
		"module", application.ModuleName,
		"layer", "transport",
		"actor_id", actorID,
		"grantee_id", request.GranteeID,
	)

	types, err := parseActionTypes(request.ApprovalTypes)
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	maxAmount, err := parseAmount(request.MaxAmount)
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	result, err := h.Grant.Execute(ctx, commands.GrantDelegationCommand{
		GrantorID: actorID,
		GranteeID: request.GranteeID,
		Spec: entities.DelegationSpec{
			ApprovalTypes:        types,
			MaxAmount:            maxAmount,
			RequiresSeniorReview: request.RequiresSeniorReview,
			ValidUntil:           request.ValidUntil,
			Notes:                request.Notes,
		},
	})
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	return httptransport.DelegationResponse{Delegation: toDelegationDTO(result.Delegation)}, nil
}

func (h Handler) UpdateDelegationHandler(
	ctx context.Context,
	actorID string,
	delegationID string,
	request httptransport.UpdateDelegationRequest,
) (httptransport.DelegationResponse, error) {
	patch := entities.DelegationPatch{
		ClearMaxAmount:       request.ClearMaxAmount,
		RequiresSeniorReview: request.RequiresSeniorReview,
		ValidUntil:           request.ValidUntil,
		ClearValidUntil:      request.ClearValidUntil,
		Notes:                request.Notes,
	}
	if request.ApprovalTypes != nil {
		types, err := parseActionTypes(request.ApprovalTypes)
		if err != nil {
			return httptransport.DelegationResponse{}, err
		}
		patch.ApprovalTypes = types
	}
	if request.ClearMaxAmount && request.MaxAmount != nil {
		return httptransport.DelegationResponse{}, domainerrors.ErrInvalidDelegation.WithReason("max_amount and clear_max_amount are exclusive")
	}
	if request.ClearValidUntil && request.ValidUntil != nil {
		return httptransport.DelegationResponse{}, domainerrors.ErrInvalidDelegation.WithReason("valid_until and clear_valid_until are exclusive")
	}
	maxAmount, err := parseAmount(request.MaxAmount)
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	patch.MaxAmount = maxAmount

	result, err := h.Update.Execute(ctx, commands.UpdateDelegationCommand{
		DelegationID: delegationID,
		UpdaterID:    actorID,
		Patch:        patch,
	})
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	return httptransport.DelegationResponse{Delegation: toDelegationDTO(result.Delegation)}, nil
}

func (h Handler) RevokeDelegationHandler(
	ctx context.Context,
	actorID string,
	delegationID string,
) (httptransport.DelegationResponse, error) {
	result, err := h.Revoke.Execute(ctx, commands.RevokeDelegationCommand{
		DelegationID: delegationID,
		RevokerID:    actorID,
	})
	if err != nil {
		return httptransport.DelegationResponse{}, err
	}
	return httptransport.DelegationResponse{
		Delegation:     toDelegationDTO(result.Delegation),
		AlreadyRevoked: result.AlreadyRevoked,
	}, nil
}

func (h Handler) CanApproveHandler(
	ctx context.Context,
	request httptransport.CanApproveRequest,
) (httptransport.CanApproveResponse, error) {
	amount, err := parseAmount(request.Amount)
	if err != nil {
		return httptransport.CanApproveResponse{}, err
	}
	decision, err := h.CanApprove.Execute(ctx, queries.CanApproveQuery{
		ActorID:    request.ActorID,
		ActionType: request.ActionType,
		Amount:     amount,
	})
	if err != nil {
		return httptransport.CanApproveResponse{}, err
	}
	return httptransport.CanApproveResponse{
		ActorID:              decision.ActorID,
		ActionType:           string(decision.ActionType),
		Allowed:              decision.Allowed,
		Reason:               decision.Reason,
		RequiresSeniorReview: decision.RequiresSeniorReview,
		DelegationID:         decision.DelegationID,
		CheckedAt:            decision.CheckedAt,
	}, nil
}

func (h Handler) ListDelegationsHandler(
	ctx context.Context,
	actorID string,
	granteeID string,
	grantorID string,
	includeInactive bool,
) (httptransport.ListDelegationsResponse, error) {
	items, err := h.List.Execute(ctx, queries.ListDelegationsQuery{
		RequesterID:     actorID,
		GranteeID:       granteeID,
		GrantorID:       grantorID,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		return httptransport.ListDelegationsResponse{}, err
	}
	response := httptransport.ListDelegationsResponse{Delegations: make([]httptransport.DelegationDTO, 0, len(items))}
	for _, item := range items {
		response.Delegations = append(response.Delegations, toDelegationDTO(item))
	}
	return response, nil
}

func (h Handler) StatsHandler(ctx context.Context, actorID string) (httptransport.DelegationStatsResponse, error) {
	stats, err := h.Stats.Execute(ctx, actorID)
	if err != nil {
		return httptransport.DelegationStatsResponse{}, err
	}
	byType := make(map[string]int, len(stats.ByActionType))
	for action, count := range stats.ByActionType {
		byType[string(action)] = count
	}
	return httptransport.DelegationStatsResponse{
		Total:        stats.Total,
		Active:       stats.Active,
		Expired:      stats.Expired,
		Revoked:      stats.Revoked,
		ByActionType: byType,
		ComputedAt:   stats.ComputedAt,
	}, nil
}

func (h Handler) AuthoritySummaryHandler(
	ctx context.Context,
	actorID string,
	subjectID string,
) (httptransport.AuthoritySummaryResponse, error) {
	result, err := h.Summary.Execute(ctx, queries.AuthoritySummaryQuery{
		RequesterID: actorID,
		ActorID:     subjectID,
	})
	if err != nil {
		return httptransport.AuthoritySummaryResponse{}, err
	}
	summary := result.Summary
	return httptransport.AuthoritySummaryResponse{
		ActorID:              summary.ActorID,
		ApprovalTypes:        actionStrings(summary.ApprovalTypes),
		MaxAmount:            amountString(summary.MaxAmount),
		Unbounded:            summary.Unbounded,
		RequiresSeniorReview: summary.RequiresSeniorReview,
		ActiveDelegations:    summary.ActiveDelegations,
		RefreshedAt:          summary.RefreshedAt,
		CacheHit:             result.CacheHit,
	}, nil
}

func parseActionTypes(raw []string) ([]entities.ApprovalActionType, error) {
	items := make([]entities.ApprovalActionType, 0, len(raw))
	for _, value := range raw {
		action, ok := entities.ParseActionType(value)
		if !ok {
			return nil, domainerrors.ErrInvalidActionType.WithReason("unknown approval type %q", value)
		}
		items = append(items, action)
	}
	return items, nil
}

func parseAmount(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, domainerrors.ErrInvalidAmount.WithReason("amount %q is not a decimal", *raw)
	}
	return &amount, nil
}

func amountString(amount *decimal.Decimal) *string {
	if amount == nil {
		return nil
	}
	value := amount.String()
	return &value
}

func actionStrings(items []entities.ApprovalActionType) []string {
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, string(item))
	}
	return values
}

func toDelegationDTO(delegation entities.Delegation) httptransport.DelegationDTO {
	return httptransport.DelegationDTO{
		DelegationID:         delegation.DelegationID,
		GranteeID:            delegation.GranteeID,
		GrantorID:            delegation.GrantorID,
		ApprovalTypes:        actionStrings(delegation.ApprovalTypes),
		MaxAmount:            amountString(delegation.MaxAmount),
		RequiresSeniorReview: delegation.RequiresSeniorReview,
		ValidUntil:           delegation.ValidUntil,
		Active:               delegation.Active,
		Notes:                delegation.Notes,
		CreatedAt:            delegation.CreatedAt,
		UpdatedAt:            delegation.UpdatedAt,
		RevokedAt:            delegation.RevokedAt,
		RevokedBy:            delegation.RevokedBy,
	}
}
