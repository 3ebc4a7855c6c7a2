package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"

	"github.com/shopspring/decimal"
)

const (
	ReasonUserNotFound = "User not found"
	ReasonSuperAdmin   = "super_admin_role"
	ReasonSeniorRole   = "senior_escrow_officer_role"
	ReasonDelegated    = "active_delegation"
)

// NoDelegationReason is the denial text when nothing covers action.
func NoDelegationReason(action entities.ApprovalActionType) string {
	return fmt.Sprintf("No active delegation found for %s", action)
}

// AmountExceedsReason names both the attempted amount and the authorized limit.
func AmountExceedsReason(amount decimal.Decimal, limit decimal.Decimal, action entities.ApprovalActionType) string {
	return fmt.Sprintf("Amount %s exceeds delegated limit of %s for %s", amount.String(), limit.String(), action)
}

// SelectGoverningDelegation picks the delegation that decides action at now.
// When several match, the most recently created governs; ties on creation
// time fall back to the larger id so the choice is deterministic.
func SelectGoverningDelegation(
	delegations []entities.Delegation,
	action entities.ApprovalActionType,
	now time.Time,
) (entities.Delegation, bool) {
	var (
		selected entities.Delegation
		found    bool
	)
	for _, candidate := range delegations {
		if !candidate.EffectiveAt(now) || !candidate.Covers(action) {
			continue
		}
		if !found || newer(candidate, selected) {
			selected = candidate
			found = true
		}
	}
	return selected, found
}

func newer(a entities.Delegation, b entities.Delegation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.DelegationID > b.DelegationID
}

// EvaluateApproval applies role rules, then delegation rules, in order.
// actor is nil when the actor does not exist.
func EvaluateApproval(
	actor *entities.Actor,
	delegations []entities.Delegation,
	action entities.ApprovalActionType,
	amount *decimal.Decimal,
	now time.Time,
) entities.ApprovalDecision {
	decision := entities.ApprovalDecision{
		ActionType: action,
		Amount:     amount,
		CheckedAt:  now.UTC(),
	}
	if actor == nil {
		decision.Reason = ReasonUserNotFound
		return decision
	}
	decision.ActorID = actor.ActorID

	switch actor.Role {
	case entities.RoleSuperAdmin:
		decision.Allowed = true
		decision.Reason = ReasonSuperAdmin
		return decision
	case entities.RoleSeniorEscrowOfficer:
		decision.Allowed = true
		decision.Reason = ReasonSeniorRole
		return decision
	}

	delegation, ok := SelectGoverningDelegation(delegations, action, now)
	if !ok {
		decision.Reason = NoDelegationReason(action)
		return decision
	}
	decision.DelegationID = delegation.DelegationID
	if amount != nil && delegation.MaxAmount != nil && amount.GreaterThan(*delegation.MaxAmount) {
		decision.Reason = AmountExceedsReason(*amount, *delegation.MaxAmount, action)
		return decision
	}
	decision.Allowed = true
	decision.Reason = ReasonDelegated
	decision.RequiresSeniorReview = delegation.RequiresSeniorReview
	return decision
}

// BuildSummary derives the per-actor read model from canonical rows.
func BuildSummary(actorID string, delegations []entities.Delegation, now time.Time) entities.AuthoritySummary {
	summary := entities.AuthoritySummary{
		ActorID:       actorID,
		ApprovalTypes: []entities.ApprovalActionType{},
		RefreshedAt:   now.UTC(),
	}
	types := make(map[entities.ApprovalActionType]struct{})
	var maxAmount *decimal.Decimal
	for _, delegation := range delegations {
		if delegation.GranteeID != actorID || !delegation.EffectiveAt(now) {
			continue
		}
		summary.ActiveDelegations++
		if delegation.ValidUntil != nil && (summary.StaleAt == nil || delegation.ValidUntil.Before(*summary.StaleAt)) {
			staleAt := delegation.ValidUntil.UTC()
			summary.StaleAt = &staleAt
		}
		for _, action := range delegation.ApprovalTypes {
			types[action] = struct{}{}
		}
		if delegation.RequiresSeniorReview {
			summary.RequiresSeniorReview = true
		}
		if delegation.MaxAmount == nil {
			summary.Unbounded = true
			continue
		}
		if maxAmount == nil || delegation.MaxAmount.GreaterThan(*maxAmount) {
			value := *delegation.MaxAmount
			maxAmount = &value
		}
	}
	if !summary.Unbounded {
		summary.MaxAmount = maxAmount
	}
	for action := range types {
		summary.ApprovalTypes = append(summary.ApprovalTypes, action)
	}
	sort.Slice(summary.ApprovalTypes, func(i, j int) bool {
		return summary.ApprovalTypes[i] < summary.ApprovalTypes[j]
	})
	return summary
}

// BuildStats aggregates delegations for reporting.
func BuildStats(delegations []entities.Delegation, now time.Time) entities.DelegationStats {
	stats := entities.DelegationStats{
		ByActionType: make(map[entities.ApprovalActionType]int),
		ComputedAt:   now.UTC(),
	}
	for _, delegation := range delegations {
		stats.Total++
		switch {
		case !delegation.Active:
			stats.Revoked++
		case delegation.Expired(now):
			stats.Expired++
		default:
			stats.Active++
			for _, action := range delegation.ApprovalTypes {
				stats.ByActionType[action]++
			}
		}
	}
	return stats
}

// ValidateSpec checks a grant or a merged delegation before it is written.
func ValidateSpec(
	approvalTypes []entities.ApprovalActionType,
	maxAmount *decimal.Decimal,
	validUntil *time.Time,
	now time.Time,
) error {
	if len(approvalTypes) == 0 {
		return domainerrors.ErrInvalidDelegation.WithReason("at least one approval type is required")
	}
	seen := make(map[entities.ApprovalActionType]struct{}, len(approvalTypes))
	for _, action := range approvalTypes {
		if !action.Valid() {
			return domainerrors.ErrInvalidActionType.WithReason("unknown approval type %q", string(action))
		}
		if _, dup := seen[action]; dup {
			return domainerrors.ErrInvalidDelegation.WithReason("duplicate approval type %s", action)
		}
		seen[action] = struct{}{}
	}
	if maxAmount != nil && !maxAmount.IsPositive() {
		return domainerrors.ErrInvalidAmount.WithReason("max amount must be positive, got %s", maxAmount.String())
	}
	if validUntil != nil && !validUntil.After(now) {
		return domainerrors.ErrInvalidDelegation.WithReason("valid until must be in the future")
	}
	return nil
}

// NormalizeNotes trims free-text notes.
func NormalizeNotes(notes string) string {
	return strings.TrimSpace(notes)
}
