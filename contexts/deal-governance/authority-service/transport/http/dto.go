package httptransport

import "time"

// Amounts travel as decimal strings so no precision is lost in JSON numbers.

type GrantDelegationRequest struct {
	GranteeID            string     `json:"grantee_id"`
	ApprovalTypes        []string   `json:"approval_types"`
	MaxAmount            *string    `json:"max_amount,omitempty"`
	RequiresSeniorReview bool       `json:"requires_senior_review"`
	ValidUntil           *time.Time `json:"valid_until,omitempty"`
	Notes                string     `json:"notes,omitempty"`
}

// UpdateDelegationRequest omits fields to keep them. The clear flags remove
// an optional bound.
type UpdateDelegationRequest struct {
	ApprovalTypes        []string   `json:"approval_types,omitempty"`
	MaxAmount            *string    `json:"max_amount,omitempty"`
	ClearMaxAmount       bool       `json:"clear_max_amount,omitempty"`
	RequiresSeniorReview *bool      `json:"requires_senior_review,omitempty"`
	ValidUntil           *time.Time `json:"valid_until,omitempty"`
	ClearValidUntil      bool       `json:"clear_valid_until,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
}

type DelegationDTO struct {
	DelegationID         string     `json:"delegation_id"`
	GranteeID            string     `json:"grantee_id"`
	GrantorID            string     `json:"grantor_id"`
	ApprovalTypes        []string   `json:"approval_types"`
	MaxAmount            *string    `json:"max_amount,omitempty"`
	RequiresSeniorReview bool       `json:"requires_senior_review"`
	ValidUntil           *time.Time `json:"valid_until,omitempty"`
	Active               bool       `json:"active"`
	Notes                string     `json:"notes,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	RevokedAt            *time.Time `json:"revoked_at,omitempty"`
	RevokedBy            string     `json:"revoked_by,omitempty"`
}

type DelegationResponse struct {
	Delegation     DelegationDTO `json:"delegation"`
	AlreadyRevoked bool          `json:"already_revoked,omitempty"`
}

type ListDelegationsResponse struct {
	Delegations []DelegationDTO `json:"delegations"`
}

type CanApproveRequest struct {
	ActorID    string  `json:"actor_id"`
	ActionType string  `json:"action_type"`
	Amount     *string `json:"amount,omitempty"`
}

type CanApproveResponse struct {
	ActorID              string    `json:"actor_id"`
	ActionType           string    `json:"action_type"`
	Allowed              bool      `json:"allowed"`
	Reason               string    `json:"reason"`
	RequiresSeniorReview bool      `json:"requires_senior_review"`
	DelegationID         string    `json:"delegation_id,omitempty"`
	CheckedAt            time.Time `json:"checked_at"`
}

type AuthoritySummaryResponse struct {
	ActorID              string    `json:"actor_id"`
	ApprovalTypes        []string  `json:"approval_types"`
	MaxAmount            *string   `json:"max_amount,omitempty"`
	Unbounded            bool      `json:"unbounded"`
	RequiresSeniorReview bool      `json:"requires_senior_review"`
	ActiveDelegations    int       `json:"active_delegations"`
	RefreshedAt          time.Time `json:"refreshed_at"`
	CacheHit             bool      `json:"cache_hit"`
}

type DelegationStatsResponse struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Expired      int            `json:"expired"`
	Revoked      int            `json:"revoked"`
	ByActionType map[string]int `json:"by_action_type"`
	ComputedAt   time.Time      `json:"computed_at"`
}
