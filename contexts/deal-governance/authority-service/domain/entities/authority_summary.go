package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuthoritySummary is a per-actor read model derived from delegation rows.
// It is recomputed with every delegation write and never used to authorize.
// StaleAt is the earliest ValidUntil among the delegations it counts; from
// then on the summary must be rebuilt before it is served.
type AuthoritySummary struct {
	ActorID              string               `json:"actor_id"`
	ApprovalTypes        []ApprovalActionType `json:"approval_types"`
	MaxAmount            *decimal.Decimal     `json:"max_amount,omitempty"`
	Unbounded            bool                 `json:"unbounded"`
	RequiresSeniorReview bool                 `json:"requires_senior_review"`
	ActiveDelegations    int                  `json:"active_delegations"`
	RefreshedAt          time.Time            `json:"refreshed_at"`
	StaleAt              *time.Time           `json:"stale_at,omitempty"`
}

// StaleBy reports whether a counted delegation has expired by now.
func (s AuthoritySummary) StaleBy(now time.Time) bool {
	return s.StaleAt != nil && !s.StaleAt.After(now)
}

// DelegationStats aggregates the registry for reporting.
type DelegationStats struct {
	Total        int                        `json:"total"`
	Active       int                        `json:"active"`
	Expired      int                        `json:"expired"`
	Revoked      int                        `json:"revoked"`
	ByActionType map[ApprovalActionType]int `json:"by_action_type"`
	ComputedAt   time.Time                  `json:"computed_at"`
}
