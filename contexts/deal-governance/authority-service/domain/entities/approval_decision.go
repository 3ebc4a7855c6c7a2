package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalDecision is the answer to "can actor X approve action Y (amount Z)".
type ApprovalDecision struct {
	ActorID              string             `json:"actor_id"`
	ActionType           ApprovalActionType `json:"action_type"`
	Amount               *decimal.Decimal   `json:"amount,omitempty"`
	Allowed              bool               `json:"allowed"`
	Reason               string             `json:"reason,omitempty"`
	RequiresSeniorReview bool               `json:"requires_senior_review"`
	DelegationID         string             `json:"delegation_id,omitempty"`
	CheckedAt            time.Time          `json:"checked_at"`
}
