package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Delegation is an amount- and time-bounded grant of approval authority from
// a super admin to another actor. Delegation rows are the only source of
// authorization truth.
type Delegation struct {
	DelegationID         string               `json:"delegation_id"`
	GranteeID            string               `json:"grantee_id"`
	GrantorID            string               `json:"grantor_id"`
	ApprovalTypes        []ApprovalActionType `json:"approval_types"`
	MaxAmount            *decimal.Decimal     `json:"max_amount,omitempty"`
	RequiresSeniorReview bool                 `json:"requires_senior_review"`
	ValidUntil           *time.Time           `json:"valid_until,omitempty"`
	Active               bool                 `json:"active"`
	Notes                string               `json:"notes,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	RevokedAt            *time.Time           `json:"revoked_at,omitempty"`
	RevokedBy            string               `json:"revoked_by,omitempty"`
}

// Covers reports whether the delegation names action.
func (d Delegation) Covers(action ApprovalActionType) bool {
	for _, item := range d.ApprovalTypes {
		if item == action {
			return true
		}
	}
	return false
}

// Expired is evaluated lazily; nothing sweeps expired rows.
func (d Delegation) Expired(now time.Time) bool {
	return d.ValidUntil != nil && !d.ValidUntil.After(now)
}

// EffectiveAt reports whether the delegation can authorize anything at now.
func (d Delegation) EffectiveAt(now time.Time) bool {
	return d.Active && !d.Expired(now)
}

// DelegationSpec is the grant request.
type DelegationSpec struct {
	ApprovalTypes        []ApprovalActionType
	MaxAmount            *decimal.Decimal
	RequiresSeniorReview bool
	ValidUntil           *time.Time
	Notes                string
}

// DelegationPatch is a field-level update. Nil fields keep their value;
// ClearMaxAmount and ClearValidUntil remove an optional bound explicitly.
type DelegationPatch struct {
	ApprovalTypes        []ApprovalActionType
	MaxAmount            *decimal.Decimal
	ClearMaxAmount       bool
	RequiresSeniorReview *bool
	ValidUntil           *time.Time
	ClearValidUntil      bool
	Notes                *string
}

func (p DelegationPatch) Empty() bool {
	return p.ApprovalTypes == nil &&
		p.MaxAmount == nil &&
		!p.ClearMaxAmount &&
		p.RequiresSeniorReview == nil &&
		p.ValidUntil == nil &&
		!p.ClearValidUntil &&
		p.Notes == nil
}

// TouchesAuthority reports whether the patch changes what the grantee may approve.
func (p DelegationPatch) TouchesAuthority() bool {
	return p.ApprovalTypes != nil ||
		p.MaxAmount != nil ||
		p.ClearMaxAmount ||
		p.RequiresSeniorReview != nil ||
		p.ValidUntil != nil ||
		p.ClearValidUntil
}

// Apply returns d with the patch merged in.
func (p DelegationPatch) Apply(d Delegation, now time.Time) Delegation {
	next := d
	if p.ApprovalTypes != nil {
		next.ApprovalTypes = append([]ApprovalActionType(nil), p.ApprovalTypes...)
	}
	switch {
	case p.ClearMaxAmount:
		next.MaxAmount = nil
	case p.MaxAmount != nil:
		amount := *p.MaxAmount
		next.MaxAmount = &amount
	}
	if p.RequiresSeniorReview != nil {
		next.RequiresSeniorReview = *p.RequiresSeniorReview
	}
	switch {
	case p.ClearValidUntil:
		next.ValidUntil = nil
	case p.ValidUntil != nil:
		until := p.ValidUntil.UTC()
		next.ValidUntil = &until
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	next.UpdatedAt = now.UTC()
	return next
}
