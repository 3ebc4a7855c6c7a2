package entities

import "time"

type AmendmentStatus string

const (
	AmendmentStatusPending  AmendmentStatus = "PENDING"
	AmendmentStatusDisputed AmendmentStatus = "DISPUTED"
	AmendmentStatusApplied  AmendmentStatus = "APPLIED"
	AmendmentStatusRejected AmendmentStatus = "REJECTED"
)

// Terminal statuses never change again.
func (s AmendmentStatus) Terminal() bool {
	return s == AmendmentStatusApplied || s == AmendmentStatusRejected
}

type ResponseDecision string

const (
	DecisionApprove ResponseDecision = "APPROVE"
	DecisionDispute ResponseDecision = "DISPUTE"
)

func (d ResponseDecision) Valid() bool {
	return d == DecisionApprove || d == DecisionDispute
}

type ResolutionType string

const (
	ResolutionApproveOverride   ResolutionType = "APPROVE_OVERRIDE"
	ResolutionReject            ResolutionType = "REJECT"
	ResolutionRequestCompromise ResolutionType = "REQUEST_COMPROMISE"
)

func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionApproveOverride, ResolutionReject, ResolutionRequestCompromise:
		return true
	default:
		return false
	}
}

// ProposedChanges describes what the amendment would change on the deal.
type ProposedChanges struct {
	AmendmentType string    `json:"amendment_type"`
	Description   string    `json:"description"`
	Reason        string    `json:"reason,omitempty"`
	Changeset     Changeset `json:"changeset"`
}

// PartyResponse is append-only; a party responds at most once.
type PartyResponse struct {
	PartyID     string           `json:"party_id"`
	Decision    ResponseDecision `json:"decision"`
	Notes       string           `json:"notes,omitempty"`
	RespondedAt time.Time        `json:"responded_at"`
}

type AdminResolution struct {
	Type       ResolutionType `json:"type"`
	Notes      string         `json:"notes,omitempty"`
	ResolvedBy string         `json:"resolved_by"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// Amendment is a proposed change to a deal that needs every current party's
// consent.
type Amendment struct {
	AmendmentID     string           `json:"amendment_id"`
	DealID          string           `json:"deal_id"`
	ProposerID      string           `json:"proposer_id"`
	Status          AmendmentStatus  `json:"status"`
	ProposedChanges ProposedChanges  `json:"proposed_changes"`
	Responses       []PartyResponse  `json:"responses"`
	AdminResolution *AdminResolution `json:"admin_resolution,omitempty"`
	SupersedesID    string           `json:"supersedes_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	AppliedAt       *time.Time       `json:"applied_at,omitempty"`
}

// ResponseFrom returns partyID's response, if any.
func (a Amendment) ResponseFrom(partyID string) (PartyResponse, bool) {
	for _, response := range a.Responses {
		if response.PartyID == partyID {
			return response, true
		}
	}
	return PartyResponse{}, false
}

// Clone copies slices and pointers so callers can mutate freely.
func (a Amendment) Clone() Amendment {
	clone := a
	clone.Responses = append([]PartyResponse(nil), a.Responses...)
	if a.AdminResolution != nil {
		resolution := *a.AdminResolution
		clone.AdminResolution = &resolution
	}
	if a.AppliedAt != nil {
		appliedAt := *a.AppliedAt
		clone.AppliedAt = &appliedAt
	}
	return clone
}
