package httptransport

import (
	"encoding/json"
	"time"
)

// ProposeAmendmentRequest carries the changeset in its tagged wire form,
// {"kind": "...", "data": {...}}.
type ProposeAmendmentRequest struct {
	AmendmentType string          `json:"amendment_type"`
	Description   string          `json:"description"`
	Reason        string          `json:"reason,omitempty"`
	Changeset     json.RawMessage `json:"changeset"`
	SupersedesID  string          `json:"supersedes_id,omitempty"`
}

type RespondRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

type ResolveRequest struct {
	Type  string `json:"type"`
	Notes string `json:"notes,omitempty"`
}

type PartyResponseDTO struct {
	PartyID     string    `json:"party_id"`
	Decision    string    `json:"decision"`
	Notes       string    `json:"notes,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

type AdminResolutionDTO struct {
	Type       string    `json:"type"`
	Notes      string    `json:"notes,omitempty"`
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type AmendmentDTO struct {
	AmendmentID     string              `json:"amendment_id"`
	DealID          string              `json:"deal_id"`
	ProposerID      string              `json:"proposer_id"`
	Status          string              `json:"status"`
	AmendmentType   string              `json:"amendment_type"`
	Description     string              `json:"description"`
	Reason          string              `json:"reason,omitempty"`
	Changeset       json.RawMessage     `json:"changeset"`
	Responses       []PartyResponseDTO  `json:"responses"`
	AdminResolution *AdminResolutionDTO `json:"admin_resolution,omitempty"`
	SupersedesID    string              `json:"supersedes_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	AppliedAt       *time.Time          `json:"applied_at,omitempty"`
}

type AmendmentResponse struct {
	Amendment        AmendmentDTO      `json:"amendment"`
	Response         *PartyResponseDTO `json:"response,omitempty"`
	AlreadyResponded bool              `json:"already_responded,omitempty"`
	Applied          bool              `json:"applied,omitempty"`
}

type ListAmendmentsResponse struct {
	Items []AmendmentDTO `json:"items"`
}
