package httptransport

import "time"

type DeclineInvitationRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PartyDTO struct {
	PartyID          string     `json:"party_id"`
	DealID           string     `json:"deal_id"`
	Role             string     `json:"role,omitempty"`
	InvitationStatus string     `json:"invitation_status"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
	DeclineReason    string     `json:"decline_reason,omitempty"`
}

type DealDTO struct {
	DealID      string     `json:"deal_id"`
	Status      string     `json:"status"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

type AcceptInvitationResponse struct {
	Party           PartyDTO `json:"party"`
	Deal            DealDTO  `json:"deal"`
	MembershipID    string   `json:"membership_id,omitempty"`
	AlreadyAccepted bool     `json:"already_accepted"`
	DealActivated   bool     `json:"deal_activated"`
}

type DeclineInvitationResponse struct {
	Party           PartyDTO `json:"party"`
	Deal            DealDTO  `json:"deal"`
	AlreadyDeclined bool     `json:"already_declined"`
}

type DealActivationResponse struct {
	Deal            DealDTO    `json:"deal"`
	Parties         []PartyDTO `json:"parties"`
	PendingParties  int        `json:"pending_parties"`
	DeclinedParties int        `json:"declined_parties"`
	Blocked         bool       `json:"blocked"`
}
