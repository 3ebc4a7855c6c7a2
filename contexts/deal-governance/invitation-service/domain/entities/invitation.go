package entities

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

type DealStatus string

const (
	DealPending   DealStatus = "PENDING"
	DealActive    DealStatus = "ACTIVE"
	DealCancelled DealStatus = "CANCELLED"
	DealCompleted DealStatus = "COMPLETED"
)

// Party is one invitee of a deal, addressed by an opaque invitation token.
type Party struct {
	PartyID          string           `json:"party_id"`
	DealID           string           `json:"deal_id"`
	Role             string           `json:"role,omitempty"`
	Email            string           `json:"email,omitempty"`
	InvitationStatus InvitationStatus `json:"invitation_status"`
	InvitationToken  string           `json:"-"`
	RespondedAt      *time.Time       `json:"responded_at,omitempty"`
	DeclineReason    string           `json:"decline_reason,omitempty"`
	Position         int              `json:"position"`
}

type Deal struct {
	DealID      string     `json:"deal_id"`
	Status      DealStatus `json:"status"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Membership is created when a party accepts.
type Membership struct {
	MembershipID string    `json:"membership_id"`
	DealID       string    `json:"deal_id"`
	PartyID      string    `json:"party_id"`
	JoinedAt     time.Time `json:"joined_at"`
}

// DealActivation is the deal status with every party's invitation status.
type DealActivation struct {
	Deal            Deal    `json:"deal"`
	Parties         []Party `json:"parties"`
	PendingParties  int     `json:"pending_parties"`
	DeclinedParties int     `json:"declined_parties"`
	Blocked         bool    `json:"blocked"`
}
