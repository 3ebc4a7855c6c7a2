package entities

// InvitationStatus mirrors the party lifecycle owned by invitation-service.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationDeclined:
		return true
	default:
		return false
	}
}

// Party is the read projection of a deal participant.
type Party struct {
	PartyID          string           `json:"party_id"`
	DealID           string           `json:"deal_id"`
	InvitationStatus InvitationStatus `json:"invitation_status"`
}

// Current reports whether the party still counts toward consensus.
func (p Party) Current() bool {
	return p.InvitationStatus != InvitationDeclined
}

// PartyChange is one change to a deal's party set: a new invitation status,
// or removal from the deal.
type PartyChange struct {
	PartyID string
	Status  InvitationStatus
	Removed bool
}

// Deal is the read projection of a deal.
type Deal struct {
	DealID string `json:"deal_id"`
	Status string `json:"status"`
}
