package events

// Logical notification events. Each is written to its service outbox inside
// the committing transaction and relayed to the bus by a worker.
const (
	DelegationGranted = "authority.delegation_granted"
	DelegationUpdated = "authority.delegation_updated"
	DelegationRevoked = "authority.delegation_revoked"

	AmendmentProposed  = "amendment.proposed"
	AmendmentResponded = "amendment.responded"
	AmendmentApplied   = "amendment.applied"
	AmendmentDisputed  = "amendment.disputed"
	AmendmentResolved  = "amendment.resolved"

	InvitationAccepted = "invitation.accepted"
	InvitationDeclined = "invitation.declined"
	DealActivated      = "deal.activated"
)

// Topic is the single bus topic all governance events travel on; consumers
// switch on EventType.
const Topic = "deal-governance.events"

// All lists every event type in a stable order.
func All() []string {
	return []string{
		DelegationGranted,
		DelegationUpdated,
		DelegationRevoked,
		AmendmentProposed,
		AmendmentResponded,
		AmendmentApplied,
		AmendmentDisputed,
		AmendmentResolved,
		InvitationAccepted,
		InvitationDeclined,
		DealActivated,
	}
}
