package entities

import "strings"

// ApprovalActionType names a sensitive action that needs approval authority.
type ApprovalActionType string

const (
	ActionDealActivation       ApprovalActionType = "DEAL_ACTIVATION"
	ActionMilestoneApproval    ApprovalActionType = "MILESTONE_APPROVAL"
	ActionFundRelease          ApprovalActionType = "FUND_RELEASE"
	ActionDisputeResolution    ApprovalActionType = "DISPUTE_RESOLUTION"
	ActionContractModification ApprovalActionType = "CONTRACT_MODIFICATION"
	ActionPartyRemoval         ApprovalActionType = "PARTY_REMOVAL"
	ActionDealCancellation     ApprovalActionType = "DEAL_CANCELLATION"
)

func AllActionTypes() []ApprovalActionType {
	return []ApprovalActionType{
		ActionDealActivation,
		ActionMilestoneApproval,
		ActionFundRelease,
		ActionDisputeResolution,
		ActionContractModification,
		ActionPartyRemoval,
		ActionDealCancellation,
	}
}

func (t ApprovalActionType) Valid() bool {
	for _, candidate := range AllActionTypes() {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseActionType accepts any casing and surrounding whitespace.
func ParseActionType(raw string) (ApprovalActionType, bool) {
	value := ApprovalActionType(strings.ToUpper(strings.TrimSpace(raw)))
	return value, value.Valid()
}
