package errors

import "escrowline/internal/shared/faults"

var (
	ErrInvalidToken  = faults.New(faults.KindNotFound, "invitation_not_found", "invitation not found")
	ErrInvalidDealID = faults.New(faults.KindValidation, "invalid_deal_id", "invalid deal id")

	ErrDealNotFound = faults.New(faults.KindNotFound, "deal_not_found", "deal not found")

	ErrInvitationDeclined   = faults.New(faults.KindConflict, "invitation_declined", "invitation was declined")
	ErrInvitationAccepted   = faults.New(faults.KindConflict, "invitation_accepted", "invitation was already accepted")
	ErrConcurrentWriteRetry = faults.New(faults.KindConflict, "concurrent_write", "concurrent update, retry")
)
