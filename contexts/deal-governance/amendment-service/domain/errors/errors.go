package errors

import "escrowline/internal/shared/faults"

var (
	ErrInvalidAmendmentID = faults.New(faults.KindValidation, "invalid_amendment_id", "invalid amendment id")
	ErrInvalidDealID      = faults.New(faults.KindValidation, "invalid_deal_id", "invalid deal id")
	ErrInvalidPartyID     = faults.New(faults.KindValidation, "invalid_party_id", "invalid party id")
	ErrInvalidProposal    = faults.New(faults.KindValidation, "invalid_proposal", "invalid amendment proposal")
	ErrInvalidDecision    = faults.New(faults.KindValidation, "invalid_decision", "decision must be APPROVE or DISPUTE")
	ErrInvalidResolution  = faults.New(faults.KindValidation, "invalid_resolution", "resolution must be APPROVE_OVERRIDE, REJECT or REQUEST_COMPROMISE")
	ErrInvalidPartyStatus = faults.New(faults.KindValidation, "invalid_party_status", "party status must be PENDING, ACCEPTED or DECLINED")

	ErrDealNotFound      = faults.New(faults.KindNotFound, "deal_not_found", "deal not found")
	ErrAmendmentNotFound = faults.New(faults.KindNotFound, "amendment_not_found", "amendment not found")

	ErrNotCurrentParty         = faults.New(faults.KindPermissionDenied, "not_current_party", "actor is not a current party of the deal")
	ErrResolutionNotAuthorized = faults.New(faults.KindPermissionDenied, "resolution_not_authorized", "actor may not resolve disputes")

	ErrAmendmentFinalized = faults.New(faults.KindImmutableState, "amendment_finalized", "amendment is already finalized")

	ErrAmendmentNotPending  = faults.New(faults.KindConflict, "amendment_not_pending", "amendment is not pending")
	ErrAmendmentNotDisputed = faults.New(faults.KindConflict, "amendment_not_disputed", "amendment is not disputed")
	ErrInvalidSupersede     = faults.New(faults.KindConflict, "invalid_supersede", "superseded amendment must be a disputed amendment of the same deal")
	ErrConcurrentWriteRetry = faults.New(faults.KindConflict, "concurrent_write", "concurrent update, retry")
	ErrIdempotencyConflict  = faults.New(faults.KindConflict, "idempotency_conflict", "idempotency key conflict")

	ErrChangeApplyFailed = faults.New(faults.KindInternal, "change_apply_failed", "internal error")
)
