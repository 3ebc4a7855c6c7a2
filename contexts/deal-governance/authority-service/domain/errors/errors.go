package errors

import "escrowline/internal/shared/faults"

var (
	ErrInvalidActorID       = faults.New(faults.KindValidation, "invalid_actor_id", "invalid actor id")
	ErrInvalidDelegationID  = faults.New(faults.KindValidation, "invalid_delegation_id", "invalid delegation id")
	ErrInvalidActionType    = faults.New(faults.KindValidation, "invalid_action_type", "invalid approval action type")
	ErrInvalidAmount        = faults.New(faults.KindValidation, "invalid_amount", "amount must be positive")
	ErrInvalidDelegation    = faults.New(faults.KindValidation, "invalid_delegation", "invalid delegation")
	ErrEmptyPatch           = faults.New(faults.KindValidation, "empty_patch", "update contains no fields")
	ErrActorNotFound        = faults.New(faults.KindNotFound, "actor_not_found", "User not found")
	ErrGranteeNotFound      = faults.New(faults.KindNotFound, "grantee_not_found", "grantee not found")
	ErrDelegationNotFound   = faults.New(faults.KindNotFound, "delegation_not_found", "delegation not found")
	ErrSuperAdminRequired   = faults.New(faults.KindPermissionDenied, "super_admin_required", "only a SUPER_ADMIN may manage delegations")
	ErrForbidden            = faults.New(faults.KindPermissionDenied, "forbidden", "forbidden")
	ErrDelegationRevoked    = faults.New(faults.KindConflict, "delegation_revoked", "delegation is revoked")
	ErrIdempotencyConflict  = faults.New(faults.KindConflict, "idempotency_conflict", "idempotency key conflict")
	ErrSummaryCacheMiss     = faults.New(faults.KindNotFound, "summary_cache_miss", "authority summary not cached")
	ErrConcurrentWriteRetry = faults.New(faults.KindConflict, "concurrent_write", "concurrent update, retry")
)
