// Package authority implements the approval authority registry of the
// deal-governance context.
//
// Super admins grant, update and revoke delegations; CanApprove answers
// whether an actor may approve a sensitive action for an amount, using the
// delegation rows as the only source of truth. A per-actor summary is kept
// beside the rows for reporting and cached in Redis.
package authority
