// Package invitation coordinates invitation responses and deal activation.
//
// Parties accept or decline by token. The deal activates the first time none
// of its parties is outstanding; the recount and the status swap happen under
// the deal row lock, so concurrent acceptances activate it at most once.
package invitation
