// Package amendment implements multi-party consensus on deal amendments.
//
// A current party proposes a change; every other current party approves or
// disputes it. Any dispute moves the amendment to DISPUTED for an authorized
// admin to resolve. Unanimous approval applies it, and the change is handed
// to the ChangeApplier by exactly one caller.
package amendment
