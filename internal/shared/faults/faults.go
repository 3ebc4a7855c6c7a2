// Package faults is the error taxonomy shared by every deal-governance service.
//
// Services keep their own sentinel values in domain/errors; those are built with
// New so errors.Is matches both the specific sentinel and its kind.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates how a failure propagates to callers.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	KindImmutableState   Kind = "immutable_state"
	KindAlreadyProcessed Kind = "already_processed"
	KindInternal         Kind = "internal"
)

const fallbackMessage = "internal error"

// Kind sentinels. They carry no code, so errors.Is(err, ErrNotFound) matches
// any NotFound error regardless of its specific code.
var (
	ErrNotFound         = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Reason: "permission denied"}
	ErrValidation       = &Error{Kind: KindValidation, Reason: "validation failed"}
	ErrConflict         = &Error{Kind: KindConflict, Reason: "conflict"}
	ErrImmutableState   = &Error{Kind: KindImmutableState, Reason: "immutable state"}
	ErrAlreadyProcessed = &Error{Kind: KindAlreadyProcessed, Reason: "already processed"}
	ErrInternal         = &Error{Kind: KindInternal, Reason: fallbackMessage}
)

// Error is a classified failure with a stable code and a human-readable reason.
type Error struct {
	Kind   Kind
	Code   string
	Reason string
	cause  error
}

// New builds a sentinel for a service's domain/errors package.
func New(kind Kind, code string, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

func (e *Error) Error() string {
	if e == nil {
		return fallbackMessage
	}
	if strings.TrimSpace(e.Reason) != "" {
		return e.Reason
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on kind, and on code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithReason returns a copy of e carrying a formatted reason.
func (e *Error) WithReason(format string, args ...any) *Error {
	clone := *e
	clone.Reason = fmt.Sprintf(format, args...)
	return &clone
}

// WithCause returns a copy of e wrapping cause for logging.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// Internal wraps a storage or runtime failure. The cause stays available to
// logs through errors.Unwrap but never reaches Message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Reason: fallbackMessage, cause: cause}
}

// KindOf reports the kind of err; unclassified errors are Internal.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified.Kind
	}
	return KindInternal
}

// CodeOf reports the stable code of err.
func CodeOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		if classified.Code != "" {
			return classified.Code
		}
		return string(classified.Kind)
	}
	return "internal"
}

// Message is the caller-safe text for err. Internal failures never leak.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if !errors.As(err, &classified) || classified == nil || classified.Kind == KindInternal {
		return fallbackMessage
	}
	text := strings.TrimSpace(classified.Reason)
	if text == "" {
		text = strings.TrimSpace(classified.Code)
	}
	if text == "" {
		return fallbackMessage
	}
	return text
}

// Normalize turns any recovered or returned value into a classified error.
// Strings, nil, bare structs and errors with empty messages all collapse to an
// Internal error with the fallback message.
func Normalize(value any) *Error {
	switch v := value.(type) {
	case nil:
		return Internal(errors.New("nil failure value"))
	case *Error:
		if v == nil {
			return Internal(errors.New("nil classified error"))
		}
		return v
	case error:
		var classified *Error
		if errors.As(v, &classified) && classified != nil {
			return classified
		}
		if strings.TrimSpace(safeErrorText(v)) == "" {
			return Internal(errors.New("error with empty message"))
		}
		return Internal(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return Internal(errors.New("empty failure message"))
		}
		return Internal(errors.New(v))
	case fmt.Stringer:
		return Internal(errors.New(safeStringer(v)))
	default:
		return Internal(fmt.Errorf("unexpected failure value of type %T", v))
	}
}

// Recover converts a panic in the calling function into *errp. Use as
// `defer faults.Recover(&err)`.
func Recover(errp *error) {
	if r := recover(); r != nil {
		*errp = Normalize(r)
	}
}

func safeErrorText(err error) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return err.Error()
}

func safeStringer(s fmt.Stringer) (text string) {
	defer func() {
		if recover() != nil {
			text = "unprintable failure value"
		}
	}()
	text = s.String()
	if strings.TrimSpace(text) == "" {
		return "empty failure value"
	}
	return text
}
