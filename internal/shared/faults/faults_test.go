package faults

import (
	"errors"
	"fmt"
	"testing"
)

type emptyError struct{}

func (emptyError) Error() string { return "" }

type bareStruct struct {
	Field int
}

func TestSentinelMatchesKindAndCode(t *testing.T) {
	errDealNotFound := New(KindNotFound, "deal_not_found", "deal not found")
	derived := errDealNotFound.WithReason("deal %s not found", "deal-1")

	if !errors.Is(derived, errDealNotFound) {
		t.Fatalf("expected derived error to match its sentinel")
	}
	if !errors.Is(derived, ErrNotFound) {
		t.Fatalf("expected derived error to match kind sentinel")
	}
	if errors.Is(derived, ErrConflict) {
		t.Fatalf("did not expect conflict match")
	}
	other := New(KindNotFound, "party_not_found", "party not found")
	if errors.Is(derived, other) {
		t.Fatalf("did not expect match on a different code")
	}
	if derived.Error() != "deal deal-1 not found" {
		t.Fatalf("unexpected reason %q", derived.Error())
	}
}

func TestWrappedSentinelStillMatches(t *testing.T) {
	errLocked := New(KindConflict, "locked", "row locked")
	wrapped := fmt.Errorf("update failed: %w", errLocked)
	if !errors.Is(wrapped, ErrConflict) {
		t.Fatalf("expected wrapped conflict to match")
	}
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict kind, got %s", KindOf(wrapped))
	}
	if CodeOf(wrapped) != "locked" {
		t.Fatalf("expected locked code, got %s", CodeOf(wrapped))
	}
}

func TestInternalNeverLeaksCause(t *testing.T) {
	err := Internal(errors.New(`pq: relation "deals" does not exist`))
	if Message(err) != "internal error" {
		t.Fatalf("expected fallback message, got %q", Message(err))
	}
	if errors.Unwrap(err) == nil {
		t.Fatalf("expected cause to remain available for logs")
	}
	if Message(errors.New("raw storage failure")) != "internal error" {
		t.Fatalf("expected unclassified error to be hidden")
	}
}

func TestNormalizeNonStandardValues(t *testing.T) {
	cases := []struct {
		name  string
		value any
	}{
		{name: "nil", value: nil},
		{name: "string", value: "boom"},
		{name: "empty string", value: "   "},
		{name: "empty error", value: emptyError{}},
		{name: "bare struct", value: bareStruct{Field: 1}},
		{name: "map", value: map[string]any{"message": nil}},
		{name: "plain error", value: errors.New("disk full")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized := Normalize(tc.value)
			if normalized == nil {
				t.Fatalf("expected non-nil error")
			}
			if normalized.Kind != KindInternal {
				t.Fatalf("expected internal kind, got %s", normalized.Kind)
			}
			if Message(normalized) != "internal error" {
				t.Fatalf("expected fallback message, got %q", Message(normalized))
			}
		})
	}
}

func TestNormalizeKeepsClassifiedErrors(t *testing.T) {
	errTokenNotFound := New(KindNotFound, "token_not_found", "invitation not found")
	normalized := Normalize(fmt.Errorf("lookup: %w", errTokenNotFound))
	if normalized.Kind != KindNotFound {
		t.Fatalf("expected not found, got %s", normalized.Kind)
	}
	if Message(normalized) != "invitation not found" {
		t.Fatalf("unexpected message %q", Message(normalized))
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover(&err)
		panic(bareStruct{})
	}
	err := run()
	if err == nil {
		t.Fatalf("expected recovered error")
	}
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
