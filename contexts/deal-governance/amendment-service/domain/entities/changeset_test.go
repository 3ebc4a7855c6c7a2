package entities

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestChangesetWireFormat(t *testing.T) {
	changeset := NewChangeset(UpdatePaymentSchedule{Installments: []Installment{
		{Amount: decimal.RequireFromString("1500.25")},
	}})
	raw, err := json.Marshal(changeset)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if wire.Kind != "update_payment_schedule" || len(wire.Data) == 0 {
		t.Fatalf("unexpected wire form %s", string(raw))
	}

	var decoded Changeset
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	schedule, ok := decoded.Change.(UpdatePaymentSchedule)
	if !ok {
		t.Fatalf("expected UpdatePaymentSchedule, got %T", decoded.Change)
	}
	if !schedule.Installments[0].Amount.Equal(decimal.RequireFromString("1500.25")) {
		t.Fatalf("amount lost: %s", schedule.Installments[0].Amount)
	}
}

func TestChangesetDecodeRejectsUnknownKind(t *testing.T) {
	var decoded Changeset
	if err := json.Unmarshal([]byte(`{"kind":"teleport","data":{}}`), &decoded); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestChangesetValidate(t *testing.T) {
	cases := []struct {
		name  string
		set   Changeset
		valid bool
	}{
		{name: "empty", set: Changeset{}, valid: false},
		{name: "add party", set: NewChangeset(AddParty{PartyID: "p9", Role: "inspector"}), valid: true},
		{name: "add party without id", set: NewChangeset(AddParty{Role: "inspector"}), valid: false},
		{name: "remove party", set: NewChangeset(RemoveParty{PartyID: "p2"}), valid: true},
		{name: "no terms", set: NewChangeset(UpdateTerms{}), valid: false},
		{name: "negative milestone", set: NewChangeset(ChangeMilestoneSpec{MilestoneID: "m1", Amount: decimalPtr("-1")}), valid: false},
		{name: "zero installment", set: NewChangeset(UpdatePaymentSchedule{Installments: []Installment{{Amount: decimal.Zero}}}), valid: false},
		{name: "other null", set: NewChangeset(Other{Payload: json.RawMessage("null")}), valid: false},
		{name: "other", set: NewChangeset(Other{Payload: json.RawMessage(`{"note":"x"}`)}), valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.set.Validate()
			if (err == nil) != tc.valid {
				t.Fatalf("valid=%v, got err %v", tc.valid, err)
			}
		})
	}
}

func decimalPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}
