package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind tags the variant held by a Changeset.
type ChangeKind string

const (
	ChangeAddParty              ChangeKind = "add_party"
	ChangeRemoveParty           ChangeKind = "remove_party"
	ChangeUpdateTerms           ChangeKind = "update_terms"
	ChangeMilestone             ChangeKind = "change_milestone"
	ChangeUpdatePaymentSchedule ChangeKind = "update_payment_schedule"
	ChangeOther                 ChangeKind = "other"
)

// Change is one concrete changeset variant. The set is closed.
type Change interface {
	Kind() ChangeKind
	validate() error
}

type AddParty struct {
	PartyID string `json:"party_id"`
	Role    string `json:"role"`
	Email   string `json:"email,omitempty"`
}

type RemoveParty struct {
	PartyID string `json:"party_id"`
	Reason  string `json:"reason,omitempty"`
}

type UpdateTerms struct {
	Terms map[string]string `json:"terms"`
}

type ChangeMilestoneSpec struct {
	MilestoneID string           `json:"milestone_id"`
	Title       string           `json:"title,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

type Installment struct {
	DueDate time.Time       `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
}

type UpdatePaymentSchedule struct {
	Installments []Installment `json:"installments"`
}

// Other carries changes no typed variant describes yet.
type Other struct {
	Payload json.RawMessage `json:"payload"`
}

func (AddParty) Kind() ChangeKind              { return ChangeAddParty }
func (RemoveParty) Kind() ChangeKind           { return ChangeRemoveParty }
func (UpdateTerms) Kind() ChangeKind           { return ChangeUpdateTerms }
func (ChangeMilestoneSpec) Kind() ChangeKind   { return ChangeMilestone }
func (UpdatePaymentSchedule) Kind() ChangeKind { return ChangeUpdatePaymentSchedule }
func (Other) Kind() ChangeKind                 { return ChangeOther }

func (c AddParty) validate() error {
	if c.PartyID == "" {
		return fmt.Errorf("add_party requires party_id")
	}
	return nil
}

func (c RemoveParty) validate() error {
	if c.PartyID == "" {
		return fmt.Errorf("remove_party requires party_id")
	}
	return nil
}

func (c UpdateTerms) validate() error {
	if len(c.Terms) == 0 {
		return fmt.Errorf("update_terms requires at least one term")
	}
	return nil
}

func (c ChangeMilestoneSpec) validate() error {
	if c.MilestoneID == "" {
		return fmt.Errorf("change_milestone requires milestone_id")
	}
	if c.Amount != nil && c.Amount.IsNegative() {
		return fmt.Errorf("change_milestone amount must not be negative")
	}
	return nil
}

func (c UpdatePaymentSchedule) validate() error {
	if len(c.Installments) == 0 {
		return fmt.Errorf("update_payment_schedule requires installments")
	}
	for i, installment := range c.Installments {
		if !installment.Amount.IsPositive() {
			return fmt.Errorf("installment %d amount must be positive", i)
		}
	}
	return nil
}

func (c Other) validate() error {
	trimmed := bytes.TrimSpace(c.Payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("other requires a payload")
	}
	return nil
}

// Changeset wraps one Change and encodes as {"kind": ..., "data": ...}.
type Changeset struct {
	Change Change
}

func NewChangeset(change Change) Changeset {
	return Changeset{Change: change}
}

func (c Changeset) Empty() bool {
	return c.Change == nil
}

func (c Changeset) Kind() ChangeKind {
	if c.Change == nil {
		return ""
	}
	return c.Change.Kind()
}

// Validate checks the variant's required fields.
func (c Changeset) Validate() error {
	if c.Change == nil {
		return fmt.Errorf("changeset is required")
	}
	return c.Change.validate()
}

type changesetWire struct {
	Kind ChangeKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (c Changeset) MarshalJSON() ([]byte, error) {
	if c.Change == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(c.Change)
	if err != nil {
		return nil, err
	}
	return json.Marshal(changesetWire{Kind: c.Change.Kind(), Data: data})
}

func (c *Changeset) UnmarshalJSON(raw []byte) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		c.Change = nil
		return nil
	}
	var wire changesetWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	change, err := decodeChange(wire.Kind, wire.Data)
	if err != nil {
		return err
	}
	c.Change = change
	return nil
}

func decodeChange(kind ChangeKind, data json.RawMessage) (Change, error) {
	switch kind {
	case ChangeAddParty:
		var change AddParty
		err := unmarshalData(data, &change)
		return change, err
	case ChangeRemoveParty:
		var change RemoveParty
		err := unmarshalData(data, &change)
		return change, err
	case ChangeUpdateTerms:
		var change UpdateTerms
		err := unmarshalData(data, &change)
		return change, err
	case ChangeMilestone:
		var change ChangeMilestoneSpec
		err := unmarshalData(data, &change)
		return change, err
	case ChangeUpdatePaymentSchedule:
		var change UpdatePaymentSchedule
		err := unmarshalData(data, &change)
		return change, err
	case ChangeOther:
		var change Other
		err := unmarshalData(data, &change)
		return change, err
	default:
		return nil, fmt.Errorf("unknown changeset kind %q", kind)
	}
}

func unmarshalData(data json.RawMessage, target any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
