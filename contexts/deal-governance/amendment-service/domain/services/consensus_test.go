package services

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/internal/shared/faults"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var respondAt = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func parties(statuses ...entities.InvitationStatus) []entities.Party {
	items := make([]entities.Party, 0, len(statuses))
	for i, status := range statuses {
		items = append(items, entities.Party{PartyID: fmt.Sprintf("p%d", i), DealID: "deal-1", InvitationStatus: status})
	}
	return items
}

func pending() entities.Amendment {
	return entities.Amendment{
		AmendmentID: "am-1",
		DealID:      "deal-1",
		ProposerID:  "p0",
		Status:      entities.AmendmentStatusPending,
		ProposedChanges: entities.ProposedChanges{
			AmendmentType: "terms",
			Description:   "extend",
			Changeset:     entities.NewChangeset(entities.UpdateTerms{Terms: map[string]string{"k": "v"}}),
		},
	}
}

func response(partyID string, decision entities.ResponseDecision) entities.PartyResponse {
	return entities.PartyResponse{PartyID: partyID, Decision: decision, RespondedAt: respondAt}
}

func TestDecide(t *testing.T) {
	accepted := entities.InvitationAccepted
	declined := entities.InvitationDeclined
	cases := []struct {
		name      string
		parties   []entities.Party
		responses []entities.PartyResponse
		want      entities.AmendmentStatus
	}{
		{name: "no responses", parties: parties(accepted, accepted), want: entities.AmendmentStatusPending},
		{name: "partial approval", parties: parties(accepted, accepted), responses: []entities.PartyResponse{response("p0", entities.DecisionApprove)}, want: entities.AmendmentStatusPending},
		{name: "all approve", parties: parties(accepted, accepted), responses: []entities.PartyResponse{response("p1", entities.DecisionApprove), response("p0", entities.DecisionApprove)}, want: entities.AmendmentStatusApplied},
		{name: "dispute wins", parties: parties(accepted, accepted), responses: []entities.PartyResponse{response("p0", entities.DecisionApprove), response("p1", entities.DecisionDispute)}, want: entities.AmendmentStatusDisputed},
		{name: "declined party ignored", parties: parties(accepted, declined), responses: []entities.PartyResponse{response("p0", entities.DecisionApprove)}, want: entities.AmendmentStatusApplied},
		{name: "pending invitee still counts", parties: parties(accepted, entities.InvitationPending), responses: []entities.PartyResponse{response("p0", entities.DecisionApprove)}, want: entities.AmendmentStatusPending},
		{name: "no current parties", parties: parties(declined), want: entities.AmendmentStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.parties, tc.responses); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestApplyResponseCheckOrder(t *testing.T) {
	roster := parties(entities.InvitationAccepted, entities.InvitationAccepted)

	applied := pending()
	applied.Status = entities.AmendmentStatusApplied
	if _, err := ApplyResponse(applied, roster, response("zz", "BOGUS")); faults.KindOf(err) != faults.KindImmutableState {
		t.Fatalf("terminal must be checked first, got %v", err)
	}

	disputed := pending()
	disputed.Status = entities.AmendmentStatusDisputed
	if _, err := ApplyResponse(disputed, roster, response("zz", entities.DecisionApprove)); !errors.Is(err, domainerrors.ErrAmendmentNotPending) {
		t.Fatalf("expected not pending before party check, got %v", err)
	}

	if _, err := ApplyResponse(pending(), roster, response("zz", entities.DecisionApprove)); !errors.Is(err, domainerrors.ErrNotCurrentParty) {
		t.Fatalf("expected not current party, got %v", err)
	}

	first, err := ApplyResponse(pending(), roster, response("p0", entities.DecisionApprove))
	if err != nil {
		t.Fatalf("first response: %v", err)
	}
	replay, err := ApplyResponse(first.Amendment, roster, response("p0", entities.DecisionDispute))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.AlreadyResponded || replay.Response.Decision != entities.DecisionApprove || replay.Transition.Changed() {
		t.Fatalf("expected original response without transition, got %+v", replay)
	}
	if len(replay.Amendment.Responses) != 1 {
		t.Fatalf("replay must not append, got %d responses", len(replay.Amendment.Responses))
	}
}

func TestApplyResolution(t *testing.T) {
	disputed := pending()
	disputed.Status = entities.AmendmentStatusDisputed
	resolution := func(kind entities.ResolutionType) entities.AdminResolution {
		return entities.AdminResolution{Type: kind, ResolvedBy: "admin-1", ResolvedAt: respondAt}
	}

	override, err := ApplyResolution(disputed, resolution(entities.ResolutionApproveOverride))
	if err != nil || !override.Transition.AppliedNow() || override.Amendment.AppliedAt == nil {
		t.Fatalf("expected override to apply, got %+v (%v)", override, err)
	}
	reject, err := ApplyResolution(disputed, resolution(entities.ResolutionReject))
	if err != nil || reject.Amendment.Status != entities.AmendmentStatusRejected || reject.Transition.AppliedNow() {
		t.Fatalf("expected rejection, got %+v (%v)", reject, err)
	}
	compromise, err := ApplyResolution(disputed, resolution(entities.ResolutionRequestCompromise))
	if err != nil || compromise.Amendment.Status != entities.AmendmentStatusDisputed || compromise.Transition.Changed() {
		t.Fatalf("expected compromise to stay disputed, got %+v (%v)", compromise, err)
	}
	if compromise.Amendment.AdminResolution == nil || compromise.Amendment.AdminResolution.Type != entities.ResolutionRequestCompromise {
		t.Fatalf("expected resolution recorded, got %+v", compromise.Amendment.AdminResolution)
	}
	if _, err := ApplyResolution(pending(), resolution(entities.ResolutionReject)); !errors.Is(err, domainerrors.ErrAmendmentNotDisputed) {
		t.Fatalf("expected not disputed, got %v", err)
	}
	if _, err := ApplyResolution(reject.Amendment, resolution(entities.ResolutionApproveOverride)); faults.KindOf(err) != faults.KindImmutableState {
		t.Fatalf("expected immutable, got %v", err)
	}
}

func TestCheckSupersedes(t *testing.T) {
	disputed := pending()
	disputed.Status = entities.AmendmentStatusDisputed
	if err := CheckSupersedes(disputed, "deal-1"); err != nil {
		t.Fatalf("expected disputed amendment to be supersedable, got %v", err)
	}
	if err := CheckSupersedes(disputed, "deal-2"); !errors.Is(err, domainerrors.ErrInvalidSupersede) {
		t.Fatalf("expected other deal rejected, got %v", err)
	}
	if err := CheckSupersedes(pending(), "deal-1"); !errors.Is(err, domainerrors.ErrInvalidSupersede) {
		t.Fatalf("expected pending amendment rejected, got %v", err)
	}
}

func TestConsensusProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("responses in any order settle exactly once", prop.ForAll(
		func(size int, disputeMask int, seed int64) bool {
			statuses := make([]entities.InvitationStatus, size)
			for i := range statuses {
				statuses[i] = entities.InvitationAccepted
			}
			roster := parties(statuses...)
			order := rand.New(rand.NewSource(seed)).Perm(size)

			current := pending()
			transitions := 0
			var settled entities.AmendmentStatus
			firstDispute := -1
			for step, index := range order {
				decision := entities.DecisionApprove
				if disputeMask&(1<<index) != 0 {
					decision = entities.DecisionDispute
				}
				outcome, err := ApplyResponse(current, roster, response(roster[index].PartyID, decision))
				if current.Status != entities.AmendmentStatusPending {
					if !errors.Is(err, domainerrors.ErrAmendmentNotPending) && faults.KindOf(err) != faults.KindImmutableState {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				if decision == entities.DecisionDispute && firstDispute < 0 {
					firstDispute = step
				}
				if outcome.Transition.Changed() {
					transitions++
					settled = outcome.Transition.To
				}
				current = outcome.Amendment
			}

			if firstDispute >= 0 {
				return transitions == 1 && settled == entities.AmendmentStatusDisputed && len(current.Responses) == firstDispute+1
			}
			return transitions == 1 && settled == entities.AmendmentStatusApplied && len(current.Responses) == size
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 255),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestSettleAfterRosterChange(t *testing.T) {
	accepted := entities.InvitationAccepted
	roster := parties(accepted, accepted, accepted)
	current := pending()
	current.Responses = []entities.PartyResponse{
		response("p0", entities.DecisionApprove),
		response("p1", entities.DecisionApprove),
	}

	if _, changed := SettleAfterRosterChange(current, roster, respondAt); changed {
		t.Fatalf("expected no change while p2 is still a current party")
	}

	declined := ApplyPartyChange(roster, entities.PartyChange{PartyID: "p2", Status: entities.InvitationDeclined})
	outcome, changed := SettleAfterRosterChange(current, declined, respondAt)
	if !changed || !outcome.Transition.AppliedNow() {
		t.Fatalf("expected PENDING to APPLIED, got %+v", outcome.Transition)
	}
	if outcome.Amendment.AppliedAt == nil || !outcome.Amendment.AppliedAt.Equal(respondAt) {
		t.Fatalf("expected applied at %v, got %v", respondAt, outcome.Amendment.AppliedAt)
	}
	if current.Status != entities.AmendmentStatusPending {
		t.Fatalf("input amendment was mutated")
	}

	removed := ApplyPartyChange(roster, entities.PartyChange{PartyID: "p2", Removed: true})
	if len(removed) != 2 {
		t.Fatalf("expected removal to drop one party, got %+v", removed)
	}
	if _, changed := SettleAfterRosterChange(current, removed, respondAt); !changed {
		t.Fatalf("expected removal to settle the amendment")
	}

	disputedAmendment := current.Clone()
	disputedAmendment.Status = entities.AmendmentStatusDisputed
	if _, changed := SettleAfterRosterChange(disputedAmendment, declined, respondAt); changed {
		t.Fatalf("only pending amendments are re-decided")
	}
}
