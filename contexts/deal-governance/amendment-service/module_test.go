package amendment_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amendment "escrowline/contexts/deal-governance/amendment-service"
	"escrowline/contexts/deal-governance/amendment-service/application/commands"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	httptransport "escrowline/contexts/deal-governance/amendment-service/transport/http"
	contractsv1 "escrowline/contracts/gen/events/v1"
	"escrowline/internal/shared/audit"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/faults"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.EventEnvelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, event := range p.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

// approvalTable answers CanApprove from a fixed map of allowed admins.
type approvalTable map[string]bool

func (a approvalTable) CanApprove(_ context.Context, actorID string, actionType string, _ *decimal.Decimal) (ports.ApprovalVerdict, error) {
	if actionType != "DISPUTE_RESOLUTION" {
		return ports.ApprovalVerdict{}, fmt.Errorf("unexpected action %s", actionType)
	}
	if a[actorID] {
		return ports.ApprovalVerdict{Allowed: true, Reason: "super_admin_role"}, nil
	}
	return ports.ApprovalVerdict{Reason: "No active delegation found for DISPUTE_RESOLUTION"}, nil
}

func newTestModule(t *testing.T, partyIDs ...string) (amendment.Module, *recordingPublisher, *audit.MemorySink) {
	t.Helper()
	publisher := &recordingPublisher{}
	sink := audit.NewMemorySink()
	module := amendment.NewInMemoryModule(approvalTable{"admin-1": true}, publisher, sink, nil)
	parties := make([]entities.Party, 0, len(partyIDs))
	for _, partyID := range partyIDs {
		parties = append(parties, entities.Party{PartyID: partyID, InvitationStatus: entities.InvitationAccepted})
	}
	module.Store.SeedDeal(entities.Deal{DealID: "deal-1", Status: "ACTIVE"}, parties...)
	return module, publisher, sink
}

func termsChangeset(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(entities.NewChangeset(entities.UpdateTerms{Terms: map[string]string{"inspection_days": "14"}}))
	if err != nil {
		t.Fatalf("marshal changeset: %v", err)
	}
	return raw
}

func propose(t *testing.T, module amendment.Module, proposerID string, supersedesID string) httptransport.AmendmentDTO {
	t.Helper()
	response, err := module.Handler.ProposeAmendmentHandler(context.Background(), proposerID, "deal-1", httptransport.ProposeAmendmentRequest{
		AmendmentType: "terms",
		Description:   "extend inspection window",
		Changeset:     termsChangeset(t),
		SupersedesID:  supersedesID,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return response.Amendment
}

func respond(module amendment.Module, partyID string, amendmentID string, decision string) (httptransport.AmendmentResponse, error) {
	return module.Handler.RespondHandler(context.Background(), partyID, amendmentID, httptransport.RespondRequest{Decision: decision})
}

func TestProposeStartsPending(t *testing.T) {
	module, _, sink := newTestModule(t, "buyer", "seller")

	created := propose(t, module, "buyer", "")
	if created.Status != string(entities.AmendmentStatusPending) {
		t.Fatalf("expected PENDING, got %s", created.Status)
	}
	if len(created.Responses) != 0 {
		t.Fatalf("expected no responses, got %d", len(created.Responses))
	}
	var wire map[string]any
	if err := json.Unmarshal(created.Changeset, &wire); err != nil || wire["kind"] != "update_terms" {
		t.Fatalf("expected tagged changeset, got %s (%v)", string(created.Changeset), err)
	}
	if got := sink.Actions(); len(got) != 1 || got[0] != "amendment.proposed" {
		t.Fatalf("unexpected audit actions %v", got)
	}
}

func TestProposeRejections(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller")
	module.Store.SetPartyStatus("deal-1", "seller", entities.InvitationDeclined)
	ctx := context.Background()

	cases := []struct {
		name       string
		proposerID string
		dealID     string
		request    httptransport.ProposeAmendmentRequest
		kind       faults.Kind
	}{
		{
			name:       "missing description",
			proposerID: "buyer",
			dealID:     "deal-1",
			request:    httptransport.ProposeAmendmentRequest{AmendmentType: "terms", Changeset: termsChangeset(t)},
			kind:       faults.KindValidation,
		},
		{
			name:       "missing changeset",
			proposerID: "buyer",
			dealID:     "deal-1",
			request:    httptransport.ProposeAmendmentRequest{AmendmentType: "terms", Description: "x"},
			kind:       faults.KindValidation,
		},
		{
			name:       "unknown changeset kind",
			proposerID: "buyer",
			dealID:     "deal-1",
			request: httptransport.ProposeAmendmentRequest{
				AmendmentType: "terms",
				Description:   "x",
				Changeset:     json.RawMessage(`{"kind":"rewrite_everything","data":{}}`),
			},
			kind: faults.KindValidation,
		},
		{
			name:       "unknown deal",
			proposerID: "buyer",
			dealID:     "deal-404",
			request:    httptransport.ProposeAmendmentRequest{AmendmentType: "terms", Description: "x", Changeset: termsChangeset(t)},
			kind:       faults.KindNotFound,
		},
		{
			name:       "outsider",
			proposerID: "stranger",
			dealID:     "deal-1",
			request:    httptransport.ProposeAmendmentRequest{AmendmentType: "terms", Description: "x", Changeset: termsChangeset(t)},
			kind:       faults.KindPermissionDenied,
		},
		{
			name:       "declined party",
			proposerID: "seller",
			dealID:     "deal-1",
			request:    httptransport.ProposeAmendmentRequest{AmendmentType: "terms", Description: "x", Changeset: termsChangeset(t)},
			kind:       faults.KindPermissionDenied,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := module.Handler.ProposeAmendmentHandler(ctx, tc.proposerID, tc.dealID, tc.request)
			if faults.KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestDisputeThenRejectIsFinal(t *testing.T) {
	module, publisher, _ := newTestModule(t, "buyer", "seller", "agent")
	ctx := context.Background()
	created := propose(t, module, "buyer", "")

	if _, err := respond(module, "buyer", created.AmendmentID, "APPROVE"); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	disputed, err := respond(module, "seller", created.AmendmentID, "DISPUTE")
	if err != nil {
		t.Fatalf("seller dispute: %v", err)
	}
	if disputed.Amendment.Status != string(entities.AmendmentStatusDisputed) {
		t.Fatalf("expected DISPUTED, got %s", disputed.Amendment.Status)
	}

	_, err = respond(module, "agent", created.AmendmentID, "APPROVE")
	if !errors.Is(err, domainerrors.ErrAmendmentNotPending) {
		t.Fatalf("expected not pending conflict, got %v", err)
	}

	rejected, err := module.Handler.ResolveHandler(ctx, "admin-1", created.AmendmentID, httptransport.ResolveRequest{Type: "REJECT", Notes: "terms unacceptable"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rejected.Amendment.Status != string(entities.AmendmentStatusRejected) {
		t.Fatalf("expected REJECTED, got %s", rejected.Amendment.Status)
	}
	if rejected.Amendment.AdminResolution == nil || rejected.Amendment.AdminResolution.ResolvedBy != "admin-1" {
		t.Fatalf("expected recorded resolution, got %+v", rejected.Amendment.AdminResolution)
	}

	_, err = respond(module, "agent", created.AmendmentID, "APPROVE")
	if faults.KindOf(err) != faults.KindImmutableState {
		t.Fatalf("expected immutable state, got %v", err)
	}
	_, err = module.Handler.ResolveHandler(ctx, "admin-1", created.AmendmentID, httptransport.ResolveRequest{Type: "APPROVE_OVERRIDE"})
	if faults.KindOf(err) != faults.KindImmutableState {
		t.Fatalf("expected immutable state on second resolve, got %v", err)
	}
	if module.Applier.Count(created.AmendmentID) != 0 {
		t.Fatalf("rejected amendment must not be applied")
	}

	if err := module.Relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if publisher.count(events.AmendmentDisputed) != 1 || publisher.count(events.AmendmentResolved) != 1 {
		t.Fatalf("unexpected published events %+v", publisher.events)
	}
}

func TestUnanimousApprovalAppliesOnce(t *testing.T) {
	module, publisher, _ := newTestModule(t, "buyer", "seller")
	ctx := context.Background()
	created := propose(t, module, "buyer", "")

	first, err := respond(module, "buyer", created.AmendmentID, "approve")
	if err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if first.Applied || first.Amendment.Status != string(entities.AmendmentStatusPending) {
		t.Fatalf("expected still pending, got %+v", first)
	}
	last, err := respond(module, "seller", created.AmendmentID, "APPROVE")
	if err != nil {
		t.Fatalf("seller approve: %v", err)
	}
	if !last.Applied || last.Amendment.Status != string(entities.AmendmentStatusApplied) || last.Amendment.AppliedAt == nil {
		t.Fatalf("expected applied, got %+v", last)
	}

	requests := module.Applier.Requests()
	if len(requests) != 1 || requests[0].DealID != "deal-1" || requests[0].Changeset.Kind() != entities.ChangeUpdateTerms {
		t.Fatalf("unexpected apply requests %+v", requests)
	}

	if err := module.Relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if err := module.Relay.RunOnce(ctx); err != nil {
		t.Fatalf("second relay: %v", err)
	}
	if publisher.count(events.AmendmentProposed) != 1 ||
		publisher.count(events.AmendmentResponded) != 2 ||
		publisher.count(events.AmendmentApplied) != 1 {
		t.Fatalf("unexpected published events %+v", publisher.events)
	}
}

func TestConcurrentFinalResponsesApplyExactlyOnce(t *testing.T) {
	partyIDs := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		partyIDs = append(partyIDs, fmt.Sprintf("party-%02d", i))
	}
	module, _, _ := newTestModule(t, partyIDs...)
	created := propose(t, module, partyIDs[0], "")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		failed  []error
	)
	for _, partyID := range partyIDs {
		wg.Add(1)
		go func(partyID string) {
			defer wg.Done()
			response, err := respond(module, partyID, created.AmendmentID, "APPROVE")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return
			}
			if response.Applied {
				applied++
			}
		}(partyID)
	}
	wg.Wait()

	if len(failed) != 0 {
		t.Fatalf("unexpected failures %v", failed)
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applying caller, got %d", applied)
	}
	if got := module.Applier.Count(created.AmendmentID); got != 1 {
		t.Fatalf("expected one apply call, got %d", got)
	}
}

func TestRespondIsIdempotentPerParty(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller")
	created := propose(t, module, "buyer", "")

	if _, err := module.Handler.RespondHandler(context.Background(), "buyer", created.AmendmentID, httptransport.RespondRequest{
		Decision: "APPROVE",
		Notes:    "looks fine",
	}); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	before := len(module.Store.OutboxEventTypes())

	replay, err := respond(module, "buyer", created.AmendmentID, "DISPUTE")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.AlreadyResponded || replay.Response == nil || replay.Response.Decision != "APPROVE" || replay.Response.Notes != "looks fine" {
		t.Fatalf("expected original response, got %+v", replay)
	}
	if replay.Amendment.Status != string(entities.AmendmentStatusPending) {
		t.Fatalf("replay must not change status, got %s", replay.Amendment.Status)
	}
	if after := len(module.Store.OutboxEventTypes()); after != before {
		t.Fatalf("replay wrote events: %d -> %d", before, after)
	}
}

func TestRespondRejections(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller", "agent")
	created := propose(t, module, "buyer", "")
	module.Store.SetPartyStatus("deal-1", "agent", entities.InvitationDeclined)

	if _, err := respond(module, "buyer", "missing", "APPROVE"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := respond(module, "buyer", created.AmendmentID, "MAYBE"); !errors.Is(err, domainerrors.ErrInvalidDecision) {
		t.Fatalf("expected invalid decision, got %v", err)
	}
	if _, err := respond(module, "stranger", created.AmendmentID, "APPROVE"); !errors.Is(err, domainerrors.ErrNotCurrentParty) {
		t.Fatalf("expected not a party, got %v", err)
	}
	if _, err := respond(module, "agent", created.AmendmentID, "APPROVE"); !errors.Is(err, domainerrors.ErrNotCurrentParty) {
		t.Fatalf("expected declined party denied, got %v", err)
	}

	// the declined agent no longer counts toward unanimity
	if _, err := respond(module, "buyer", created.AmendmentID, "APPROVE"); err != nil {
		t.Fatalf("buyer: %v", err)
	}
	last, err := respond(module, "seller", created.AmendmentID, "APPROVE")
	if err != nil || !last.Applied {
		t.Fatalf("expected applied without the declined party, got %+v (%v)", last, err)
	}
}

func TestCompromiseKeepsDisputedAndAllowsSupersede(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller")
	ctx := context.Background()
	created := propose(t, module, "buyer", "")
	pending := propose(t, module, "seller", "")

	if _, err := respond(module, "seller", created.AmendmentID, "DISPUTE"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	compromise, err := module.Handler.ResolveHandler(ctx, "admin-1", created.AmendmentID, httptransport.ResolveRequest{
		Type:  "REQUEST_COMPROMISE",
		Notes: "split the difference",
	})
	if err != nil {
		t.Fatalf("compromise: %v", err)
	}
	if compromise.Amendment.Status != string(entities.AmendmentStatusDisputed) || compromise.Amendment.AdminResolution == nil {
		t.Fatalf("expected DISPUTED with resolution, got %+v", compromise.Amendment)
	}

	replacement := propose(t, module, "seller", created.AmendmentID)
	if replacement.SupersedesID != created.AmendmentID || replacement.Status != string(entities.AmendmentStatusPending) {
		t.Fatalf("unexpected replacement %+v", replacement)
	}

	for _, target := range []string{pending.AmendmentID, "missing"} {
		_, err := module.Handler.ProposeAmendmentHandler(ctx, "buyer", "deal-1", httptransport.ProposeAmendmentRequest{
			AmendmentType: "terms",
			Description:   "again",
			Changeset:     termsChangeset(t),
			SupersedesID:  target,
		})
		if !errors.Is(err, domainerrors.ErrInvalidSupersede) {
			t.Fatalf("supersede %s: expected conflict, got %v", target, err)
		}
	}
}

func TestOverrideAppliesAndRequiresAuthority(t *testing.T) {
	module, publisher, _ := newTestModule(t, "buyer", "seller")
	ctx := context.Background()
	created := propose(t, module, "buyer", "")

	_, err := module.Handler.ResolveHandler(ctx, "admin-1", created.AmendmentID, httptransport.ResolveRequest{Type: "REJECT"})
	if !errors.Is(err, domainerrors.ErrAmendmentNotDisputed) {
		t.Fatalf("expected not disputed conflict, got %v", err)
	}

	if _, err := respond(module, "seller", created.AmendmentID, "DISPUTE"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	_, err = module.Handler.ResolveHandler(ctx, "officer-9", created.AmendmentID, httptransport.ResolveRequest{Type: "APPROVE_OVERRIDE"})
	if faults.KindOf(err) != faults.KindPermissionDenied || faults.Message(err) != "No active delegation found for DISPUTE_RESOLUTION" {
		t.Fatalf("expected denial with evaluator reason, got %v", err)
	}
	_, err = module.Handler.ResolveHandler(ctx, "admin-1", created.AmendmentID, httptransport.ResolveRequest{Type: "SPLIT"})
	if !errors.Is(err, domainerrors.ErrInvalidResolution) {
		t.Fatalf("expected invalid resolution, got %v", err)
	}

	overridden, err := module.Handler.ResolveHandler(ctx, "admin-1", created.AmendmentID, httptransport.ResolveRequest{Type: "APPROVE_OVERRIDE"})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !overridden.Applied || overridden.Amendment.Status != string(entities.AmendmentStatusApplied) {
		t.Fatalf("expected applied, got %+v", overridden)
	}
	if module.Applier.Count(created.AmendmentID) != 1 {
		t.Fatalf("expected one apply call")
	}
	if err := module.Relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if publisher.count(events.AmendmentResolved) != 1 || publisher.count(events.AmendmentApplied) != 1 {
		t.Fatalf("unexpected published events %+v", publisher.events)
	}
}

func TestApplierFailureKeepsAmendmentApplied(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer")
	module.Applier.FailWith(errors.New("deal store unavailable"))
	created := propose(t, module, "buyer", "")

	response, err := respond(module, "buyer", created.AmendmentID, "APPROVE")
	if !errors.Is(err, domainerrors.ErrChangeApplyFailed) {
		t.Fatalf("expected apply failure, got %v", err)
	}
	if faults.Message(err) != "internal error" {
		t.Fatalf("apply failure leaked detail: %q", faults.Message(err))
	}
	if response.Amendment.Status != string(entities.AmendmentStatusApplied) {
		t.Fatalf("expected committed APPLIED status in response, got %+v", response.Amendment)
	}
	stored, err := module.Handler.GetAmendmentHandler(context.Background(), created.AmendmentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Amendment.Status != string(entities.AmendmentStatusApplied) {
		t.Fatalf("expected APPLIED to stick, got %s", stored.Amendment.Status)
	}
}

func invitationEvent(t *testing.T, eventType string, partyID string) ports.EventEnvelope {
	t.Helper()
	envelope, err := contractsv1.NewEnvelope(
		"evt-"+eventType+"-"+partyID,
		eventType,
		"invitation-service",
		"deal_id",
		"deal-1",
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		map[string]string{"deal_id": "deal-1", "party_id": partyID, "invitation_status": "DECLINED"},
	)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return envelope
}

func storedStatus(t *testing.T, module amendment.Module, amendmentID string) string {
	t.Helper()
	stored, err := module.Handler.GetAmendmentHandler(context.Background(), amendmentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return stored.Amendment.Status
}

func TestDeclinedPartyNoLongerBlocksConsensus(t *testing.T) {
	module, publisher, _ := newTestModule(t, "buyer", "seller", "agent")
	ctx := context.Background()
	created := propose(t, module, "buyer", "")

	for _, partyID := range []string{"buyer", "seller"} {
		if _, err := respond(module, partyID, created.AmendmentID, "APPROVE"); err != nil {
			t.Fatalf("%s approve: %v", partyID, err)
		}
	}
	if got := storedStatus(t, module, created.AmendmentID); got != string(entities.AmendmentStatusPending) {
		t.Fatalf("expected PENDING while agent is outstanding, got %s", got)
	}

	declined := invitationEvent(t, events.InvitationDeclined, "agent")
	if err := module.Roster.Handle(ctx, declined); err != nil {
		t.Fatalf("roster consume: %v", err)
	}
	if got := storedStatus(t, module, created.AmendmentID); got != string(entities.AmendmentStatusApplied) {
		t.Fatalf("expected APPLIED once the decliner left the party set, got %s", got)
	}
	if module.Applier.Count(created.AmendmentID) != 1 {
		t.Fatalf("expected exactly one application, got %d", module.Applier.Count(created.AmendmentID))
	}

	if err := module.Roster.Handle(ctx, declined); err != nil {
		t.Fatalf("replayed roster consume: %v", err)
	}
	if module.Applier.Count(created.AmendmentID) != 1 {
		t.Fatalf("replay applied again: %d", module.Applier.Count(created.AmendmentID))
	}
	if _, err := respond(module, "agent", created.AmendmentID, "APPROVE"); faults.KindOf(err) != faults.KindImmutableState {
		t.Fatalf("expected applied amendment to be final, got %v", err)
	}

	if err := module.Relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if publisher.count(events.AmendmentApplied) != 1 {
		t.Fatalf("expected one applied event, got %+v", publisher.events)
	}
}

func TestRosterChangeLeavesDisputesAndOtherDealsAlone(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller", "agent")
	ctx := context.Background()
	disputed := propose(t, module, "buyer", "")
	if _, err := respond(module, "seller", disputed.AmendmentID, "DISPUTE"); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	settled, err := module.Reconcile.Execute(ctx, commands.ReconcilePartiesCommand{
		DealID:  "deal-1",
		PartyID: "agent",
		Status:  entities.InvitationDeclined,
	})
	if err != nil || len(settled) != 0 {
		t.Fatalf("expected nothing to settle, got %+v err=%v", settled, err)
	}
	if got := storedStatus(t, module, disputed.AmendmentID); got != string(entities.AmendmentStatusDisputed) {
		t.Fatalf("expected dispute to stick, got %s", got)
	}

	if _, err := module.Reconcile.Execute(ctx, commands.ReconcilePartiesCommand{DealID: "deal-1", PartyID: "agent", Status: "GONE"}); faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if err := module.Roster.Handle(ctx, func() ports.EventEnvelope {
		event := invitationEvent(t, events.InvitationDeclined, "agent")
		event.Data = json.RawMessage(`{"deal_id":"deal-404","party_id":"agent"}`)
		return event
	}()); err != nil {
		t.Fatalf("unknown deal should be skipped, got %v", err)
	}
}

func TestRemovePartyAmendmentSettlesOtherPendingAmendments(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller", "agent")
	ctx := context.Background()
	terms := propose(t, module, "buyer", "")
	for _, partyID := range []string{"buyer", "seller"} {
		if _, err := respond(module, partyID, terms.AmendmentID, "APPROVE"); err != nil {
			t.Fatalf("%s approve terms: %v", partyID, err)
		}
	}

	removal, err := json.Marshal(entities.NewChangeset(entities.RemoveParty{PartyID: "agent", Reason: "left the deal"}))
	if err != nil {
		t.Fatalf("marshal removal: %v", err)
	}
	proposed, err := module.Handler.ProposeAmendmentHandler(ctx, "buyer", "deal-1", httptransport.ProposeAmendmentRequest{
		AmendmentType: "roster",
		Description:   "remove the agent",
		Changeset:     removal,
	})
	if err != nil {
		t.Fatalf("propose removal: %v", err)
	}
	for _, partyID := range []string{"buyer", "seller", "agent"} {
		if _, err := respond(module, partyID, proposed.Amendment.AmendmentID, "APPROVE"); err != nil {
			t.Fatalf("%s approve removal: %v", partyID, err)
		}
	}

	if got := storedStatus(t, module, terms.AmendmentID); got != string(entities.AmendmentStatusApplied) {
		t.Fatalf("expected terms amendment to apply after the removal, got %s", got)
	}
	if module.Applier.Count(terms.AmendmentID) != 1 || module.Applier.Count(proposed.Amendment.AmendmentID) != 1 {
		t.Fatalf("unexpected applications %+v", module.Applier.Requests())
	}
	parties, err := module.Store.ListParties(ctx, "deal-1")
	if err != nil || len(parties) != 2 {
		t.Fatalf("expected agent removed from the projection, got %+v err=%v", parties, err)
	}
}

func TestListAmendmentsByDeal(t *testing.T) {
	module, _, _ := newTestModule(t, "buyer", "seller")
	first := propose(t, module, "buyer", "")
	second := propose(t, module, "seller", "")

	listed, err := module.Handler.ListAmendmentsHandler(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed.Items) != 2 {
		t.Fatalf("expected two amendments, got %d", len(listed.Items))
	}
	seen := map[string]bool{listed.Items[0].AmendmentID: true, listed.Items[1].AmendmentID: true}
	if !seen[first.AmendmentID] || !seen[second.AmendmentID] {
		t.Fatalf("unexpected listing %+v", listed.Items)
	}
	if _, err := module.Handler.ListAmendmentsHandler(context.Background(), "deal-404"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
