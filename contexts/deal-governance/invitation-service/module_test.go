package invitation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	invitation "escrowline/contexts/deal-governance/invitation-service"
	"escrowline/contexts/deal-governance/invitation-service/application/commands"
	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/invitation-service/domain/errors"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	httptransport "escrowline/contexts/deal-governance/invitation-service/transport/http"
	"escrowline/internal/shared/audit"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/faults"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
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

func tokenFor(i int) string {
	return fmt.Sprintf("token-%02d", i)
}

func seededModule(t *testing.T, parties int) (invitation.Module, *audit.MemorySink) {
	t.Helper()
	sink := audit.NewMemorySink()
	module := invitation.NewInMemoryModule(nil, sink, nil)
	items := make([]entities.Party, 0, parties)
	for i := 0; i < parties; i++ {
		items = append(items, entities.Party{
			PartyID:         fmt.Sprintf("party-%02d", i),
			InvitationToken: tokenFor(i),
		})
	}
	module.Store.SeedDeal(entities.Deal{DealID: "deal-1"}, items...)
	return module, sink
}

func countEvents(types []string, eventType string) int {
	count := 0
	for _, item := range types {
		if item == eventType {
			count++
		}
	}
	return count
}

func TestLastAcceptanceActivatesDeal(t *testing.T) {
	module, sink := seededModule(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		response, err := module.Handler.AcceptInvitationHandler(ctx, tokenFor(i))
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		if response.DealActivated || response.Deal.Status != string(entities.DealPending) {
			t.Fatalf("deal activated early: %+v", response)
		}
		if response.MembershipID == "" || response.Party.RespondedAt == nil {
			t.Fatalf("expected membership and respondedAt, got %+v", response)
		}
	}
	last, err := module.Handler.AcceptInvitationHandler(ctx, tokenFor(2))
	if err != nil {
		t.Fatalf("last accept: %v", err)
	}
	if !last.DealActivated || last.Deal.Status != string(entities.DealActive) || last.Deal.ActivatedAt == nil {
		t.Fatalf("expected activation, got %+v", last)
	}

	if got := len(module.Store.Memberships("deal-1")); got != 3 {
		t.Fatalf("expected 3 memberships, got %d", got)
	}
	types := module.Store.OutboxEventTypes()
	if countEvents(types, events.InvitationAccepted) != 3 || countEvents(types, events.DealActivated) != 1 {
		t.Fatalf("unexpected outbox %v", types)
	}
	if countEvents(sink.Actions(), "deal.activated") != 1 {
		t.Fatalf("unexpected audit actions %v", sink.Actions())
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	module, _ := seededModule(t, 2)
	ctx := context.Background()

	if _, err := module.Handler.AcceptInvitationHandler(ctx, tokenFor(0)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	before := len(module.Store.OutboxEventTypes())
	replay, err := module.Handler.AcceptInvitationHandler(ctx, " "+tokenFor(0)+" ")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.AlreadyAccepted || replay.DealActivated || replay.MembershipID != "" {
		t.Fatalf("expected plain replay, got %+v", replay)
	}
	if after := len(module.Store.OutboxEventTypes()); after != before {
		t.Fatalf("replay wrote events: %d -> %d", before, after)
	}
	if got := len(module.Store.Memberships("deal-1")); got != 1 {
		t.Fatalf("replay created a membership, got %d", got)
	}
}

func TestAcceptUnknownToken(t *testing.T) {
	module, _ := seededModule(t, 1)
	for _, token := range []string{"", "   ", "nope"} {
		_, err := module.Handler.AcceptInvitationHandler(context.Background(), token)
		if !errors.Is(err, faults.ErrNotFound) {
			t.Fatalf("token %q: expected not found, got %v", token, err)
		}
	}
}

func TestDeclineBlocksActivation(t *testing.T) {
	module, _ := seededModule(t, 3)
	ctx := context.Background()

	declined, err := module.Handler.DeclineInvitationHandler(ctx, tokenFor(2), httptransport.DeclineInvitationRequest{Reason: "conflict of interest"})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.Party.InvitationStatus != string(entities.InvitationDeclined) || declined.Party.DeclineReason != "conflict of interest" {
		t.Fatalf("unexpected decline %+v", declined)
	}
	for i := 0; i < 2; i++ {
		response, err := module.Handler.AcceptInvitationHandler(ctx, tokenFor(i))
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		if response.DealActivated {
			t.Fatalf("declined party must block activation")
		}
	}

	if _, err := module.Handler.AcceptInvitationHandler(ctx, tokenFor(2)); !errors.Is(err, domainerrors.ErrInvitationDeclined) {
		t.Fatalf("expected conflict accepting declined invitation, got %v", err)
	}
	if _, err := module.Handler.DeclineInvitationHandler(ctx, tokenFor(0), httptransport.DeclineInvitationRequest{}); !errors.Is(err, domainerrors.ErrInvitationAccepted) {
		t.Fatalf("expected conflict declining accepted invitation, got %v", err)
	}
	replay, err := module.Handler.DeclineInvitationHandler(ctx, tokenFor(2), httptransport.DeclineInvitationRequest{Reason: "again"})
	if err != nil || !replay.AlreadyDeclined || replay.Party.DeclineReason != "conflict of interest" {
		t.Fatalf("expected decline replay, got %+v (%v)", replay, err)
	}

	view, err := module.Handler.DealActivationHandler(ctx, "deal-1")
	if err != nil {
		t.Fatalf("activation view: %v", err)
	}
	if view.Deal.Status != string(entities.DealPending) || !view.Blocked || view.DeclinedParties != 1 || len(view.Parties) != 3 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestConcurrentAcceptsActivateOnce(t *testing.T) {
	const parties = 16
	module, _ := seededModule(t, parties)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			response, err := module.Handler.AcceptInvitationHandler(context.Background(), token)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if response.DealActivated {
				activated++
			}
		}(tokenFor(i))
	}
	close(start)
	wg.Wait()

	if len(failures) != 0 {
		t.Fatalf("unexpected failures %v", failures)
	}
	if activated != 1 {
		t.Fatalf("expected exactly one activation, got %d", activated)
	}
	if got := countEvents(module.Store.OutboxEventTypes(), events.DealActivated); got != 1 {
		t.Fatalf("expected one DealActivated event, got %d", got)
	}
}

func TestActivationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a deal activates once, and only without declines", prop.ForAll(
		func(size int, declineMask int, replays int) bool {
			module, _ := seededModule(t, size)
			ctx := context.Background()
			activations := 0
			declines := 0
			for i := 0; i < size; i++ {
				if declineMask&(1<<i) != 0 {
					declines++
					if _, err := module.Handler.DeclineInvitationHandler(ctx, tokenFor(i), httptransport.DeclineInvitationRequest{}); err != nil {
						return false
					}
					continue
				}
				for attempt := 0; attempt <= replays; attempt++ {
					response, err := module.Handler.AcceptInvitationHandler(ctx, tokenFor(i))
					if err != nil {
						return false
					}
					if response.DealActivated {
						activations++
					}
				}
			}
			if declines > 0 {
				return activations == 0
			}
			return activations == 1
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 1023),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

type stubRepository struct {
	accept func() (ports.AcceptOutcome, error)
}

func (s stubRepository) AcceptInvitation(context.Context, ports.AcceptInput) (ports.AcceptOutcome, error) {
	return s.accept()
}

func (stubRepository) DeclineInvitation(context.Context, ports.DeclineInput) (ports.DeclineOutcome, error) {
	return ports.DeclineOutcome{}, nil
}

func (stubRepository) GetDeal(context.Context, string) (entities.Deal, error) {
	return entities.Deal{}, nil
}

func (stubRepository) ListParties(context.Context, string) ([]entities.Party, error) {
	return nil, nil
}

type emptyError struct{}

func (emptyError) Error() string { return "" }

type staticIDs struct{}

func (staticIDs) NewID(context.Context) (string, error) { return "id", nil }

func TestAcceptNormalizesFailures(t *testing.T) {
	cases := []struct {
		name    string
		accept  func() (ports.AcceptOutcome, error)
		kind    faults.Kind
		message string
	}{
		{
			name:    "panic with string",
			accept:  func() (ports.AcceptOutcome, error) { panic("connection reset") },
			kind:    faults.KindInternal,
			message: "internal error",
		},
		{
			name:    "panic with bare struct",
			accept:  func() (ports.AcceptOutcome, error) { panic(struct{ Code int }{Code: 7}) },
			kind:    faults.KindInternal,
			message: "internal error",
		},
		{
			name:    "error with empty message",
			accept:  func() (ports.AcceptOutcome, error) { return ports.AcceptOutcome{}, emptyError{} },
			kind:    faults.KindInternal,
			message: "internal error",
		},
		{
			name:    "storage failure",
			accept:  func() (ports.AcceptOutcome, error) { return ports.AcceptOutcome{}, errors.New("pq: relation deals does not exist") },
			kind:    faults.KindInternal,
			message: "internal error",
		},
		{
			name:    "classified error passes through",
			accept:  func() (ports.AcceptOutcome, error) { return ports.AcceptOutcome{}, domainerrors.ErrInvitationDeclined },
			kind:    faults.KindConflict,
			message: "invitation was declined",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			useCase := commands.AcceptInvitationUseCase{
				Repository:  stubRepository{accept: tc.accept},
				IDGenerator: staticIDs{},
			}
			_, err := useCase.Execute(context.Background(), "token")
			if err == nil {
				t.Fatalf("expected error")
			}
			if faults.KindOf(err) != tc.kind || faults.Message(err) != tc.message {
				t.Fatalf("expected %s %q, got %s %q", tc.kind, tc.message, faults.KindOf(err), faults.Message(err))
			}
		})
	}
}
