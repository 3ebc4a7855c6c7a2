package workers

import (
	"context"
	"encoding/json"
	"log/slog"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/application/commands"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/faults"
)

// PartyRosterConsumer follows invitation outcomes into the party projection
// and re-decides the deal's pending amendments. Replays are harmless: the
// second run finds nothing left to settle.
type PartyRosterConsumer struct {
	Reconcile commands.ReconcilePartiesUseCase
	Logger    *slog.Logger
}

type invitationPayload struct {
	DealID  string `json:"deal_id"`
	PartyID string `json:"party_id"`
}

func (c PartyRosterConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	var status entities.InvitationStatus
	switch event.EventType {
	case events.InvitationAccepted:
		status = entities.InvitationAccepted
	case events.InvitationDeclined:
		status = entities.InvitationDeclined
	default:
		return nil
	}

	var payload invitationPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return err
	}
	if payload.DealID == "" || payload.PartyID == "" {
		application.ResolveLogger(c.Logger).Warn("invitation event without deal or party",
			"event", "amendment_party_roster_event_skipped",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}
	_, err := c.Reconcile.Execute(ctx, commands.ReconcilePartiesCommand{
		DealID:  payload.DealID,
		PartyID: payload.PartyID,
		Status:  status,
		ActorID: payload.PartyID,
	})
	if faults.KindOf(err) == faults.KindNotFound {
		return nil
	}
	return err
}
