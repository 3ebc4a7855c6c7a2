package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/events"
)

// SummaryInvalidationConsumer drops cached summaries when a delegation event
// arrives from another process.
type SummaryInvalidationConsumer struct {
	Dedup        ports.EventDedupStore
	SummaryCache ports.SummaryCache
	Clock        ports.Clock
	DedupTTL     time.Duration
}

type delegationChangedPayload struct {
	GranteeID string `json:"grantee_id"`
}

func (c SummaryInvalidationConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	switch event.EventType {
	case events.DelegationGranted, events.DelegationUpdated, events.DelegationRevoked:
	default:
		return nil
	}

	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}

	alreadyProcessed, err := c.Dedup.ReserveEvent(
		ctx,
		event.EventID,
		hashPayload(event.Data),
		now.Add(c.dedupTTL()),
	)
	if err != nil || alreadyProcessed {
		return err
	}

	var payload delegationChangedPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return err
	}
	if payload.GranteeID == "" {
		return nil
	}
	return c.SummaryCache.InvalidateSummary(ctx, payload.GranteeID)
}

func (c SummaryInvalidationConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
