package redisadapter

import (
	"context"
	"testing"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"

	"github.com/shopspring/decimal"
)

// TestSummaryCacheIntegration requires a running Redis and skips otherwise.
func TestSummaryCacheIntegration(t *testing.T) {
	client := NewClient("localhost:6379", "", 0)
	defer client.Close()
	cache := NewSummaryCache(client, "authority_summary_test")
	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	limit := decimal.RequireFromString("2500.00")
	summary := entities.AuthoritySummary{
		ActorID:           "officer-1",
		ApprovalTypes:     []entities.ApprovalActionType{entities.ActionFundRelease},
		MaxAmount:         &limit,
		ActiveDelegations: 1,
		RefreshedAt:       time.Now().UTC(),
	}
	if err := cache.SetSummary(ctx, summary, time.Minute); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	got, hit, err := cache.GetSummary(ctx, "officer-1")
	if err != nil || !hit {
		t.Fatalf("expected cache hit, hit=%v err=%v", hit, err)
	}
	if got.MaxAmount == nil || !got.MaxAmount.Equal(limit) {
		t.Fatalf("expected max amount %s, got %v", limit, got.MaxAmount)
	}
	if err := cache.InvalidateSummary(ctx, "officer-1"); err != nil {
		t.Fatalf("invalidate summary: %v", err)
	}
	if _, hit, _ := cache.GetSummary(ctx, "officer-1"); hit {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestSummaryCacheKeyPrefix(t *testing.T) {
	cache := NewSummaryCache(nil, "")
	if got := cache.key("a-1"); got != "authority_summary:a-1" {
		t.Fatalf("unexpected key %q", got)
	}
}
