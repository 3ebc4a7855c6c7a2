package queries

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/authority-service/application"
	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/faults"
)

type AuthoritySummaryQuery struct {
	RequesterID string
	ActorID     string
}

// AuthoritySummaryUseCase serves the read model cache-first. Cache failures
// fall through to the store. A cached entry never outlives the earliest
// expiry of the delegations it counts.
type AuthoritySummaryUseCase struct {
	Repository   ports.Repository
	SummaryCache ports.SummaryCache
	Clock        ports.Clock
	CacheTTL     time.Duration
	Logger       *slog.Logger
}

type AuthoritySummaryResult struct {
	Summary  entities.AuthoritySummary `json:"summary"`
	CacheHit bool                      `json:"cache_hit"`
}

func (u AuthoritySummaryUseCase) Execute(ctx context.Context, query AuthoritySummaryQuery) (AuthoritySummaryResult, error) {
	logger := application.ResolveLogger(u.Logger)
	actorID := strings.TrimSpace(query.ActorID)
	if actorID == "" {
		return AuthoritySummaryResult{}, domainerrors.ErrInvalidActorID
	}
	requester, err := loadRequester(ctx, u.Repository, strings.TrimSpace(query.RequesterID))
	if err != nil {
		return AuthoritySummaryResult{}, err
	}
	if !requester.IsSuperAdmin() && requester.ActorID != actorID {
		return AuthoritySummaryResult{}, domainerrors.ErrForbidden.WithReason("only a SUPER_ADMIN or the actor may read this summary")
	}

	if u.SummaryCache != nil {
		cached, hit, err := u.SummaryCache.GetSummary(ctx, actorID)
		if err != nil {
			logger.Warn("authority summary cache read failed",
				"event", "authority_summary_cache_get_failed",
				"module", application.ModuleName,
				"layer", "application",
				"actor_id", actorID,
				"error", err.Error(),
			)
		} else if hit && !cached.StaleBy(u.now()) {
			return AuthoritySummaryResult{Summary: cached, CacheHit: true}, nil
		}
	}

	summary, err := u.Repository.GetAuthoritySummary(ctx, actorID)
	if err != nil {
		if faults.KindOf(err) == faults.KindNotFound {
			return AuthoritySummaryResult{}, err
		}
		return AuthoritySummaryResult{}, faults.Internal(err)
	}
	if ttl := u.cacheTTL(summary); u.SummaryCache != nil && ttl > 0 {
		if err := u.SummaryCache.SetSummary(ctx, summary, ttl); err != nil {
			logger.Warn("authority summary cache write failed",
				"event", "authority_summary_cache_set_failed",
				"module", application.ModuleName,
				"layer", "application",
				"actor_id", actorID,
				"error", err.Error(),
			)
		}
	}
	return AuthoritySummaryResult{Summary: summary}, nil
}

func (u AuthoritySummaryUseCase) cacheTTL(summary entities.AuthoritySummary) time.Duration {
	ttl := u.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if summary.StaleAt != nil {
		if untilStale := summary.StaleAt.Sub(u.now()); untilStale < ttl {
			ttl = untilStale
		}
	}
	return ttl
}

func (u AuthoritySummaryUseCase) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now().UTC()
}
