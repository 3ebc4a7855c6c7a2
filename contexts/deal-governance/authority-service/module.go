package authority

import (
	"log/slog"
	"time"

	httpadapter "escrowline/contexts/deal-governance/authority-service/adapters/http"
	"escrowline/contexts/deal-governance/authority-service/adapters/memory"
	"escrowline/contexts/deal-governance/authority-service/application/commands"
	"escrowline/contexts/deal-governance/authority-service/application/queries"
	"escrowline/contexts/deal-governance/authority-service/application/workers"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/audit"
)

// Module is the authority-service composition root exposed to runtime wiring.
type Module struct {
	Handler    httpadapter.Handler
	CanApprove queries.CanApproveUseCase
	Relay      workers.OutboxRelay
	Consumer   workers.SummaryInvalidationConsumer
	Store      *memory.Store
}

// Dependencies captures all runtime ports/config required by NewModule.
type Dependencies struct {
	Repository      ports.Repository
	SummaryCache    ports.SummaryCache
	Outbox          ports.OutboxRepository
	Publisher       ports.EventPublisher
	Dedup           ports.EventDedupStore
	Audit           audit.Sink
	Metrics         ports.Metrics
	Clock           ports.Clock
	IDGenerator     ports.IDGenerator
	SummaryCacheTTL time.Duration
	OutboxBatchSize int
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	canApprove := queries.CanApproveUseCase{
		Repository: deps.Repository,
		Clock:      deps.Clock,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	}
	handler := httpadapter.Handler{
		Grant: commands.GrantDelegationUseCase{
			Repository:   deps.Repository,
			SummaryCache: deps.SummaryCache,
			Audit:        deps.Audit,
			IDGenerator:  deps.IDGenerator,
			Clock:        deps.Clock,
			Logger:       deps.Logger,
		},
		Update: commands.UpdateDelegationUseCase{
			Repository:   deps.Repository,
			SummaryCache: deps.SummaryCache,
			Audit:        deps.Audit,
			IDGenerator:  deps.IDGenerator,
			Clock:        deps.Clock,
			Logger:       deps.Logger,
		},
		Revoke: commands.RevokeDelegationUseCase{
			Repository:   deps.Repository,
			SummaryCache: deps.SummaryCache,
			Audit:        deps.Audit,
			IDGenerator:  deps.IDGenerator,
			Clock:        deps.Clock,
			Logger:       deps.Logger,
		},
		CanApprove: canApprove,
		List: queries.ListDelegationsUseCase{
			Repository: deps.Repository,
			Logger:     deps.Logger,
		},
		Stats: queries.DelegationStatsUseCase{
			Repository: deps.Repository,
			Clock:      deps.Clock,
		},
		Summary: queries.AuthoritySummaryUseCase{
			Repository:   deps.Repository,
			SummaryCache: deps.SummaryCache,
			Clock:        deps.Clock,
			CacheTTL:     deps.SummaryCacheTTL,
			Logger:       deps.Logger,
		},
		Logger: deps.Logger,
	}

	return Module{
		Handler:    handler,
		CanApprove: canApprove,
		Relay: workers.OutboxRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: deps.OutboxBatchSize,
			Logger:    deps.Logger,
		},
		Consumer: workers.SummaryInvalidationConsumer{
			Dedup:        deps.Dedup,
			SummaryCache: deps.SummaryCache,
			Clock:        deps.Clock,
		},
	}
}

// NewInMemoryModule builds a development/testing module with in-memory adapters.
// publisher may be nil when the relay is not exercised.
func NewInMemoryModule(publisher ports.EventPublisher, sink audit.Sink, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Repository:      store,
		SummaryCache:    store,
		Outbox:          store,
		Publisher:       publisher,
		Dedup:           store,
		Audit:           sink,
		Clock:           store,
		IDGenerator:     store,
		SummaryCacheTTL: 5 * time.Minute,
		Logger:          logger,
	})
	module.Store = store
	return module
}
