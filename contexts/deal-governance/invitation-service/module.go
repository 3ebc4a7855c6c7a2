package invitation

import (
	"log/slog"

	httpadapter "escrowline/contexts/deal-governance/invitation-service/adapters/http"
	"escrowline/contexts/deal-governance/invitation-service/adapters/memory"
	"escrowline/contexts/deal-governance/invitation-service/application/commands"
	"escrowline/contexts/deal-governance/invitation-service/application/queries"
	"escrowline/contexts/deal-governance/invitation-service/application/workers"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	"escrowline/internal/shared/audit"
)

type Module struct {
	Handler httpadapter.Handler
	Relay   workers.OutboxRelay
	Store   *memory.Store
}

type Dependencies struct {
	Repository      ports.Repository
	Outbox          ports.OutboxRepository
	Publisher       ports.EventPublisher
	Audit           audit.Sink
	Metrics         ports.Metrics
	Clock           ports.Clock
	IDGenerator     ports.IDGenerator
	OutboxBatchSize int
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	return Module{
		Handler: httpadapter.Handler{
			Accept: commands.AcceptInvitationUseCase{
				Repository:  deps.Repository,
				Audit:       deps.Audit,
				Metrics:     deps.Metrics,
				IDGenerator: deps.IDGenerator,
				Clock:       deps.Clock,
				Logger:      deps.Logger,
			},
			Decline: commands.DeclineInvitationUseCase{
				Repository:  deps.Repository,
				Audit:       deps.Audit,
				Metrics:     deps.Metrics,
				IDGenerator: deps.IDGenerator,
				Clock:       deps.Clock,
				Logger:      deps.Logger,
			},
			Activation: queries.GetDealActivationUseCase{Repository: deps.Repository},
			Logger:     deps.Logger,
		},
		Relay: workers.OutboxRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: deps.OutboxBatchSize,
			Logger:    deps.Logger,
		},
	}
}

func NewInMemoryModule(publisher ports.EventPublisher, sink audit.Sink, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Repository:  store,
		Outbox:      store,
		Publisher:   publisher,
		Audit:       sink,
		Clock:       store,
		IDGenerator: store,
		Logger:      logger,
	})
	module.Store = store
	return module
}
