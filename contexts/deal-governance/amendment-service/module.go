package amendment

import (
	"log/slog"

	httpadapter "escrowline/contexts/deal-governance/amendment-service/adapters/http"
	"escrowline/contexts/deal-governance/amendment-service/adapters/memory"
	"escrowline/contexts/deal-governance/amendment-service/application/commands"
	"escrowline/contexts/deal-governance/amendment-service/application/queries"
	"escrowline/contexts/deal-governance/amendment-service/application/workers"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/audit"
)

type Module struct {
	Handler   httpadapter.Handler
	Reconcile commands.ReconcilePartiesUseCase
	Relay     workers.OutboxRelay
	Roster    workers.PartyRosterConsumer
	Store     *memory.Store
	Applier   *memory.RecordingApplier
}

type Dependencies struct {
	Repository      ports.Repository
	Outbox          ports.OutboxRepository
	Publisher       ports.EventPublisher
	Applier         ports.ChangeApplier
	Approvals       ports.ApprovalGate
	Audit           audit.Sink
	Metrics         ports.Metrics
	Clock           ports.Clock
	IDGenerator     ports.IDGenerator
	OutboxBatchSize int
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	reconcile := commands.ReconcilePartiesUseCase{
		Repository: deps.Repository,
		Applier:    deps.Applier,
		Audit:      deps.Audit,
		Metrics:    deps.Metrics,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
	}
	return Module{
		Reconcile: reconcile,
		Roster: workers.PartyRosterConsumer{
			Reconcile: reconcile,
			Logger:    deps.Logger,
		},
		Handler: httpadapter.Handler{
			Propose: commands.ProposeAmendmentUseCase{
				Repository:  deps.Repository,
				Audit:       deps.Audit,
				IDGenerator: deps.IDGenerator,
				Clock:       deps.Clock,
				Logger:      deps.Logger,
			},
			Respond: commands.RespondToAmendmentUseCase{
				Repository:  deps.Repository,
				Applier:     deps.Applier,
				Audit:       deps.Audit,
				Metrics:     deps.Metrics,
				IDGenerator: deps.IDGenerator,
				Clock:       deps.Clock,
				Roster:      reconcile,
				Logger:      deps.Logger,
			},
			Resolve: commands.AdminResolveUseCase{
				Repository:  deps.Repository,
				Approvals:   deps.Approvals,
				Applier:     deps.Applier,
				Audit:       deps.Audit,
				Metrics:     deps.Metrics,
				IDGenerator: deps.IDGenerator,
				Clock:       deps.Clock,
				Roster:      reconcile,
				Logger:      deps.Logger,
			},
			Get:    queries.GetAmendmentUseCase{Repository: deps.Repository},
			List:   queries.ListAmendmentsUseCase{Repository: deps.Repository},
			Logger: deps.Logger,
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

// NewInMemoryModule wires the memory store and a recording applier. approvals
// answers CanApprove for admin resolution.
func NewInMemoryModule(approvals ports.ApprovalGate, publisher ports.EventPublisher, sink audit.Sink, logger *slog.Logger) Module {
	store := memory.NewStore()
	applier := memory.NewRecordingApplier()
	module := NewModule(Dependencies{
		Repository:  store,
		Outbox:      store,
		Publisher:   publisher,
		Applier:     applier,
		Approvals:   approvals,
		Audit:       sink,
		Clock:       store,
		IDGenerator: store,
		Logger:      logger,
	})
	module.Store = store
	module.Applier = applier
	return module
}
