package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/domain/services"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/audit"
)

type ProposeAmendmentCommand struct {
	DealID          string
	ProposerID      string
	ProposedChanges entities.ProposedChanges
	SupersedesID    string
}

// ProposeAmendmentUseCase opens a PENDING amendment on behalf of a current party.
type ProposeAmendmentUseCase struct {
	Repository  ports.Repository
	Audit       audit.Sink
	IDGenerator ports.IDGenerator
	Clock       ports.Clock
	Logger      *slog.Logger
}

func (u ProposeAmendmentUseCase) Execute(ctx context.Context, cmd ProposeAmendmentCommand) (AmendmentResult, error) {
	logger := application.ResolveLogger(u.Logger)
	dealID := strings.TrimSpace(cmd.DealID)
	proposerID := strings.TrimSpace(cmd.ProposerID)
	supersedesID := strings.TrimSpace(cmd.SupersedesID)

	if dealID == "" {
		return AmendmentResult{}, domainerrors.ErrInvalidDealID
	}
	if proposerID == "" {
		return AmendmentResult{}, domainerrors.ErrInvalidPartyID
	}
	changes := cmd.ProposedChanges
	changes.AmendmentType = strings.TrimSpace(changes.AmendmentType)
	changes.Description = strings.TrimSpace(changes.Description)
	changes.Reason = strings.TrimSpace(changes.Reason)
	if err := services.ValidateProposal(changes); err != nil {
		return AmendmentResult{}, err
	}

	if _, err := u.Repository.GetDeal(ctx, dealID); err != nil {
		return AmendmentResult{}, classify(err)
	}
	parties, err := u.Repository.ListParties(ctx, dealID)
	if err != nil {
		return AmendmentResult{}, classify(err)
	}
	if !services.IsCurrentParty(parties, proposerID) {
		return AmendmentResult{}, domainerrors.ErrNotCurrentParty
	}

	amendmentID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return AmendmentResult{}, classify(err)
	}
	outboxID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		return AmendmentResult{}, classify(err)
	}
	now := u.now()
	created, err := u.Repository.CreateAmendment(ctx, ports.CreateAmendmentInput{
		Amendment: entities.Amendment{
			AmendmentID:     amendmentID,
			DealID:          dealID,
			ProposerID:      proposerID,
			Status:          entities.AmendmentStatusPending,
			ProposedChanges: changes,
			Responses:       []entities.PartyResponse{},
			SupersedesID:    supersedesID,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		OutboxID: outboxID,
	})
	if err != nil {
		logger.Warn("propose amendment failed",
			"event", "amendment_propose_failed",
			"module", application.ModuleName,
			"layer", "application",
			"deal_id", dealID,
			"proposer_id", proposerID,
			"error", err.Error(),
		)
		return AmendmentResult{}, classify(err)
	}

	metadata := map[string]string{"change_kind": string(changes.Changeset.Kind())}
	if supersedesID != "" {
		metadata["supersedes_id"] = supersedesID
	}
	audit.Emit(ctx, u.Audit, logger, audit.Entry{
		ActorID:    proposerID,
		Action:     "amendment.proposed",
		EntityType: "amendment",
		EntityID:   created.AmendmentID,
		OccurredAt: now,
		Metadata:   metadata,
	})
	logger.Info("amendment proposed",
		"event", "amendment_proposed",
		"module", application.ModuleName,
		"layer", "application",
		"amendment_id", created.AmendmentID,
		"deal_id", dealID,
		"proposer_id", proposerID,
	)
	return AmendmentResult{Amendment: created}, nil
}

func (u ProposeAmendmentUseCase) now() time.Time {
	if u.Clock != nil {
		return u.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
