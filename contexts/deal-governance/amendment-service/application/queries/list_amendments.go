package queries

import (
	"context"
	"strings"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/ports"
)

// ListAmendmentsUseCase returns a deal's amendments oldest first.
type ListAmendmentsUseCase struct {
	Repository ports.Repository
}

func (u ListAmendmentsUseCase) Execute(ctx context.Context, dealID string) ([]entities.Amendment, error) {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return nil, domainerrors.ErrInvalidDealID
	}
	items, err := u.Repository.ListAmendmentsByDeal(ctx, dealID)
	if err != nil {
		return nil, classify(err)
	}
	return items, nil
}
