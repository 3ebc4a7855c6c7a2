package queries

import (
	"context"
	"strings"

	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/invitation-service/domain/errors"
	"escrowline/contexts/deal-governance/invitation-service/domain/services"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	"escrowline/internal/shared/faults"
)

// GetDealActivationUseCase reports a deal's status and its parties'
// invitation statuses.
type GetDealActivationUseCase struct {
	Repository ports.Repository
}

func (u GetDealActivationUseCase) Execute(ctx context.Context, dealID string) (view entities.DealActivation, err error) {
	defer func() {
		if err != nil {
			err = faults.Normalize(err)
		}
	}()
	defer faults.Recover(&err)

	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return entities.DealActivation{}, domainerrors.ErrInvalidDealID
	}
	deal, err := u.Repository.GetDeal(ctx, dealID)
	if err != nil {
		return entities.DealActivation{}, err
	}
	parties, err := u.Repository.ListParties(ctx, dealID)
	if err != nil {
		return entities.DealActivation{}, err
	}
	return services.BuildActivation(deal, parties), nil
}
