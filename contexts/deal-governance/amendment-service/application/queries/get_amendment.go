package queries

import (
	"context"
	"errors"
	"strings"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/faults"
)

type GetAmendmentUseCase struct {
	Repository ports.Repository
}

func (u GetAmendmentUseCase) Execute(ctx context.Context, amendmentID string) (entities.Amendment, error) {
	amendmentID = strings.TrimSpace(amendmentID)
	if amendmentID == "" {
		return entities.Amendment{}, domainerrors.ErrInvalidAmendmentID
	}
	amendment, err := u.Repository.GetAmendment(ctx, amendmentID)
	if err != nil {
		return entities.Amendment{}, classify(err)
	}
	return amendment, nil
}

func classify(err error) error {
	var classified *faults.Error
	if errors.As(err, &classified) {
		return err
	}
	return faults.Internal(err)
}
