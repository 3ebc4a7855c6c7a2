package queries

import (
	"context"
	"strings"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/domain/services"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/faults"
)

type DelegationStatsUseCase struct {
	Repository ports.Repository
	Clock      ports.Clock
}

func (u DelegationStatsUseCase) Execute(ctx context.Context, requesterID string) (entities.DelegationStats, error) {
	requester, err := loadRequester(ctx, u.Repository, strings.TrimSpace(requesterID))
	if err != nil {
		return entities.DelegationStats{}, err
	}
	if !requester.IsSuperAdmin() {
		return entities.DelegationStats{}, domainerrors.ErrSuperAdminRequired
	}
	items, err := u.Repository.ListDelegations(ctx, true)
	if err != nil {
		return entities.DelegationStats{}, faults.Internal(err)
	}
	now := time.Now().UTC()
	if u.Clock != nil {
		now = u.Clock.Now().UTC()
	}
	return services.BuildStats(items, now), nil
}
