package commands

import (
	"context"
	"errors"
	"strings"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/faults"
)

// requireSuperAdmin loads actorID and rejects anyone but a SUPER_ADMIN.
func requireSuperAdmin(ctx context.Context, repository ports.Repository, actorID string) (entities.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return entities.Actor{}, domainerrors.ErrInvalidActorID
	}
	actor, err := repository.GetActor(ctx, actorID)
	if err != nil {
		return entities.Actor{}, classify(err)
	}
	if !actor.IsSuperAdmin() {
		return entities.Actor{}, domainerrors.ErrSuperAdminRequired
	}
	return actor, nil
}

// classify keeps domain errors intact and hides everything else behind Internal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *faults.Error
	if errors.As(err, &classified) {
		return err
	}
	return faults.Internal(err)
}
