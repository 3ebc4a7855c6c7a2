package queries

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	application "escrowline/contexts/deal-governance/authority-service/application"
	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/faults"
)

// ListDelegationsQuery selects one of three scopes: by grantee, by grantor,
// or everything. Exactly one of GranteeID and GrantorID may be set.
type ListDelegationsQuery struct {
	RequesterID     string
	GranteeID       string
	GrantorID       string
	IncludeInactive bool
}

// ListDelegationsUseCase is read-only. Grantees may list their own
// delegations; every other scope is restricted to super admins.
type ListDelegationsUseCase struct {
	Repository ports.Repository
	Logger     *slog.Logger
}

func (u ListDelegationsUseCase) Execute(ctx context.Context, query ListDelegationsQuery) ([]entities.Delegation, error) {
	logger := application.ResolveLogger(u.Logger)
	requesterID := strings.TrimSpace(query.RequesterID)
	granteeID := strings.TrimSpace(query.GranteeID)
	grantorID := strings.TrimSpace(query.GrantorID)
	if granteeID != "" && grantorID != "" {
		return nil, domainerrors.ErrInvalidDelegation.WithReason("filter by grantee or grantor, not both")
	}

	requester, err := loadRequester(ctx, u.Repository, requesterID)
	if err != nil {
		return nil, err
	}

	var items []entities.Delegation
	switch {
	case granteeID != "":
		if !requester.IsSuperAdmin() && requester.ActorID != granteeID {
			return nil, domainerrors.ErrForbidden.WithReason("only a SUPER_ADMIN or the grantee may list these delegations")
		}
		items, err = u.Repository.ListDelegationsByGrantee(ctx, granteeID)
	case grantorID != "":
		if !requester.IsSuperAdmin() {
			return nil, domainerrors.ErrSuperAdminRequired
		}
		items, err = u.Repository.ListDelegationsByGrantor(ctx, grantorID)
	default:
		if !requester.IsSuperAdmin() {
			return nil, domainerrors.ErrSuperAdminRequired
		}
		items, err = u.Repository.ListDelegations(ctx, query.IncludeInactive)
	}
	if err != nil {
		logger.Error("list delegations failed",
			"event", "authority_list_delegations_failed",
			"module", application.ModuleName,
			"layer", "application",
			"requester_id", requesterID,
			"grantee_id", granteeID,
			"grantor_id", grantorID,
			"error", err.Error(),
		)
		return nil, faults.Internal(err)
	}
	if items == nil {
		items = []entities.Delegation{}
	}
	return items, nil
}

func loadRequester(ctx context.Context, repository ports.Repository, requesterID string) (entities.Actor, error) {
	if requesterID == "" {
		return entities.Actor{}, domainerrors.ErrInvalidActorID
	}
	requester, err := repository.GetActor(ctx, requesterID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrActorNotFound) {
			return entities.Actor{}, err
		}
		return entities.Actor{}, faults.Internal(err)
	}
	return requester, nil
}
