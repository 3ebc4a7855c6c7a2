// Package approvalgate lets amendment-service ask authority-service who may
// resolve disputes without either service importing the other.
package approvalgate

import (
	"context"

	amendmentports "escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/contexts/deal-governance/authority-service/application/queries"
	"escrowline/contexts/deal-governance/authority-service/domain/entities"

	"github.com/shopspring/decimal"
)

// Evaluator is the authority policy check.
type Evaluator interface {
	Execute(ctx context.Context, query queries.CanApproveQuery) (entities.ApprovalDecision, error)
}

// Gate implements the amendment ApprovalGate port.
type Gate struct {
	Evaluator Evaluator
}

func New(evaluator Evaluator) Gate {
	return Gate{Evaluator: evaluator}
}

func (g Gate) CanApprove(
	ctx context.Context,
	actorID string,
	actionType string,
	amount *decimal.Decimal,
) (amendmentports.ApprovalVerdict, error) {
	decision, err := g.Evaluator.Execute(ctx, queries.CanApproveQuery{
		ActorID:    actorID,
		ActionType: actionType,
		Amount:     amount,
	})
	if err != nil {
		return amendmentports.ApprovalVerdict{}, err
	}
	return amendmentports.ApprovalVerdict{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
	}, nil
}
