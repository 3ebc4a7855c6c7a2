package httpadapter

import (
	"context"
	"log/slog"

	application "escrowline/contexts/deal-governance/invitation-service/application"
	"escrowline/contexts/deal-governance/invitation-service/application/commands"
	"escrowline/contexts/deal-governance/invitation-service/application/queries"
	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	httptransport "escrowline/contexts/deal-governance/invitation-service/transport/http"
)

type Handler struct {
	Accept     commands.AcceptInvitationUseCase
	Decline    commands.DeclineInvitationUseCase
	Activation queries.GetDealActivationUseCase
	Logger     *slog.Logger
}

func (h Handler) AcceptInvitationHandler(ctx context.Context, token string) (httptransport.AcceptInvitationResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	logger.Info("http accept invitation received",
		"event", "invitation_http_accept_received",
		"module", application.ModuleName,
		"layer", "transport",
	)
	result, err := h.Accept.Execute(ctx, token)
	if err != nil {
		return httptransport.AcceptInvitationResponse{}, err
	}
	response := httptransport.AcceptInvitationResponse{
		Party:           toPartyDTO(result.Party),
		Deal:            toDealDTO(result.Deal),
		AlreadyAccepted: result.AlreadyAccepted,
		DealActivated:   result.DealActivated,
	}
	if result.Membership != nil {
		response.MembershipID = result.Membership.MembershipID
	}
	return response, nil
}

func (h Handler) DeclineInvitationHandler(
	ctx context.Context,
	token string,
	request httptransport.DeclineInvitationRequest,
) (httptransport.DeclineInvitationResponse, error) {
	result, err := h.Decline.Execute(ctx, commands.DeclineInvitationCommand{Token: token, Reason: request.Reason})
	if err != nil {
		return httptransport.DeclineInvitationResponse{}, err
	}
	return httptransport.DeclineInvitationResponse{
		Party:           toPartyDTO(result.Party),
		Deal:            toDealDTO(result.Deal),
		AlreadyDeclined: result.AlreadyDeclined,
	}, nil
}

func (h Handler) DealActivationHandler(ctx context.Context, dealID string) (httptransport.DealActivationResponse, error) {
	view, err := h.Activation.Execute(ctx, dealID)
	if err != nil {
		return httptransport.DealActivationResponse{}, err
	}
	response := httptransport.DealActivationResponse{
		Deal:            toDealDTO(view.Deal),
		Parties:         make([]httptransport.PartyDTO, 0, len(view.Parties)),
		PendingParties:  view.PendingParties,
		DeclinedParties: view.DeclinedParties,
		Blocked:         view.Blocked,
	}
	for _, party := range view.Parties {
		response.Parties = append(response.Parties, toPartyDTO(party))
	}
	return response, nil
}

func toPartyDTO(party entities.Party) httptransport.PartyDTO {
	return httptransport.PartyDTO{
		PartyID:          party.PartyID,
		DealID:           party.DealID,
		Role:             party.Role,
		InvitationStatus: string(party.InvitationStatus),
		RespondedAt:      party.RespondedAt,
		DeclineReason:    party.DeclineReason,
	}
}

func toDealDTO(deal entities.Deal) httptransport.DealDTO {
	return httptransport.DealDTO{
		DealID:      deal.DealID,
		Status:      string(deal.Status),
		ActivatedAt: deal.ActivatedAt,
	}
}
