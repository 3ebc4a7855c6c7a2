package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	application "escrowline/contexts/deal-governance/amendment-service/application"
	"escrowline/contexts/deal-governance/amendment-service/application/commands"
	"escrowline/contexts/deal-governance/amendment-service/application/queries"
	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	httptransport "escrowline/contexts/deal-governance/amendment-service/transport/http"
)

// Handler maps HTTP DTOs to amendment commands and queries.
type Handler struct {
	Propose commands.ProposeAmendmentUseCase
	Respond commands.RespondToAmendmentUseCase
	Resolve commands.AdminResolveUseCase
	Get     queries.GetAmendmentUseCase
	List    queries.ListAmendmentsUseCase
	Logger  *slog.Logger
}

func (h Handler) ProposeAmendmentHandler(
	ctx context.Context,
	actorID string,
	dealID string,
	request httptransport.ProposeAmendmentRequest,
) (httptransport.AmendmentResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	logger.Info("http propose amendment received",
		"event", "amendment_http_propose_received",
		"module", application.ModuleName,
		"layer", "transport",
		"actor_id", actorID,
		"deal_id", dealID,
	)

	var changeset entities.Changeset
	if len(request.Changeset) > 0 {
		if err := json.Unmarshal(request.Changeset, &changeset); err != nil {
			return httptransport.AmendmentResponse{}, domainerrors.ErrInvalidProposal.WithReason("changeset: %s", err.Error())
		}
	}
	result, err := h.Propose.Execute(ctx, commands.ProposeAmendmentCommand{
		DealID:     dealID,
		ProposerID: actorID,
		ProposedChanges: entities.ProposedChanges{
			AmendmentType: request.AmendmentType,
			Description:   request.Description,
			Reason:        request.Reason,
			Changeset:     changeset,
		},
		SupersedesID: request.SupersedesID,
	})
	if err != nil {
		return httptransport.AmendmentResponse{}, err
	}
	return toAmendmentResponse(result)
}

func (h Handler) RespondHandler(
	ctx context.Context,
	actorID string,
	amendmentID string,
	request httptransport.RespondRequest,
) (httptransport.AmendmentResponse, error) {
	result, err := h.Respond.Execute(ctx, commands.RespondToAmendmentCommand{
		AmendmentID: amendmentID,
		PartyID:     actorID,
		Decision:    entities.ResponseDecision(request.Decision),
		Notes:       request.Notes,
	})
	if err != nil {
		// an apply failure still carries the committed amendment
		if result.Amendment.AmendmentID == "" {
			return httptransport.AmendmentResponse{}, err
		}
		response, mapErr := toAmendmentResponse(result)
		if mapErr != nil {
			return httptransport.AmendmentResponse{}, mapErr
		}
		return response, err
	}
	return toAmendmentResponse(result)
}

func (h Handler) ResolveHandler(
	ctx context.Context,
	actorID string,
	amendmentID string,
	request httptransport.ResolveRequest,
) (httptransport.AmendmentResponse, error) {
	result, err := h.Resolve.Execute(ctx, commands.AdminResolveCommand{
		AmendmentID: amendmentID,
		AdminID:     actorID,
		Type:        entities.ResolutionType(request.Type),
		Notes:       request.Notes,
	})
	if err != nil {
		if result.Amendment.AmendmentID == "" {
			return httptransport.AmendmentResponse{}, err
		}
		response, mapErr := toAmendmentResponse(result)
		if mapErr != nil {
			return httptransport.AmendmentResponse{}, mapErr
		}
		return response, err
	}
	return toAmendmentResponse(result)
}

func (h Handler) GetAmendmentHandler(ctx context.Context, amendmentID string) (httptransport.AmendmentResponse, error) {
	amendment, err := h.Get.Execute(ctx, amendmentID)
	if err != nil {
		return httptransport.AmendmentResponse{}, err
	}
	dto, err := toAmendmentDTO(amendment)
	if err != nil {
		return httptransport.AmendmentResponse{}, err
	}
	return httptransport.AmendmentResponse{Amendment: dto}, nil
}

func (h Handler) ListAmendmentsHandler(ctx context.Context, dealID string) (httptransport.ListAmendmentsResponse, error) {
	items, err := h.List.Execute(ctx, dealID)
	if err != nil {
		return httptransport.ListAmendmentsResponse{}, err
	}
	response := httptransport.ListAmendmentsResponse{Items: make([]httptransport.AmendmentDTO, 0, len(items))}
	for _, item := range items {
		dto, err := toAmendmentDTO(item)
		if err != nil {
			return httptransport.ListAmendmentsResponse{}, err
		}
		response.Items = append(response.Items, dto)
	}
	return response, nil
}

func toAmendmentResponse(result commands.AmendmentResult) (httptransport.AmendmentResponse, error) {
	dto, err := toAmendmentDTO(result.Amendment)
	if err != nil {
		return httptransport.AmendmentResponse{}, err
	}
	response := httptransport.AmendmentResponse{
		Amendment:        dto,
		AlreadyResponded: result.AlreadyResponded,
		Applied:          result.Applied,
	}
	if result.Response != nil {
		item := toResponseDTO(*result.Response)
		response.Response = &item
	}
	return response, nil
}

func toAmendmentDTO(amendment entities.Amendment) (httptransport.AmendmentDTO, error) {
	changeset, err := json.Marshal(amendment.ProposedChanges.Changeset)
	if err != nil {
		return httptransport.AmendmentDTO{}, err
	}
	dto := httptransport.AmendmentDTO{
		AmendmentID:   amendment.AmendmentID,
		DealID:        amendment.DealID,
		ProposerID:    amendment.ProposerID,
		Status:        string(amendment.Status),
		AmendmentType: amendment.ProposedChanges.AmendmentType,
		Description:   amendment.ProposedChanges.Description,
		Reason:        amendment.ProposedChanges.Reason,
		Changeset:     changeset,
		Responses:     make([]httptransport.PartyResponseDTO, 0, len(amendment.Responses)),
		SupersedesID:  amendment.SupersedesID,
		CreatedAt:     amendment.CreatedAt,
		UpdatedAt:     amendment.UpdatedAt,
		AppliedAt:     amendment.AppliedAt,
	}
	for _, response := range amendment.Responses {
		dto.Responses = append(dto.Responses, toResponseDTO(response))
	}
	if amendment.AdminResolution != nil {
		dto.AdminResolution = &httptransport.AdminResolutionDTO{
			Type:       string(amendment.AdminResolution.Type),
			Notes:      amendment.AdminResolution.Notes,
			ResolvedBy: amendment.AdminResolution.ResolvedBy,
			ResolvedAt: amendment.AdminResolution.ResolvedAt,
		}
	}
	return dto, nil
}

func toResponseDTO(response entities.PartyResponse) httptransport.PartyResponseDTO {
	return httptransport.PartyResponseDTO{
		PartyID:     response.PartyID,
		Decision:    string(response.Decision),
		Notes:       response.Notes,
		RespondedAt: response.RespondedAt,
	}
}
