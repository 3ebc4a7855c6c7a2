package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	amendmenttransport "escrowline/contexts/deal-governance/amendment-service/transport/http"
	authoritytransport "escrowline/contexts/deal-governance/authority-service/transport/http"
	invitationtransport "escrowline/contexts/deal-governance/invitation-service/transport/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGrantDelegation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req authoritytransport.GrantDelegationRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.handlers.Authority.GrantDelegationHandler(r.Context(), actorID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpdateDelegation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req authoritytransport.UpdateDelegationRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.handlers.Authority.UpdateDelegationHandler(r.Context(), actorID, chi.URLParam(r, "delegation_id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevokeDelegation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	resp, err := s.handlers.Authority.RevokeDelegationHandler(r.Context(), actorID, chi.URLParam(r, "delegation_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	includeInactive := false
	if raw := strings.TrimSpace(query.Get("include_inactive")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_include_inactive", "include_inactive must be a boolean")
			return
		}
		includeInactive = parsed
	}
	resp, err := s.handlers.Authority.ListDelegationsHandler(
		r.Context(),
		actorID,
		query.Get("grantee_id"),
		query.Get("grantor_id"),
		includeInactive,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelegationStats(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	resp, err := s.handlers.Authority.StatsHandler(r.Context(), actorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCanApprove answers for any actor but only to an identified caller.
// Without actor_id the caller checks its own authority.
func (s *Server) handleCanApprove(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req authoritytransport.CanApproveRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.ActorID) == "" {
		req.ActorID = callerID
	}
	resp, err := s.handlers.Authority.CanApproveHandler(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthoritySummary(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	resp, err := s.handlers.Authority.AuthoritySummaryHandler(r.Context(), actorID, chi.URLParam(r, "actor_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProposeAmendment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req amendmenttransport.ProposeAmendmentRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.handlers.Amendment.ProposeAmendmentHandler(r.Context(), actorID, chi.URLParam(r, "deal_id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListAmendments(w http.ResponseWriter, r *http.Request) {
	resp, err := s.handlers.Amendment.ListAmendmentsHandler(r.Context(), chi.URLParam(r, "deal_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAmendment(w http.ResponseWriter, r *http.Request) {
	resp, err := s.handlers.Amendment.GetAmendmentHandler(r.Context(), chi.URLParam(r, "amendment_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRespondToAmendment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req amendmenttransport.RespondRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.handlers.Amendment.RespondHandler(r.Context(), actorID, chi.URLParam(r, "amendment_id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolveAmendment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req amendmenttransport.ResolveRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.handlers.Amendment.ResolveHandler(r.Context(), actorID, chi.URLParam(r, "amendment_id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	resp, err := s.handlers.Invitation.AcceptInvitationHandler(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitationtransport.DeclineInvitationRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.handlers.Invitation.DeclineInvitationHandler(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDealActivation(w http.ResponseWriter, r *http.Request) {
	resp, err := s.handlers.Invitation.DealActivationHandler(r.Context(), chi.URLParam(r, "deal_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
