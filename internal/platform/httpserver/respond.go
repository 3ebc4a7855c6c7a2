package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"escrowline/internal/shared/faults"
)

type errorResponse struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusForKind maps the fault taxonomy onto HTTP. AlreadyProcessed is a
// replay of a completed request and answers 200.
func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindPermissionDenied:
		return http.StatusForbidden
	case faults.KindValidation:
		return http.StatusBadRequest
	case faults.KindConflict, faults.KindImmutableState:
		return http.StatusConflict
	case faults.KindAlreadyProcessed:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	writeJSON(w, statusForKind(kind), errorResponse{
		Code:    faults.CodeOf(err),
		Kind:    string(kind),
		Message: faults.Message(err),
	})
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Kind:    string(faults.KindValidation),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeBody decodes JSON into target. An empty body leaves target zero
// when optional is set.
func decodeBody(r *http.Request, target any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	return err
}

// requireActor reads the calling actor or answers 401.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID := strings.TrimSpace(r.Header.Get(actorHeader))
	if actorID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:    "missing_actor",
			Kind:    string(faults.KindPermissionDenied),
			Message: actorHeader + " header is required",
		})
		return "", false
	}
	return actorID, true
}
