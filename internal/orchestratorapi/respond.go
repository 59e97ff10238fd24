package orchestratorapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeErrorCode(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// writeErr maps err to an HTTP status and error code using the §7
// taxonomy classifiers, taking care never to leak a stack trace or
// internal detail beyond err.Error().
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case apierrors.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apierrors.ErrInvalidState):
		writeErrorCode(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, apierrors.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, apierrors.ErrInvalidPatch):
		writeErrorCode(w, http.StatusBadRequest, "invalid_patch", err.Error())
	case errors.Is(err, apierrors.ErrInvalidPath), errors.Is(err, apierrors.ErrUnsupportedFormat):
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", err.Error())
	case errors.Is(err, apierrors.ErrTimeout):
		writeErrorCode(w, http.StatusGatewayTimeout, "timeout_error", err.Error())
	case apierrors.IsInfrastructure(err):
		writeErrorCode(w, http.StatusInternalServerError, "backend_unavailable", err.Error())
	default:
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
