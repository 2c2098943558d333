package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Коды ошибок в теле ответа
const (
	CodeNotFound       = "not_found"
	CodeUnknownType    = "unknown_type"
	CodeConflict       = "conflict"
	CodeInvalidCommand = "invalid_command"
	CodeValidation     = "validation"
	CodeInternal       = "internal"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит доменную ошибку в HTTP. Внутренние детали наружу не отдаются.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{CodeNotFound, "Agent not found"})
	case errors.Is(err, domain.ErrUnknownAgentType):
		writeJSON(w, http.StatusBadRequest, errorBody{CodeUnknownType, err.Error()})
	case errors.Is(err, domain.ErrAgentConflict):
		writeJSON(w, http.StatusConflict, errorBody{CodeConflict, err.Error()})
	case errors.Is(err, domain.ErrInvalidCommand):
		writeJSON(w, http.StatusBadRequest, errorBody{CodeInvalidCommand, "Invalid action"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{CodeValidation, verr.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{CodeInternal, "internal error"})
	}
}
