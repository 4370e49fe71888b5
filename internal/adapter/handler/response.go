package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
)

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	ErrorID string `json:"error_id,omitempty"`
}

type webhookResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errInvalidBody = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(kind domain.ErrorKind, err error) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		if errors.Is(err, domain.ErrCallbackInFlight) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case domain.KindNotFound, domain.KindUnknownCallback:
		return http.StatusNotFound
	case domain.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status of the error kind. Provider and internal
// failures never expose their cause; the client gets an id that is logged
// next to it.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind := domain.Classify(err)
	status := statusFor(kind, err)

	switch kind {
	case domain.KindProvider, domain.KindInternal:
		errorID := uuid.NewString()
		observability.LoggerFromContext(r.Context(), logger).Error("request_failed",
			zap.String("error_id", errorID),
			zap.String("kind", kind.String()),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message := "Internal server error"
		if kind == domain.KindProvider {
			message = "Payment provider error, please try again later"
		}
		writeJSON(w, status, errorResponse{Message: message, ErrorID: errorID})
	default:
		writeJSON(w, status, errorResponse{Message: err.Error()})
	}
}
