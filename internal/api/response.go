// Package api exposes the billing HTTP surface: checkout, opt-out,
// operator routes and the gateway notification endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"podpiska-billing/internal/checkout"
	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/settings"
	"podpiska-billing/internal/store"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error maps err onto a status code and a short message. Unknown errors are
// logged and reported as 500 without details.
func Error(w http.ResponseWriter, log logger.Logger, err error) {
	switch {
	case errors.Is(err, checkout.ErrNoPaymentLink):
		JSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no payment link available"})
		return
	case errors.Is(err, store.ErrNotFound):
		JSON(w, http.StatusNotFound, ErrorResponse{Error: "subscription not found"})
		return
	case errors.Is(err, store.ErrConflict):
		JSON(w, http.StatusConflict, ErrorResponse{Error: "subscription changed concurrently"})
		return
	case errors.Is(err, settings.ErrUnknownKey):
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeConfigInvalid:
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case apperrors.ErrCodeNotFound:
		JSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	case apperrors.ErrCodeStoreUnavailable:
		log.Error("store unavailable", map[string]interface{}{"error": err.Error()})
		JSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable"})
		return
	}

	log.Error("unhandled error", map[string]interface{}{
		"error":    err.Error(),
		"category": apperrors.Category(err),
	})
	JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// decodeBody decodes and validates a JSON request body. It writes the
// error reply itself and reports whether the handler may continue.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, log logger.Logger) (*T, bool) {
	var payload T
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn("failed to decode request body", map[string]interface{}{"error": err.Error()})
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return nil, false
	}
	if err := validate.Struct(payload); err != nil {
		log.Warn("request body failed validation", map[string]interface{}{"error": err.Error()})
		JSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return &payload, true
}
