package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/validation"
)

const maxNotificationBytes = 64 << 10

var notificationSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["transaction"],
	"properties": {
		"transaction": {
			"type": "object",
			"properties": {
				"uid":         {"type": "string"},
				"status":      {"type": "string"},
				"tracking_id": {"type": "string"},
				"message":     {"type": ["string", "null"]},
				"amount":      {"type": "integer"},
				"currency":    {"type": "string"},
				"credit_card": {
					"type": "object",
					"properties": {
						"token": {"type": ["string", "null"]}
					}
				}
			}
		}
	}
}`)

// Credentials enables HTTP Basic verification of notifications.
type Credentials struct {
	ShopID    string
	SecretKey string
}

// Handler is the HTTP face of the Processor. It acknowledges every
// notification it could read, whether applied or ignored.
type Handler struct {
	processor   *Processor
	credentials *Credentials
	logger      logger.Logger
}

// NewHandler builds the handler. A nil credentials disables verification.
func NewHandler(processor *Processor, credentials *Credentials, log logger.Logger) *Handler {
	return &Handler{
		processor:   processor,
		credentials: credentials,
		logger:      log.WithFields(map[string]interface{}{"component": "webhook-http"}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.credentials != nil && !h.authorized(r) {
		h.logger.Warn("notification rejected: bad credentials", map[string]interface{}{"remote": r.RemoteAddr})
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.logger.Error("failed to read notification body", map[string]interface{}{"error": err.Error()})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	shape, err := notificationSchema.Validate(body)
	if err != nil {
		h.logger.Warn("notification is not valid JSON", map[string]interface{}{"error": err.Error()})
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !shape.Valid {
		malformed := apperrors.NewNotificationMalformedError(shape.Error())
		h.logger.Warn("ignoring malformed notification", map[string]interface{}{"error": malformed.Error()})
		h.processor.ignore(r.Context(), Transaction{}, 0, malformed.Error())
		w.WriteHeader(http.StatusOK)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := h.processor.Process(r.Context(), n)
	if err != nil {
		// The grant was not written; let the gateway redeliver.
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Debug("notification handled", map[string]interface{}{
		"outcome": string(result.Outcome),
		"userId":  result.UserID,
	})
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.credentials.ShopID)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.credentials.SecretKey)) == 1
	return userOK && passOK
}
