package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"podpiska-billing/internal/access"
	"podpiska-billing/internal/checkout"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/journal"
	"podpiska-billing/internal/models"
	"podpiska-billing/internal/notify"
	"podpiska-billing/internal/store"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 30
	maxListLimit     = 500
)

// CheckoutStarter starts a first-time payment.
type CheckoutStarter interface {
	Start(ctx context.Context, userID int64, email string) (*checkout.Session, error)
}

// SettingsWriter updates one operator setting.
type SettingsWriter interface {
	Set(ctx context.Context, key, value string) error
}

// Pinger is a dependency probed by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CheckoutRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Email  string `json:"email" validate:"required,email"`
}

type SettingRequest struct {
	Value string `json:"value" validate:"required"`
}

type SubscriptionView struct {
	UserID        int64      `json:"userId"`
	AccessActive  bool       `json:"accessActive"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Email         string     `json:"email,omitempty"`
	Token         string     `json:"token"`
	LastChargedAt *time.Time `json:"lastChargedAt,omitempty"`
}

func viewOf(sub *models.Subscription) SubscriptionView {
	return SubscriptionView{
		UserID:        sub.UserID,
		AccessActive:  sub.AccessActive,
		ExpiresAt:     sub.ExpiresAt,
		Email:         sub.Email,
		Token:         sub.TokenState().String(),
		LastChargedAt: sub.LastChargedAt,
	}
}

type HandlerDependencies struct {
	Checkout CheckoutStarter
	Store    store.Store
	Settings SettingsWriter
	Access   access.Synchronizer
	Notifier notify.Notifier
	Journal  journal.Journal
	Probes   map[string]Pinger
	Logger   logger.Logger
}

type Handlers struct {
	channel  string
	checkout CheckoutStarter
	store    store.Store
	settings SettingsWriter
	access   access.Synchronizer
	notifier notify.Notifier
	journal  journal.Journal
	probes   map[string]Pinger
	logger   logger.Logger
}

func NewHandlers(deps HandlerDependencies, channel string) *Handlers {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	return &Handlers{
		channel:  channel,
		checkout: deps.Checkout,
		store:    deps.Store,
		settings: deps.Settings,
		access:   deps.Access,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		probes:   deps.Probes,
		logger:   deps.Logger.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Checkout handles POST /api/v1/checkout.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[CheckoutRequest](w, r, h.logger)
	if !ok {
		return
	}
	if !mayActFor(r.Context(), req.UserID) {
		JSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	session, err := h.checkout.Start(r.Context(), req.UserID, req.Email)
	if err != nil {
		h.logger.Warn("checkout unavailable", map[string]interface{}{
			"userId":    req.UserID,
			"requestId": requestID(r.Context()),
			"error":     err.Error(),
		})
		Error(w, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"redirectUrl": session.RedirectURL})
}

// OptOut handles POST /api/v1/subscriptions/{userId}/opt-out. Access stays
// until the paid period ends; the next cycle revokes instead of charging.
func (h *Handlers) OptOut(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	if !mayActFor(r.Context(), userID) {
		JSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	sub, err := h.store.Update(r.Context(), userID, models.SubscriptionPatch{ChargeToken: models.ClearToken()})
	if err != nil {
		Error(w, h.logger, err)
		return
	}

	h.journal.Record(r.Context(), journal.Event{Type: journal.EventTokenCleared, UserID: userID})
	h.logger.Info("user opted out of re-billing", map[string]interface{}{"userId": userID})
	JSON(w, http.StatusOK, viewOf(sub))
}

// GetSubscription handles GET /api/v1/admin/subscriptions/{userId}.
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	sub, err := h.store.Get(r.Context(), userID)
	if err != nil {
		Error(w, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, viewOf(sub))
}

// ListSubscriptions handles GET /api/v1/admin/subscriptions?limit=N.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			JSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	subs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		Error(w, h.logger, err)
		return
	}
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, viewOf(sub))
	}
	JSON(w, http.StatusOK, views)
}

// RevokeSubscription handles POST /api/v1/admin/subscriptions/{userId}/revoke.
func (h *Handlers) RevokeSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}

	sub, err := h.store.Update(r.Context(), userID, models.Revoke())
	if err != nil {
		Error(w, h.logger, err)
		return
	}

	h.journal.Record(r.Context(), journal.Event{
		Type:   journal.EventAccessRevoked,
		UserID: userID,
		Reason: "revoked by operator",
	})
	if err := h.access.RevokeMembership(r.Context(), h.channel, userID); err != nil {
		h.logger.Error("failed to remove user from channel", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	h.notifier.AccessExpired(r.Context(), userID)
	JSON(w, http.StatusOK, viewOf(sub))
}

// PutSetting handles PUT /api/v1/admin/settings/{key}.
func (h *Handlers) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	req, ok := decodeBody[SettingRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.settings.Set(r.Context(), key, req.Value); err != nil {
		Error(w, h.logger, err)
		return
	}
	h.logger.Info("setting updated", map[string]interface{}{"key": key})
	JSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready pings every configured dependency.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	JSON(w, status, checks)
}

func (h *Handlers) userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userID <= 0 {
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return 0, false
	}
	return userID, true
}
