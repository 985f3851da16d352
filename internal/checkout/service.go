// Package checkout starts first-time payments.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"podpiska-billing/internal/common/bepaid"
	"podpiska-billing/internal/common/clock"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/metrics"
	"podpiska-billing/internal/journal"
	"podpiska-billing/internal/models"
	"podpiska-billing/internal/settings"
	"podpiska-billing/internal/store"
)

// ErrNoPaymentLink is returned when no checkout page can be offered now.
var ErrNoPaymentLink = bepaid.ErrNoPaymentLink

// Gateway is the checkout half of the payment gateway client.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req bepaid.CheckoutRequest) (string, error)
}

type Config struct {
	Description     string
	NotificationURL string
	ReturnURL       string
}

type Session struct {
	RedirectURL string `json:"redirectUrl"`
	TrackingID  string `json:"trackingId"`
}

type Service struct {
	config   *Config
	gateway  Gateway
	store    store.Store
	settings settings.Provider
	journal  journal.Journal
	clock    clock.Clock
	logger   logger.Logger
}

type ServiceDependencies struct {
	Gateway  Gateway
	Store    store.Store
	Settings settings.Provider
	Journal  journal.Journal
	Clock    clock.Clock
	Logger   logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Service{
		config:   config,
		gateway:  deps.Gateway,
		store:    deps.Store,
		settings: deps.Settings,
		journal:  deps.Journal,
		clock:    deps.Clock,
		logger:   deps.Logger.WithFields(map[string]interface{}{"component": "checkout"}),
	}
}

// Start ensures the subscription record exists and creates a hosted
// checkout page for the current price. Any gateway failure is reported as
// ErrNoPaymentLink.
func (s *Service) Start(ctx context.Context, userID int64, email string) (*Session, error) {
	if _, err := s.store.Ensure(ctx, userID, email); err != nil {
		return nil, fmt.Errorf("failed to ensure subscription: %w", err)
	}

	pricing, err := s.settings.Pricing(ctx)
	if err != nil {
		s.logger.Warn("using default pricing", map[string]interface{}{"error": err.Error()})
	}

	trackingID := models.NewTrackingID(userID, s.clock.Now()).String()
	url, err := s.gateway.CreateCheckoutSession(ctx, bepaid.CheckoutRequest{
		Amount:          pricing.Price,
		Currency:        pricing.Currency,
		Description:     s.config.Description,
		TrackingID:      trackingID,
		Email:           email,
		NotificationURL: s.config.NotificationURL,
		ReturnURL:       s.config.ReturnURL,
	})
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("failed").Inc()
		s.journal.Record(ctx, journal.Event{
			Type:       journal.EventCheckoutFailed,
			UserID:     userID,
			TrackingID: trackingID,
			Reason:     err.Error(),
		})
		if !errors.Is(err, ErrNoPaymentLink) {
			err = fmt.Errorf("%w: %w", ErrNoPaymentLink, err)
		}
		return nil, err
	}

	metrics.CheckoutSessions.WithLabelValues("created").Inc()
	s.journal.Record(ctx, journal.Event{
		Type:       journal.EventCheckoutCreated,
		UserID:     userID,
		TrackingID: trackingID,
		Amount:     pricing.MinorAmount(),
		Currency:   pricing.Currency,
	})
	return &Session{RedirectURL: url, TrackingID: trackingID}, nil
}
