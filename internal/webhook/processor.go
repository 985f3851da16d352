// Package webhook applies asynchronous payment notifications from the
// gateway to subscription state.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podpiska-billing/internal/access"
	"podpiska-billing/internal/common/clock"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/metrics"
	"podpiska-billing/internal/journal"
	"podpiska-billing/internal/models"
	"podpiska-billing/internal/notify"
	"podpiska-billing/internal/settings"
	"podpiska-billing/internal/store"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const statusSuccessful = "successful"

// Notification is the gateway's payment result payload.
type Notification struct {
	Transaction Transaction `json:"transaction"`
}

type Transaction struct {
	UID        string `json:"uid"`
	Status     string `json:"status"`
	TrackingID string `json:"tracking_id"`
	Message    string `json:"message"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	CreditCard struct {
		Token string `json:"token"`
	} `json:"credit_card"`
}

// Outcome is the terminal state of one notification.
type Outcome string

const (
	// OutcomeApplied means access was granted and the invite delivered.
	OutcomeApplied Outcome = "applied"
	// OutcomeDegraded means access was granted but no invite could be issued.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeIgnored means the notification required no action.
	OutcomeIgnored Outcome = "ignored"
)

type Result struct {
	Outcome   Outcome
	UserID    int64
	Reason    string
	ExpiresAt string
}

type Config struct {
	Channel string
}

type ProcessorDependencies struct {
	Store    store.Store
	Settings settings.Provider
	Access   access.Synchronizer
	Notifier notify.Notifier
	Journal  journal.Journal
	Clock    clock.Clock
	Logger   logger.Logger
}

// Processor runs received -> validated -> matched/unmatched -> applied/ignored.
type Processor struct {
	config   *Config
	store    store.Store
	settings settings.Provider
	access   access.Synchronizer
	notifier notify.Notifier
	journal  journal.Journal
	clock    clock.Clock
	logger   logger.Logger
}

func NewProcessor(deps ProcessorDependencies, config *Config) *Processor {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Processor{
		config:   config,
		store:    deps.Store,
		settings: deps.Settings,
		access:   deps.Access,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		clock:    deps.Clock,
		logger:   deps.Logger.WithFields(map[string]interface{}{"component": "webhook"}),
	}
}

// Process applies one validated notification. It returns an error only when
// the subscription write itself could not be performed; everything after a
// committed grant degrades instead of failing.
func (p *Processor) Process(ctx context.Context, n Notification) (Result, error) {
	ctx, span := otel.Tracer("webhook").Start(ctx, "webhook.process")
	defer span.End()

	tx := n.Transaction
	log := p.logger.WithFields(map[string]interface{}{
		"trackingId":    tx.TrackingID,
		"transactionId": tx.UID,
		"status":        tx.Status,
	})

	if tx.Status != statusSuccessful {
		log.Info("ignoring non-successful notification", nil)
		return p.ignore(ctx, tx, 0, "status is not successful"), nil
	}

	trackingID, err := models.ParseTrackingID(tx.TrackingID)
	if err != nil {
		log.Warn("ignoring notification with malformed tracking id", map[string]interface{}{"error": err.Error()})
		return p.ignore(ctx, tx, 0, err.Error()), nil
	}
	userID := trackingID.UserID
	span.SetAttributes(attribute.Int64("userId", userID))
	log = log.WithFields(map[string]interface{}{"userId": userID})

	pricing, err := p.settings.Pricing(ctx)
	if err != nil {
		log.Warn("settings unavailable, using default period", map[string]interface{}{"error": err.Error()})
	}

	if _, err := p.store.Get(ctx, userID); errors.Is(err, store.ErrNotFound) {
		if _, err := p.store.Ensure(ctx, userID, ""); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, fmt.Errorf("failed to create subscription: %w", err)
		}
	} else if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("failed to read subscription: %w", err)
	}

	now := p.clock.Now()
	grant := models.Grant(now.Add(pricing.Period()), models.SetToken(tx.CreditCard.Token))
	grant.LastChargedAt = &now

	sub, err := p.store.Update(ctx, userID, grant)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("failed to apply successful payment", map[string]interface{}{"error": err.Error()})
		return Result{}, fmt.Errorf("failed to apply grant: %w", err)
	}
	// The grant is committed; the gateway hanging up must not cost the user
	// the invite or the degraded message.
	ctx = context.WithoutCancel(ctx)

	log.Info("access granted from payment notification", map[string]interface{}{
		"expiresAt": sub.ExpiresAt,
		"token":     sub.TokenState().String(),
	})
	p.journal.Record(ctx, journal.Event{
		Type:          journal.EventWebhookApplied,
		UserID:        userID,
		TrackingID:    tx.TrackingID,
		TransactionID: tx.UID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
	p.sendReceipt(ctx, sub, tx)

	result := Result{Outcome: OutcomeApplied, UserID: userID, ExpiresAt: sub.ExpiresAt.Format(time.RFC3339)}
	text := p.settings.PaymentSuccessText(ctx)

	link, err := p.access.IssueSingleUseInvite(ctx, p.config.Channel, userID)
	if err != nil {
		log.Error("invite issuance failed after grant", map[string]interface{}{"error": err.Error()})
		p.notifier.AccessDegraded(ctx, userID, text)
		result.Outcome = OutcomeDegraded
		result.Reason = err.Error()
	} else {
		p.notifier.PaymentSucceeded(ctx, userID, text, link)
	}

	metrics.WebhookNotifications.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

func (p *Processor) ignore(ctx context.Context, tx Transaction, userID int64, reason string) Result {
	metrics.WebhookNotifications.WithLabelValues(string(OutcomeIgnored)).Inc()
	p.journal.Record(ctx, journal.Event{
		Type:          journal.EventWebhookIgnored,
		UserID:        userID,
		TrackingID:    tx.TrackingID,
		TransactionID: tx.UID,
		Reason:        reason,
	})
	return Result{Outcome: OutcomeIgnored, UserID: userID, Reason: reason}
}

func (p *Processor) sendReceipt(ctx context.Context, sub *models.Subscription, tx Transaction) {
	if tx.Amount <= 0 {
		return
	}
	amount := decimal.New(tx.Amount, -2).StringFixed(2)
	p.notifier.Receipt(ctx, sub.Email, amount, tx.Currency, tx.TrackingID)
}
