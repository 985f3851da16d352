// Package notify tells users and operators about billing outcomes.
// Delivery failures are logged and never change billing state.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"podpiska-billing/internal/common/logger"
)

// Messenger delivers a text to a user's private chat.
type Messenger interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// EmailSender sends a plain text email.
type EmailSender interface {
	SendText(ctx context.Context, to, subject, body string) (string, error)
}

// AlertPublisher publishes an operator alert.
type AlertPublisher interface {
	Publish(ctx context.Context, subject, message string) (string, error)
}

// Notifier is what the webhook and scheduler call.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, userID int64, text, inviteLink string)
	AccessDegraded(ctx context.Context, userID int64, text string)
	RenewalSucceeded(ctx context.Context, userID int64, expiresAt time.Time)
	RenewalFailed(ctx context.Context, userID int64, reason string)
	AccessExpired(ctx context.Context, userID int64)
	Receipt(ctx context.Context, email string, amount, currency, trackingID string)
	Alert(ctx context.Context, subject, message string)
}

type Config struct {
	ManagerLink string
}

// Service implements Notifier. Email and alerts are optional.
type Service struct {
	config    *Config
	messenger Messenger
	email     EmailSender
	alerts    AlertPublisher
	logger    logger.Logger
}

type Option func(*Service)

func WithEmail(sender EmailSender) Option {
	return func(s *Service) { s.email = sender }
}

func WithAlerts(publisher AlertPublisher) Option {
	return func(s *Service) { s.alerts = publisher }
}

func NewService(config *Config, messenger Messenger, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		config:    config,
		messenger: messenger,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) PaymentSucceeded(ctx context.Context, userID int64, text, inviteLink string) {
	msg := fmt.Sprintf("%s\n\n<a href=\"%s\">Вступить в канал</a>", text, inviteLink)
	s.send(ctx, userID, s.withSupport(msg))
}

func (s *Service) AccessDegraded(ctx context.Context, userID int64, text string) {
	msg := text + "\n\nОплата прошла, но ссылку на канал создать не удалось. Напишите менеджеру, и вам откроют доступ."
	s.send(ctx, userID, s.withSupport(msg))
}

func (s *Service) RenewalSucceeded(ctx context.Context, userID int64, expiresAt time.Time) {
	msg := fmt.Sprintf("✅ Подписка продлена до %s.", expiresAt.UTC().Format("02.01.2006 15:04 UTC"))
	s.send(ctx, userID, msg)
}

func (s *Service) RenewalFailed(ctx context.Context, userID int64, reason string) {
	msg := fmt.Sprintf("❌ Не удалось продлить подписку: %s\n\nДоступ к каналу закрыт. Оплатите подписку снова, чтобы вернуться.", reason)
	s.send(ctx, userID, s.withSupport(msg))
}

func (s *Service) AccessExpired(ctx context.Context, userID int64) {
	msg := "Срок подписки истёк, автопродление отключено. Доступ к каналу закрыт."
	s.send(ctx, userID, s.withSupport(msg))
}

// Receipt emails a payment confirmation when email delivery is configured.
func (s *Service) Receipt(ctx context.Context, email string, amount, currency, trackingID string) {
	if s.email == nil || email == "" {
		return
	}
	body := fmt.Sprintf("Payment received: %s %s\nReference: %s\n", amount, currency, trackingID)
	if _, err := s.email.SendText(ctx, email, "Subscription payment receipt", body); err != nil {
		s.logger.Warn("failed to send receipt", map[string]interface{}{
			"trackingId": trackingID,
			"error":      err.Error(),
		})
	}
}

// Alert publishes to operators when alerts are configured.
func (s *Service) Alert(ctx context.Context, subject, message string) {
	if s.alerts == nil {
		return
	}
	if _, err := s.alerts.Publish(ctx, subject, message); err != nil {
		s.logger.Warn("failed to publish alert", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}

func (s *Service) send(ctx context.Context, userID int64, text string) {
	if err := s.messenger.SendMessage(ctx, userID, text); err != nil {
		s.logger.Warn("failed to notify user", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (s *Service) withSupport(text string) string {
	link := strings.TrimSpace(s.config.ManagerLink)
	if link == "" {
		return text
	}
	return fmt.Sprintf("%s\n\nМенеджер: %s", text, link)
}
