// Package settings reads operator-editable billing settings. Values are read
// on every call; nothing is cached.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/models"

	"github.com/shopspring/decimal"
)

const (
	KeyPrice              = "price"
	KeyPeriodDays         = "period_days"
	KeyPaymentSuccessText = "payment_success_text"
)

const defaultPaymentSuccessText = "✅ Оплата прошла успешно!\n\nНажмите кнопку ниже, чтобы вступить в канал."

// Schema creates the settings table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Provider is the configuration capability consumed by billing.
type Provider interface {
	// Pricing returns the current price and period. On error the returned
	// value holds the configured defaults, so callers may degrade to it.
	Pricing(ctx context.Context) (models.Pricing, error)
	PaymentSuccessText(ctx context.Context) string
}

// Static serves fixed values. It backs tests and deployments without a
// settings table.
type Static struct {
	Values      models.Pricing
	SuccessText string
}

func (s *Static) Pricing(ctx context.Context) (models.Pricing, error) {
	return s.Values, nil
}

func (s *Static) PaymentSuccessText(ctx context.Context) string {
	if s.SuccessText == "" {
		return defaultPaymentSuccessText
	}
	return s.SuccessText
}

// Postgres reads the settings table and falls back to Defaults per key.
type Postgres struct {
	db       *sql.DB
	defaults models.Pricing
	logger   logger.Logger
}

func NewPostgres(db *sql.DB, defaults models.Pricing, log logger.Logger) *Postgres {
	return &Postgres{
		db:       db,
		defaults: defaults,
		logger:   log.WithFields(map[string]interface{}{"component": "settings"}),
	}
}

func (p *Postgres) Pricing(ctx context.Context) (models.Pricing, error) {
	pricing := p.defaults

	values, err := p.load(ctx, KeyPrice, KeyPeriodDays)
	if err != nil {
		return p.defaults, err
	}

	if raw, ok := values[KeyPrice]; ok {
		price, err := decimal.NewFromString(raw)
		if err != nil || !price.IsPositive() {
			p.logger.Warn("ignoring invalid price setting", map[string]interface{}{"value": raw})
		} else {
			pricing.Price = price
		}
	}

	if raw, ok := values[KeyPeriodDays]; ok {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			p.logger.Warn("ignoring invalid period_days setting", map[string]interface{}{"value": raw})
		} else {
			pricing.PeriodDays = days
		}
	}

	return pricing, nil
}

func (p *Postgres) PaymentSuccessText(ctx context.Context) string {
	values, err := p.load(ctx, KeyPaymentSuccessText)
	if err != nil {
		p.logger.Warn("failed to read payment text, using default", map[string]interface{}{"error": err.Error()})
		return defaultPaymentSuccessText
	}
	if text := values[KeyPaymentSuccessText]; text != "" {
		return text
	}
	return defaultPaymentSuccessText
}

// Set validates and stores one setting.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return apperrors.NewStoreUnavailableError("settings_set", err)
	}

	p.logger.Info("setting updated", map[string]interface{}{"key": key})
	return nil
}

// ErrUnknownKey is returned by Set for keys billing does not read.
var ErrUnknownKey = errors.New("unknown setting")

func validate(key, value string) error {
	switch key {
	case KeyPrice:
		price, err := decimal.NewFromString(value)
		if err != nil {
			return apperrors.NewConfigInvalidError("price is not a decimal: " + err.Error())
		}
		if !price.IsPositive() {
			return apperrors.NewConfigInvalidError("price must be positive")
		}
	case KeyPeriodDays:
		days, err := strconv.Atoi(value)
		if err != nil || days < 1 {
			return apperrors.NewConfigInvalidError("period_days must be a positive integer")
		}
	case KeyPaymentSuccessText:
		if value == "" {
			return apperrors.NewConfigInvalidError("payment_success_text must not be empty")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

func (p *Postgres) load(ctx context.Context, keys ...string) (map[string]string, error) {
	placeholders := ""
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = k
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("settings_get", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperrors.NewStoreUnavailableError("settings_get", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}
