// Package bepaid is a stateless client for the bePaid hosted checkout and
// direct token charge APIs.
package bepaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "podpiska-billing/internal/common/errors"
	httpclient "podpiska-billing/internal/common/http"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/metrics"
	"podpiska-billing/internal/models"

	"github.com/shopspring/decimal"
)

const (
	checkoutVersion   = 2.1
	statusSuccessful  = "successful"
	unknownChargeText = "Unknown error"

	opCheckout = "checkout"
	opCharge   = "charge"
)

// ErrNoPaymentLink means no checkout URL is available right now. Callers
// must offer the user no link rather than a partial one.
var ErrNoPaymentLink = errors.New("NO_PAYMENT_LINK")

type Config struct {
	ShopID      string
	SecretKey   string
	TestMode    bool
	CheckoutURL string
	ChargeURL   string
	Language    string
	Timeout     time.Duration
}

// CheckoutRequest describes a first-time payment that must save the card.
type CheckoutRequest struct {
	Amount          decimal.Decimal
	Currency        string
	Description     string
	TrackingID      string
	Email           string
	NotificationURL string
	ReturnURL       string
}

// ChargeRequest describes a direct charge of a stored token.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	TrackingID  string
	Token       string
	Email       string
}

// Client holds only immutable configuration. Each call opens and releases
// its own connection, so calls may run concurrently.
type Client struct {
	config *Config
	http   *httpclient.Client
	logger logger.Logger
}

func NewClient(config *Config, log logger.Logger) *Client {
	return &Client{
		config: config,
		http:   httpclient.NewClient(config.Timeout, httpclient.WithoutKeepAlive()),
		logger: log.WithFields(map[string]interface{}{"component": "bepaid"}),
	}
}

// CreateCheckoutSession creates a hosted payment page and returns its
// redirect URL. The amount is truncated to minor units. Every failure wraps
// ErrNoPaymentLink.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	start := time.Now()
	returnURL := req.ReturnURL

	payload := checkoutEnvelope{
		Checkout: checkoutRequest{
			Version:         checkoutVersion,
			Test:            c.config.TestMode,
			TransactionType: "payment",
			Order: order{
				Amount:      models.ToMinorUnits(req.Amount),
				Currency:    req.Currency,
				Description: req.Description,
				TrackingID:  req.TrackingID,
			},
			Customer: customer{Email: req.Email},
			Settings: checkoutSetting{
				SuccessURL:      returnURL,
				DeclineURL:      returnURL,
				FailURL:         returnURL,
				NotificationURL: req.NotificationURL,
				Language:        c.language(),
				CustomerFields: customerFields{
					Visible:  []string{"email"},
					ReadOnly: []string{},
				},
			},
			PaymentMethod: paymentMethod{
				Types:      []string{"credit_card"},
				CreditCard: creditCardMethod{SaveCard: true},
			},
		},
	}

	resp, err := c.http.PostJSON(ctx, c.config.CheckoutURL, payload, c.auth())
	if err != nil {
		c.observe(opCheckout, "transport_error", start)
		c.logger.Error("checkout request failed", map[string]interface{}{
			"trackingId": req.TrackingID,
			"error":      err.Error(),
		})
		return "", fmt.Errorf("%w: %w", ErrNoPaymentLink, apperrors.NewGatewayTransportError(opCheckout, err))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.observe(opCheckout, "rejected", start)
		c.logger.Error("checkout rejected", map[string]interface{}{
			"trackingId": req.TrackingID,
			"status":     resp.StatusCode,
			"body":       string(resp.Body),
		})
		return "", fmt.Errorf("%w: %w", ErrNoPaymentLink, apperrors.NewGatewayTransportError(opCheckout,
			fmt.Errorf("failed to create checkout (status %d): %s", resp.StatusCode, string(resp.Body))))
	}

	var parsed checkoutResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		c.observe(opCheckout, "invalid_response", start)
		return "", fmt.Errorf("%w: %w", ErrNoPaymentLink, apperrors.NewGatewayTransportError(opCheckout,
			fmt.Errorf("failed to decode checkout response: %w", err)))
	}

	if parsed.Checkout.RedirectURL == "" {
		c.observe(opCheckout, "invalid_response", start)
		return "", fmt.Errorf("%w: %w", ErrNoPaymentLink,
			apperrors.NewGatewayRejectedError(opCheckout, "response carries no redirect_url"))
	}

	c.observe(opCheckout, "success", start)
	c.logger.Info("checkout session created", map[string]interface{}{
		"trackingId": req.TrackingID,
		"amount":     payload.Checkout.Order.Amount,
		"currency":   req.Currency,
	})
	return parsed.Checkout.RedirectURL, nil
}

// ChargeToken performs a single charge of a stored card token. Transport
// failures and gateway refusals both come back as Success=false with a
// human readable Reason; there is no internal retry.
func (c *Client) ChargeToken(ctx context.Context, req ChargeRequest) models.ChargeResult {
	start := time.Now()

	payload := chargeEnvelope{
		Request: chargeRequest{
			Amount:      models.ToMinorUnits(req.Amount),
			Currency:    req.Currency,
			Description: req.Description,
			TrackingID:  req.TrackingID,
			Test:        c.config.TestMode,
			CreditCard:  cardToken{Token: req.Token},
			Customer:    customer{Email: req.Email},
		},
	}

	resp, err := c.http.PostJSON(ctx, c.config.ChargeURL, payload, c.auth())
	if err != nil {
		c.observe(opCharge, "transport_error", start)
		c.logger.Error("recurring charge request failed", map[string]interface{}{
			"trackingId": req.TrackingID,
			"error":      err.Error(),
		})
		return models.ChargeResult{Success: false, Reason: err.Error()}
	}

	var parsed chargeResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		c.observe(opCharge, "invalid_response", start)
		return models.ChargeResult{
			Success: false,
			Reason:  fmt.Sprintf("invalid gateway response (status %d)", resp.StatusCode),
		}
	}

	tx := parsed.Transaction
	result := models.ChargeResult{
		TransactionID: tx.UID,
		Status:        tx.Status,
	}

	if (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated) && tx.Status == statusSuccessful {
		result.Success = true
		c.observe(opCharge, "success", start)
		c.logger.Info("recurring charge succeeded", map[string]interface{}{
			"trackingId":    req.TrackingID,
			"transactionId": tx.UID,
			"amount":        payload.Request.Amount,
		})
		return result
	}

	result.Reason = tx.Message
	if result.Reason == "" {
		result.Reason = parsed.Message
	}
	if result.Reason == "" {
		result.Reason = unknownChargeText
	}

	c.observe(opCharge, "declined", start)
	c.logger.Warn("recurring charge declined", map[string]interface{}{
		"trackingId": req.TrackingID,
		"status":     resp.StatusCode,
		"txStatus":   tx.Status,
		"reason":     result.Reason,
	})
	return result
}

func (c *Client) auth() httpclient.RequestOption {
	return httpclient.WithBasicAuth(c.config.ShopID, c.config.SecretKey)
}

func (c *Client) language() string {
	if c.config.Language == "" {
		return "ru"
	}
	return c.config.Language
}

func (c *Client) observe(operation, outcome string, start time.Time) {
	metrics.GatewayRequests.WithLabelValues(operation, outcome).Inc()
	metrics.GatewayRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
