package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"podpiska-billing/internal/common/bepaid"
	"podpiska-billing/internal/common/clock"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/models"
	"podpiska-billing/internal/settings"
	"podpiska-billing/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct{ mock.Mock }

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req bepaid.CheckoutRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func createTestService(t *testing.T, gw Gateway, st store.Store) *Service {
	return NewService(ServiceDependencies{
		Gateway: gw,
		Store:   st,
		Settings: &settings.Static{Values: models.Pricing{
			Price:      decimal.RequireFromString("10.00"),
			Currency:   "BYN",
			PeriodDays: 30,
		}},
		Clock:  clock.NewFake(time.Unix(1700000000, 0)),
		Logger: logger.NewTestLogger(t),
	}, &Config{
		Description:     "Channel subscription",
		NotificationURL: "https://bot.example/webhook",
		ReturnURL:       "https://t.me/example_bot",
	})
}

func TestStart_ReturnsRedirectUnchanged(t *testing.T) {
	gw := new(MockGateway)
	gw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req bepaid.CheckoutRequest) bool {
		return req.TrackingID == "42:1700000000" &&
			req.Amount.Equal(decimal.RequireFromString("10")) &&
			req.Currency == "BYN" &&
			req.Email == "a@b.c" &&
			req.NotificationURL == "https://bot.example/webhook"
	})).Return("https://checkout.bepaid.by/v2/checkout?token=abc", nil)

	st := store.NewMemory()
	session, err := createTestService(t, gw, st).Start(context.Background(), 42, "a@b.c")

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.bepaid.by/v2/checkout?token=abc", session.RedirectURL)
	assert.Equal(t, "42:1700000000", session.TrackingID)

	sub, err := st.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", sub.Email)
	assert.False(t, sub.AccessActive)
	gw.AssertExpectations(t)
}

func TestStart_GatewayFailureIsNoLink(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrapped sentinel", fmt.Errorf("%w: timeout", bepaid.ErrNoPaymentLink)},
		{"other error", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return("", tt.err)

			session, err := createTestService(t, gw, store.NewMemory()).Start(context.Background(), 42, "a@b.c")
			assert.Nil(t, session)
			assert.ErrorIs(t, err, ErrNoPaymentLink)
		})
	}
}
