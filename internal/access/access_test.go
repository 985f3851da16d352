package access

import (
	"context"
	"errors"
	"testing"

	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Chat API
// ==========================

type MockChatAPI struct {
	mock.Mock
}

func (m *MockChatAPI) CreateInviteLink(ctx context.Context, chatID, name string) (string, error) {
	args := m.Called(ctx, chatID, name)
	return args.String(0), args.Error(1)
}

func (m *MockChatAPI) BanMember(ctx context.Context, chatID string, userID int64) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *MockChatAPI) UnbanMember(ctx context.Context, chatID string, userID int64) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

// ==========================
// Synchronizer
// ==========================

func TestIssueSingleUseInvite(t *testing.T) {
	api := new(MockChatAPI)
	api.On("CreateInviteLink", mock.Anything, "-100", "Sub_42").Return("https://t.me/+x", nil)

	link, err := NewTelegramSynchronizer(api, logger.NewTestLogger(t)).
		IssueSingleUseInvite(context.Background(), "-100", 42)

	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+x", link)
	api.AssertExpectations(t)
}

func TestIssueSingleUseInvite_Failure(t *testing.T) {
	api := new(MockChatAPI)
	api.On("CreateInviteLink", mock.Anything, "-100", "Sub_42").Return("", errors.New("not enough rights"))

	_, err := NewTelegramSynchronizer(api, logger.NewTestLogger(t)).
		IssueSingleUseInvite(context.Background(), "-100", 42)

	assert.Equal(t, apperrors.ErrCodeAccessSyncFailed, apperrors.CodeOf(err))
}

func TestRevokeMembership_BansThenUnbans(t *testing.T) {
	api := new(MockChatAPI)
	ban := api.On("BanMember", mock.Anything, "-100", int64(42)).Return(nil)
	api.On("UnbanMember", mock.Anything, "-100", int64(42)).Return(nil).NotBefore(ban)

	err := NewTelegramSynchronizer(api, logger.NewTestLogger(t)).RevokeMembership(context.Background(), "-100", 42)
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestRevokeMembership_BanFailureSkipsUnban(t *testing.T) {
	api := new(MockChatAPI)
	api.On("BanMember", mock.Anything, "-100", int64(42)).Return(errors.New("user not found"))

	err := NewTelegramSynchronizer(api, logger.NewTestLogger(t)).RevokeMembership(context.Background(), "-100", 42)
	assert.Equal(t, apperrors.ErrCodeAccessSyncFailed, apperrors.CodeOf(err))
	api.AssertNotCalled(t, "UnbanMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestRevokeMembership_UnbanFailure(t *testing.T) {
	api := new(MockChatAPI)
	api.On("BanMember", mock.Anything, "-100", int64(42)).Return(nil)
	api.On("UnbanMember", mock.Anything, "-100", int64(42)).Return(errors.New("timeout"))

	err := NewTelegramSynchronizer(api, logger.NewTestLogger(t)).RevokeMembership(context.Background(), "-100", 42)
	assert.Error(t, err)
}

// ==========================
// Admin directory
// ==========================

func TestAdminDirectory(t *testing.T) {
	mem := store.NewMemory()
	mem.AddAdmin(7)
	dir := NewAdminDirectory([]int64{1, 2}, mem)

	for _, tt := range []struct {
		id   int64
		want bool
	}{{1, true}, {2, true}, {7, true}, {42, false}} {
		got, err := dir.IsAdmin(context.Background(), tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "user %d", tt.id)
	}
}

func TestAdminDirectory_ConfigOnly(t *testing.T) {
	dir := NewAdminDirectory([]int64{1}, nil)
	ok, err := dir.IsAdmin(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
