// Package access grants and revokes channel membership and knows who the
// administrators are.
package access

import (
	"context"
	"fmt"

	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/metrics"
	"podpiska-billing/internal/store"
)

// Synchronizer is the channel membership capability used by billing.
type Synchronizer interface {
	IssueSingleUseInvite(ctx context.Context, channel string, userID int64) (string, error)
	RevokeMembership(ctx context.Context, channel string, userID int64) error
}

// ChatAPI is the subset of the Bot API the synchronizer needs.
type ChatAPI interface {
	CreateInviteLink(ctx context.Context, chatID, name string) (string, error)
	BanMember(ctx context.Context, chatID string, userID int64) error
	UnbanMember(ctx context.Context, chatID string, userID int64) error
}

// TelegramSynchronizer implements Synchronizer on a Telegram channel.
type TelegramSynchronizer struct {
	api    ChatAPI
	logger logger.Logger
}

func NewTelegramSynchronizer(api ChatAPI, log logger.Logger) *TelegramSynchronizer {
	return &TelegramSynchronizer{
		api:    api,
		logger: log.WithFields(map[string]interface{}{"component": "access"}),
	}
}

// IssueSingleUseInvite returns an invite link valid for one join.
func (s *TelegramSynchronizer) IssueSingleUseInvite(ctx context.Context, channel string, userID int64) (string, error) {
	link, err := s.api.CreateInviteLink(ctx, channel, fmt.Sprintf("Sub_%d", userID))
	if err != nil {
		metrics.AccessSyncFailures.WithLabelValues("invite").Inc()
		return "", apperrors.NewAccessSyncError("invite", err).WithMetadata("userId", userID)
	}
	return link, nil
}

// RevokeMembership removes the user and immediately lifts the ban, so a
// later successful payment can let them rejoin.
func (s *TelegramSynchronizer) RevokeMembership(ctx context.Context, channel string, userID int64) error {
	if err := s.api.BanMember(ctx, channel, userID); err != nil {
		metrics.AccessSyncFailures.WithLabelValues("ban").Inc()
		return apperrors.NewAccessSyncError("ban", err).WithMetadata("userId", userID)
	}
	if err := s.api.UnbanMember(ctx, channel, userID); err != nil {
		metrics.AccessSyncFailures.WithLabelValues("unban").Inc()
		s.logger.Warn("user removed but unban failed; they cannot rejoin until unbanned", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return apperrors.NewAccessSyncError("unban", err).WithMetadata("userId", userID)
	}
	return nil
}

// AdminDirectory answers whether a user is an administrator. Configured ids
// always count; the store adds operator-managed ones.
type AdminDirectory struct {
	configured map[int64]bool
	store      store.AdminStore
}

func NewAdminDirectory(configured []int64, admins store.AdminStore) *AdminDirectory {
	ids := make(map[int64]bool, len(configured))
	for _, id := range configured {
		ids[id] = true
	}
	return &AdminDirectory{configured: ids, store: admins}
}

func (d *AdminDirectory) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if d.configured[userID] {
		return true, nil
	}
	if d.store == nil {
		return false, nil
	}
	return d.store.IsAdmin(ctx, userID)
}
