// Package store holds the durable per-user subscription records.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/models"
)

var (
	// ErrNotFound is returned when no subscription exists for the user.
	ErrNotFound = errors.New("subscription not found")
	// ErrConflict is returned when an update's precondition no longer holds.
	ErrConflict = errors.New("subscription changed concurrently")
)

// Store is the single source of truth for subscription state. Every write
// for one user is a single atomic statement; callers never hold a lock
// across network calls.
type Store interface {
	Get(ctx context.Context, userID int64) (*models.Subscription, error)
	// Ensure creates the empty record on first interaction. A non-empty
	// email replaces the stored one.
	Ensure(ctx context.Context, userID int64, email string) (*models.Subscription, error)
	// Update applies patch atomically and returns the stored result. When
	// patch.Expect is set and no longer matches, it returns ErrConflict and
	// changes nothing.
	Update(ctx context.Context, userID int64, patch models.SubscriptionPatch) (*models.Subscription, error)

	ListActive(ctx context.Context) ([]*models.Subscription, error)
	// ListDue returns active subscriptions expired at now that hold a
	// non-empty charge token.
	ListDue(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	// ListExpiredWithoutToken returns active subscriptions expired at now
	// whose token is unset or cleared.
	ListExpiredWithoutToken(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	// ListRecent returns up to limit records, latest expiry first.
	ListRecent(ctx context.Context, limit int) ([]*models.Subscription, error)
}

// AdminStore lists operator-managed administrator ids.
type AdminStore interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	ListAdmins(ctx context.Context) ([]int64, error)
}

// normalize stores times in UTC at the database's microsecond precision, so
// a value read back compares equal to the one written.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizePatch(p models.SubscriptionPatch) models.SubscriptionPatch {
	if p.ExpiresAt != nil {
		p.ExpiresAt = models.Time(normalize(*p.ExpiresAt))
	}
	if p.LastChargedAt != nil {
		p.LastChargedAt = models.Time(normalize(*p.LastChargedAt))
	}
	if p.Expect != nil {
		expect := *p.Expect
		if expect.ExpiresAt != nil {
			expect.ExpiresAt = models.Time(normalize(*expect.ExpiresAt))
		}
		p.Expect = &expect
	}
	return p
}

// conflict carries both the sentinel and the coded error for metrics.
func conflict(userID int64) error {
	return fmt.Errorf("%w: %w", ErrConflict, apperrors.NewStoreConflictError(userID))
}
