package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/models"
)

// Schema creates the subscription and admin tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		user_id         BIGINT PRIMARY KEY,
		access_active   BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at      TIMESTAMPTZ,
		charge_token    TEXT,
		email           TEXT NOT NULL DEFAULT '',
		last_charged_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT active_requires_expiry CHECK (NOT access_active OR expires_at IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_active_expiry_idx
		ON subscriptions (expires_at) WHERE access_active`,
	`CREATE TABLE IF NOT EXISTS admins (
		user_id    BIGINT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

const subscriptionColumns = `user_id, access_active, expires_at, charge_token, email, last_charged_at, created_at, updated_at`

type Postgres struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgres(db *sql.DB, log logger.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "subscription-store"}),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub         models.Subscription
		expiresAt   sql.NullTime
		chargeToken sql.NullString
		lastCharged sql.NullTime
	)

	if err := row.Scan(
		&sub.UserID,
		&sub.AccessActive,
		&expiresAt,
		&chargeToken,
		&sub.Email,
		&lastCharged,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		sub.ExpiresAt = models.Time(expiresAt.Time.UTC())
	}
	if chargeToken.Valid {
		tok := chargeToken.String
		sub.ChargeToken = &tok
	}
	if lastCharged.Valid {
		sub.LastChargedAt = models.Time(lastCharged.Time.UTC())
	}
	return &sub, nil
}

func (p *Postgres) Get(ctx context.Context, userID int64) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	sub, err := scanSubscription(p.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("get", err)
	}
	return sub, nil
}

func (p *Postgres) Ensure(ctx context.Context, userID int64, email string) (*models.Subscription, error) {
	query := `INSERT INTO subscriptions (user_id, email) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE subscriptions.email END
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(p.db.QueryRowContext(ctx, query, userID, email))
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("ensure", err)
	}
	return sub, nil
}

// Update builds one conditional UPDATE from the patch. The precondition
// becomes part of the WHERE clause, so the check and the write are atomic.
func (p *Postgres) Update(ctx context.Context, userID int64, patch models.SubscriptionPatch) (*models.Subscription, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	patch = normalizePatch(patch)

	if patch.IsEmpty() {
		sub, err := p.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !patch.Expect.Matches(sub) {
			return nil, conflict(userID)
		}
		return sub, nil
	}

	args := []interface{}{userID}
	sets := []string{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.AccessActive != nil {
		sets = append(sets, "access_active = "+arg(*patch.AccessActive))
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = "+arg(*patch.ExpiresAt))
	}
	switch patch.ChargeToken.Action {
	case models.TokenClear:
		sets = append(sets, "charge_token = ''")
	case models.TokenSet:
		sets = append(sets, "charge_token = "+arg(patch.ChargeToken.Value))
	}
	if patch.LastChargedAt != nil {
		sets = append(sets, "last_charged_at = "+arg(*patch.LastChargedAt))
	}
	sets = append(sets, "updated_at = NOW()")

	where := "user_id = $1"
	if patch.Expect != nil {
		var expected interface{}
		if patch.Expect.ExpiresAt != nil {
			expected = *patch.Expect.ExpiresAt
		}
		where += " AND expires_at IS NOT DISTINCT FROM " + arg(expected) + "::timestamptz"
		if patch.Expect.AccessActive != nil {
			where += " AND access_active = " + arg(*patch.Expect.AccessActive)
		}
	}

	query := `UPDATE subscriptions SET ` + strings.Join(sets, ", ") +
		` WHERE ` + where + ` RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(p.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewStoreUnavailableError("update", err)
	}

	if _, getErr := p.Get(ctx, userID); getErr != nil {
		return nil, getErr
	}
	p.logger.Warn("conditional update lost a race", map[string]interface{}{
		"userId": userID,
	})
	return nil, conflict(userID)
}

func (p *Postgres) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	return p.list(ctx, "list_active",
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE access_active ORDER BY user_id`)
}

func (p *Postgres) ListDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	return p.list(ctx, "list_due",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE access_active AND expires_at <= $1
		AND charge_token IS NOT NULL AND charge_token <> ''
		ORDER BY expires_at, user_id`, normalize(now))
}

func (p *Postgres) ListExpiredWithoutToken(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	return p.list(ctx, "list_expired_without_token",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE access_active AND expires_at <= $1
		AND (charge_token IS NULL OR charge_token = '')
		ORDER BY expires_at, user_id`, normalize(now))
}

func (p *Postgres) ListRecent(ctx context.Context, limit int) ([]*models.Subscription, error) {
	return p.list(ctx, "list_recent",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		ORDER BY expires_at DESC NULLS LAST, user_id
		LIMIT $1`, limit)
}

func (p *Postgres) list(ctx context.Context, op, query string, args ...interface{}) ([]*models.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(op, err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.NewStoreUnavailableError(op, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError(op, err)
	}
	return subs, nil
}

func (p *Postgres) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admins WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, apperrors.NewStoreUnavailableError("is_admin", err)
	}
	return exists, nil
}

func (p *Postgres) ListAdmins(ctx context.Context) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id FROM admins ORDER BY user_id`)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("list_admins", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewStoreUnavailableError("list_admins", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
