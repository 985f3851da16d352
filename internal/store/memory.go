package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"podpiska-billing/internal/models"
)

// Memory is a process-local Store used by tests and single-node demos.
// Callers always receive copies.
type Memory struct {
	mu     sync.Mutex
	subs   map[int64]*models.Subscription
	admins map[int64]bool
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[int64]*models.Subscription),
		admins: make(map[int64]bool),
		now:    time.Now,
	}
}

// Put stores sub as is, replacing any existing record.
func (m *Memory) Put(sub *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.UserID] = sub.Clone()
}

// AddAdmin marks userID as an administrator.
func (m *Memory) AddAdmin(userID int64) {
	m.mu.Lock()
	m.admins[userID] = true
	m.mu.Unlock()
}

func (m *Memory) Get(ctx context.Context, userID int64) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *Memory) Ensure(ctx context.Context, userID int64, email string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[userID]
	if !ok {
		now := normalize(m.now())
		sub = &models.Subscription{UserID: userID, CreatedAt: now, UpdatedAt: now}
		m.subs[userID] = sub
	}
	if email != "" {
		sub.Email = email
	}
	return sub.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, userID int64, patch models.SubscriptionPatch) (*models.Subscription, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	patch = normalizePatch(patch)

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if !patch.Expect.Matches(sub) {
		return nil, conflict(userID)
	}
	if !patch.IsEmpty() {
		patch.Apply(sub)
		sub.UpdatedAt = normalize(m.now())
	}
	return sub.Clone(), nil
}

func (m *Memory) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	return m.filter(func(s *models.Subscription) bool { return s.AccessActive }, byUserID), nil
}

func (m *Memory) ListDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	return m.filter(func(s *models.Subscription) bool { return s.IsDue(now) }, byExpiry), nil
}

func (m *Memory) ListExpiredWithoutToken(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	return m.filter(func(s *models.Subscription) bool { return s.IsLapsed(now) }, byExpiry), nil
}

func (m *Memory) ListRecent(ctx context.Context, limit int) ([]*models.Subscription, error) {
	subs := m.filter(func(*models.Subscription) bool { return true }, func(a, b *models.Subscription) bool {
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.UserID < b.UserID
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.UserID < b.UserID
		}
		return a.ExpiresAt.After(*b.ExpiresAt)
	})
	if limit >= 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (m *Memory) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admins[userID], nil
}

func (m *Memory) ListAdmins(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.admins))
	for id := range m.admins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) filter(keep func(*models.Subscription) bool, less func(a, b *models.Subscription) bool) []*models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Subscription
	for _, sub := range m.subs {
		if keep(sub) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byUserID(a, b *models.Subscription) bool { return a.UserID < b.UserID }

func byExpiry(a, b *models.Subscription) bool {
	if a.ExpiresAt.Equal(*b.ExpiresAt) {
		return a.UserID < b.UserID
	}
	return a.ExpiresAt.Before(*b.ExpiresAt)
}
