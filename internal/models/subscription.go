// internal/models/subscription.go
package models

import (
	"errors"
	"time"
)

// ErrActiveWithoutExpiry rejects a patch that would turn access on without
// setting the paid period in the same write.
var ErrActiveWithoutExpiry = errors.New("access cannot be activated without an expiry")

// TokenState distinguishes the three audit states of a stored charge token.
type TokenState int

const (
	// TokenUnset means no gateway response ever reported a reusable token.
	TokenUnset TokenState = iota
	// TokenCleared means the user opted out; the token was explicitly emptied.
	TokenCleared
	// TokenPresent means a reusable token is stored.
	TokenPresent
)

func (s TokenState) String() string {
	switch s {
	case TokenCleared:
		return "cleared"
	case TokenPresent:
		return "present"
	}
	return "unset"
}

// Subscription is the durable per-user billing record.
type Subscription struct {
	UserID        int64      `json:"userId"`
	AccessActive  bool       `json:"accessActive"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ChargeToken   *string    `json:"-"`
	Email         string     `json:"email"`
	LastChargedAt *time.Time `json:"lastChargedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TokenState reports whether the charge token is unset, cleared or present.
func (s *Subscription) TokenState() TokenState {
	switch {
	case s.ChargeToken == nil:
		return TokenUnset
	case *s.ChargeToken == "":
		return TokenCleared
	}
	return TokenPresent
}

// CanRebill reports whether a recurring charge may be attempted.
func (s *Subscription) CanRebill() bool {
	return s.TokenState() == TokenPresent
}

// Token returns the stored token or "".
func (s *Subscription) Token() string {
	if s.ChargeToken == nil {
		return ""
	}
	return *s.ChargeToken
}

// IsExpired reports whether the paid period ended at or before now.
// A subscription that was never paid is not expired.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// IsDue reports whether the subscription should be re-charged at now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.AccessActive && s.IsExpired(now) && s.CanRebill()
}

// IsLapsed reports whether the subscription expired with no way to re-bill.
func (s *Subscription) IsLapsed(now time.Time) bool {
	return s.AccessActive && s.IsExpired(now) && !s.CanRebill()
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	if s.ChargeToken != nil {
		tok := *s.ChargeToken
		c.ChargeToken = &tok
	}
	if s.LastChargedAt != nil {
		t := *s.LastChargedAt
		c.LastChargedAt = &t
	}
	return &c
}

// TokenAction selects how an update treats the charge token.
type TokenAction int

const (
	TokenKeep TokenAction = iota
	TokenClear
	TokenSet
)

// TokenPatch is the tri-state token field of a SubscriptionPatch.
type TokenPatch struct {
	Action TokenAction
	Value  string
}

// KeepToken leaves the stored token unchanged.
func KeepToken() TokenPatch { return TokenPatch{Action: TokenKeep} }

// ClearToken stores the explicit empty marker.
func ClearToken() TokenPatch { return TokenPatch{Action: TokenClear} }

// SetToken stores v. An empty v keeps the current token, because an empty
// value from the gateway means "no token reported", not an opt-out.
func SetToken(v string) TokenPatch {
	if v == "" {
		return KeepToken()
	}
	return TokenPatch{Action: TokenSet, Value: v}
}

// Precondition guards an update with previously observed state.
// A nil ExpiresAt expects the stored expiry to be absent. A nil
// AccessActive leaves the flag unchecked.
type Precondition struct {
	ExpiresAt    *time.Time
	AccessActive *bool
}

// ExpectExpiresAt builds a Precondition from an observed value.
func ExpectExpiresAt(t *time.Time) *Precondition {
	if t == nil {
		return &Precondition{}
	}
	v := *t
	return &Precondition{ExpiresAt: &v}
}

// ExpectObserved expects both the expiry and the access flag of sub to be
// unchanged. Grants move the expiry and revocations flip the flag, so either
// concurrent writer fails the check.
func ExpectObserved(sub *Subscription) *Precondition {
	c := ExpectExpiresAt(sub.ExpiresAt)
	active := sub.AccessActive
	c.AccessActive = &active
	return c
}

// SubscriptionPatch is a typed partial update. Nil fields are left
// unchanged. All set fields are applied in one atomic write.
type SubscriptionPatch struct {
	AccessActive  *bool
	ExpiresAt     *time.Time
	ChargeToken   TokenPatch
	LastChargedAt *time.Time
	Expect        *Precondition
}

// IsEmpty reports whether the patch changes nothing.
func (p SubscriptionPatch) IsEmpty() bool {
	return p.AccessActive == nil && p.ExpiresAt == nil &&
		p.ChargeToken.Action == TokenKeep && p.LastChargedAt == nil
}

// Validate checks the patch on its own, before any stored state is read.
func (p SubscriptionPatch) Validate() error {
	if p.AccessActive != nil && *p.AccessActive && p.ExpiresAt == nil {
		return ErrActiveWithoutExpiry
	}
	return nil
}

// Apply mutates s according to the patch. Preconditions are not checked.
func (p SubscriptionPatch) Apply(s *Subscription) {
	if p.AccessActive != nil {
		s.AccessActive = *p.AccessActive
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		s.ExpiresAt = &t
	}
	switch p.ChargeToken.Action {
	case TokenClear:
		empty := ""
		s.ChargeToken = &empty
	case TokenSet:
		v := p.ChargeToken.Value
		s.ChargeToken = &v
	}
	if p.LastChargedAt != nil {
		t := *p.LastChargedAt
		s.LastChargedAt = &t
	}
}

// Matches reports whether s satisfies the precondition.
func (c *Precondition) Matches(s *Subscription) bool {
	if c == nil {
		return true
	}
	if c.AccessActive != nil && *c.AccessActive != s.AccessActive {
		return false
	}
	if c.ExpiresAt == nil || s.ExpiresAt == nil {
		return c.ExpiresAt == nil && s.ExpiresAt == nil
	}
	return c.ExpiresAt.Equal(*s.ExpiresAt)
}

// Grant returns the patch that opens a new paid period ending at expiresAt.
func Grant(expiresAt time.Time, token TokenPatch) SubscriptionPatch {
	active := true
	return SubscriptionPatch{
		AccessActive: &active,
		ExpiresAt:    &expiresAt,
		ChargeToken:  token,
	}
}

// Revoke returns the patch that turns access off.
func Revoke() SubscriptionPatch {
	inactive := false
	return SubscriptionPatch{AccessActive: &inactive}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
