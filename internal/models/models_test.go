package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Tracking id
// ==========================

func TestTrackingID_RoundTrip(t *testing.T) {
	id := NewTrackingID(42, time.Unix(1700000000, 999))
	assert.Equal(t, "42:1700000000", id.String())

	parsed, err := ParseTrackingID("42:1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(42), parsed.UserID)
	assert.Equal(t, int64(1700000000), parsed.At.Unix())
}

func TestParseTrackingID_Malformed(t *testing.T) {
	for _, raw := range []string{"", "42", "42:", ":1700000000", "abc:1700000000", "42:abc", "-1:1700000000", "0:1", "42:-5"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseTrackingID(raw)
			assert.True(t, errors.Is(err, ErrMalformedTrackingID))
		})
	}
}

// ==========================
// Money
// ==========================

func TestToMinorUnits_Truncates(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10.00", 1000},
		{"19.999", 1999},
		{"0.29", 29},
		{"4.355", 435},
		{"7", 700},
		{"0.009", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestPricing_Period(t *testing.T) {
	p := Pricing{Price: decimal.RequireFromString("10.00"), Currency: "BYN", PeriodDays: 30}
	assert.Equal(t, 30*24*time.Hour, p.Period())
	assert.Equal(t, int64(1000), p.MinorAmount())
}

// ==========================
// Subscription state
// ==========================

func TestSubscription_TokenState(t *testing.T) {
	empty := ""
	tok := "tok_abc"

	assert.Equal(t, TokenUnset, (&Subscription{}).TokenState())
	assert.Equal(t, TokenCleared, (&Subscription{ChargeToken: &empty}).TokenState())
	assert.Equal(t, TokenPresent, (&Subscription{ChargeToken: &tok}).TokenState())

	assert.False(t, (&Subscription{}).CanRebill())
	assert.False(t, (&Subscription{ChargeToken: &empty}).CanRebill())
	assert.True(t, (&Subscription{ChargeToken: &tok}).CanRebill())
}

func TestSubscription_DueAndLapsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	tok := "tok_abc"
	empty := ""

	tests := []struct {
		name   string
		sub    Subscription
		due    bool
		lapsed bool
	}{
		{"active expired with token", Subscription{AccessActive: true, ExpiresAt: &past, ChargeToken: &tok}, true, false},
		{"expires exactly now", Subscription{AccessActive: true, ExpiresAt: &now, ChargeToken: &tok}, true, false},
		{"active not expired", Subscription{AccessActive: true, ExpiresAt: &future, ChargeToken: &tok}, false, false},
		{"inactive expired", Subscription{AccessActive: false, ExpiresAt: &past, ChargeToken: &tok}, false, false},
		{"expired token unset", Subscription{AccessActive: true, ExpiresAt: &past}, false, true},
		{"expired token cleared", Subscription{AccessActive: true, ExpiresAt: &past, ChargeToken: &empty}, false, true},
		{"never paid", Subscription{AccessActive: false}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.due, tt.sub.IsDue(now))
			assert.Equal(t, tt.lapsed, tt.sub.IsLapsed(now))
		})
	}
}

// ==========================
// Patch
// ==========================

func TestSubscriptionPatch_Apply(t *testing.T) {
	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{UserID: 42}

	Grant(expiry, SetToken("tok_abc")).Apply(sub)
	assert.True(t, sub.AccessActive)
	assert.Equal(t, expiry, *sub.ExpiresAt)
	assert.Equal(t, "tok_abc", sub.Token())

	Grant(expiry.Add(time.Hour), SetToken("")).Apply(sub)
	assert.Equal(t, "tok_abc", sub.Token(), "empty gateway token keeps the stored one")

	SubscriptionPatch{ChargeToken: ClearToken()}.Apply(sub)
	assert.Equal(t, TokenCleared, sub.TokenState())

	Revoke().Apply(sub)
	assert.False(t, sub.AccessActive)
	assert.NotNil(t, sub.ExpiresAt, "revoke keeps the expiry")
}

func TestSubscriptionPatch_IsEmpty(t *testing.T) {
	assert.True(t, SubscriptionPatch{}.IsEmpty())
	assert.True(t, SubscriptionPatch{ChargeToken: SetToken("")}.IsEmpty())
	assert.False(t, Revoke().IsEmpty())
	assert.False(t, SubscriptionPatch{ChargeToken: ClearToken()}.IsEmpty())
}

func TestPrecondition_Matches(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	var nilCond *Precondition
	assert.True(t, nilCond.Matches(&Subscription{}))
	assert.True(t, ExpectExpiresAt(nil).Matches(&Subscription{}))
	assert.False(t, ExpectExpiresAt(nil).Matches(&Subscription{ExpiresAt: &t1}))
	assert.True(t, ExpectExpiresAt(&t1).Matches(&Subscription{ExpiresAt: &t1}))
	assert.False(t, ExpectExpiresAt(&t1).Matches(&Subscription{ExpiresAt: &t2}))
	assert.False(t, ExpectExpiresAt(&t1).Matches(&Subscription{}))
}

func TestExpectObserved_ChecksAccessFlag(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seen := &Subscription{AccessActive: true, ExpiresAt: &t1}

	cond := ExpectObserved(seen)
	assert.True(t, cond.Matches(&Subscription{AccessActive: true, ExpiresAt: &t1}))
	assert.False(t, cond.Matches(&Subscription{AccessActive: false, ExpiresAt: &t1}), "revoked with the same expiry")

	seen.AccessActive = false
	assert.True(t, *cond.AccessActive, "observed state is copied")
}

func TestSubscription_CloneIsDeep(t *testing.T) {
	expiry := time.Now()
	tok := "tok"
	orig := &Subscription{UserID: 1, ExpiresAt: &expiry, ChargeToken: &tok}
	c := orig.Clone()
	*c.ChargeToken = "other"
	*c.ExpiresAt = expiry.Add(time.Hour)

	assert.Equal(t, "tok", orig.Token())
	assert.Equal(t, expiry, *orig.ExpiresAt)
}

func TestSubscriptionPatch_Validate(t *testing.T) {
	expiry := time.Now()

	assert.NoError(t, Grant(expiry, KeepToken()).Validate())
	assert.NoError(t, Revoke().Validate())
	assert.NoError(t, SubscriptionPatch{}.Validate())
	assert.ErrorIs(t, SubscriptionPatch{AccessActive: Bool(true)}.Validate(), ErrActiveWithoutExpiry)
}
