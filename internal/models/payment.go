// internal/models/payment.go
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedTrackingID = errors.New("MALFORMED_TRACKING_ID")

// TrackingID correlates a gateway transaction with a user. Wire format is
// "<userId>:<epochSeconds>".
type TrackingID struct {
	UserID int64
	At     time.Time
}

// NewTrackingID builds a tracking id for userID at time at.
func NewTrackingID(userID int64, at time.Time) TrackingID {
	return TrackingID{UserID: userID, At: time.Unix(at.Unix(), 0).UTC()}
}

func (t TrackingID) String() string {
	return fmt.Sprintf("%d:%d", t.UserID, t.At.Unix())
}

// ParseTrackingID parses "<userId>:<epochSeconds>".
func ParseTrackingID(raw string) (TrackingID, error) {
	userPart, tsPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || userPart == "" || tsPart == "" {
		return TrackingID{}, fmt.Errorf("%w: %q", ErrMalformedTrackingID, raw)
	}

	userID, err := strconv.ParseInt(userPart, 10, 64)
	if err != nil || userID <= 0 {
		return TrackingID{}, fmt.Errorf("%w: bad user id in %q", ErrMalformedTrackingID, raw)
	}

	secs, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil || secs < 0 {
		return TrackingID{}, fmt.Errorf("%w: bad timestamp in %q", ErrMalformedTrackingID, raw)
	}

	return TrackingID{UserID: userID, At: time.Unix(secs, 0).UTC()}, nil
}

// ToMinorUnits converts a major-unit amount into integer minor units
// (kopecks, cents). The fractional remainder is truncated toward zero;
// no rounding is performed, so 19.999 becomes 1999.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Truncate(0).IntPart()
}

// Pricing is the operator-controlled billing configuration read at the
// start of every cycle.
type Pricing struct {
	Price      decimal.Decimal
	Currency   string
	PeriodDays int
}

// Period returns the paid period length.
func (p Pricing) Period() time.Duration {
	return time.Duration(p.PeriodDays) * 24 * time.Hour
}

// MinorAmount returns the price in minor units.
func (p Pricing) MinorAmount() int64 {
	return ToMinorUnits(p.Price)
}

// ChargeResult is the outcome of one direct token charge.
type ChargeResult struct {
	Success       bool
	TransactionID string
	Status        string
	Reason        string
}

// PaymentAttempt is the ephemeral record of one charge or checkout.
type PaymentAttempt struct {
	UserID      int64
	Amount      int64
	Currency    string
	Description string
	TrackingID  TrackingID
	Outcome     ChargeResult
}
