package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeWindow bounds a pickup or delivery interval quoted by the carrier.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SelectedQuote is the immutable snapshot of a delivery quote attached to an
// order. Fingerprint ties the quote to the exact addresses and manifest it was
// priced for; a mismatch invalidates the quote.
type SelectedQuote struct {
	ServiceClass     string          `json:"service_class"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	PickupInterval   *TimeWindow     `json:"pickup_interval,omitempty"`
	DeliveryInterval *TimeWindow     `json:"delivery_interval,omitempty"`
	Fingerprint      string          `json:"fingerprint"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// Expired reports whether the quote is past its validity window.
func (q SelectedQuote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}
