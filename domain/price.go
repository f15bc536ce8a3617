// Package domain defines the core types of the ethticker service
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FreshnessWindow is how long a snapshot is trusted without a new fetch
const FreshnessWindow = 30 * time.Second

// FetchErrorMessage is shown to the user for every kind of fetch failure
const FetchErrorMessage = "Failed to fetch Ethereum price. Please try again."

// PriceSnapshot is one retrieved ETH price data point
type PriceSnapshot struct {
	USD          decimal.Decimal     // ETH price in USD
	BTC          decimal.Decimal     // ETH price in BTC
	USDChange24h decimal.NullDecimal // 24h % change of the USD price
	BTCChange24h decimal.NullDecimal // 24h % change of the BTC price
	FetchedAt    time.Time
}

// Age returns how long ago the snapshot was fetched
func (s PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// IsFresh reports whether the snapshot may be displayed without refetching
func (s PriceSnapshot) IsFresh(now time.Time, window time.Duration) bool {
	return s.Age(now) < window
}

// FetchError is returned for any failed price fetch. Message is safe to show
// to the user; Err keeps the underlying cause for logs.
type FetchError struct {
	Message string
	Err     error
}

// NewFetchError wraps err with the generic user-facing message
func NewFetchError(err error) *FetchError {
	return &FetchError{Message: FetchErrorMessage, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
