// Package format turns price snapshots into display text
package format

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sljivkov/ethticker/domain"
)

const (
	// LoadingText is shown before the first snapshot arrives
	LoadingText = "Loading..."
	// UnavailableText is shown in place of a value that cannot be displayed
	UnavailableText = "N/A"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Trend is the direction of a 24h change, rendered red (down) or green (up)
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Change is a formatted percentage change
type Change struct {
	Text  string `json:"text"`
	Trend Trend  `json:"trend"`
}

// View is everything the widget displays
type View struct {
	USD       string     `json:"usd"`
	BTC       string     `json:"btc"`
	USDChange Change     `json:"usd_change"`
	BTCChange Change     `json:"btc_change"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

// USD formats d as en-US currency with two fraction digits, e.g. $2,500.50
func USD(d decimal.Decimal) string {
	rounded := d.Round(2)
	f, _ := rounded.Abs().Float64()

	text := "$" + printer.Sprintf("%v", number.Decimal(f, number.Scale(2)))
	if rounded.IsNegative() {
		return "-" + text
	}
	return text
}

// BTC formats d with exactly eight fraction digits
func BTC(d decimal.Decimal) string {
	return d.StringFixed(8)
}

// PercentChange formats a 24h change as a signed percentage
func PercentChange(nd decimal.NullDecimal) Change {
	if !nd.Valid {
		return Change{Text: UnavailableText, Trend: TrendFlat}
	}

	rounded := nd.Decimal.Round(2)
	switch {
	case rounded.IsPositive():
		return Change{Text: "+" + rounded.StringFixed(2) + "%", Trend: TrendUp}
	case rounded.IsNegative():
		return Change{Text: rounded.StringFixed(2) + "%", Trend: TrendDown}
	default:
		return Change{Text: "0.00%", Trend: TrendFlat}
	}
}

// NewView builds the display model. A failed fetch keeps the last snapshot
// on screen next to the error message.
func NewView(snap *domain.PriceSnapshot, loading bool, fetchErr *domain.FetchError) View {
	v := View{Loading: loading}
	if fetchErr != nil {
		v.Error = fetchErr.Message
	}

	if snap == nil {
		placeholder := LoadingText
		if fetchErr != nil {
			placeholder = UnavailableText
		}
		v.USD = placeholder
		v.BTC = placeholder
		v.USDChange = Change{Text: UnavailableText, Trend: TrendFlat}
		v.BTCChange = Change{Text: UnavailableText, Trend: TrendFlat}
		return v
	}

	fetchedAt := snap.FetchedAt
	v.USD = USD(snap.USD)
	v.BTC = BTC(snap.BTC)
	v.USDChange = PercentChange(snap.USDChange24h)
	v.BTCChange = PercentChange(snap.BTCChange24h)
	v.FetchedAt = &fetchedAt
	return v
}
