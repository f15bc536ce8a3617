// Package apis provides external price feed integrations
package apis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sljivkov/ethticker/config"
	"github.com/sljivkov/ethticker/domain"
)

// maxBodySize caps how much of an upstream response is read
const maxBodySize = 1 << 20

// CoinGecko implements a price feed using the CoinGecko simple price API
type CoinGecko struct {
	cfg     config.Config
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewCoinGecko creates a new CoinGecko price feed instance
func NewCoinGecko(cfg config.Config) *CoinGecko {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CoinGecko{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// requestURL builds the simple price query for the configured token
func (g *CoinGecko) requestURL() string {
	params := url.Values{}
	params.Add("ids", g.cfg.Token)
	params.Add("vs_currencies", strings.Join(g.cfg.CurrencyList(), ","))
	params.Add("include_24hr_change", "true")

	return fmt.Sprintf("%s?%s", g.cfg.Url, params.Encode())
}

// FetchSnapshot fetches the current price snapshot from the CoinGecko API.
// Every failure is returned as a *domain.FetchError.
func (g *CoinGecko) FetchSnapshot(ctx context.Context) (*domain.PriceSnapshot, error) {
	snap, err := g.getSnapshot(ctx)
	if err != nil {
		return nil, domain.NewFetchError(err)
	}
	return snap, nil
}

func (g *CoinGecko) getSnapshot(ctx context.Context) (*domain.PriceSnapshot, error) {
	// Rate limit as per CoinGecko's requirements
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.ApiKey != "" {
		req.Header.Set("x-cg-demo-api-key", g.cfg.ApiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API returned non-2xx status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseSnapshot(body, g.cfg.Token, g.now())
}

// parseSnapshot validates the response shape
// {token: {usd, btc, usd_24h_change, btc_24h_change}} and converts it.
// Any deviation is an error.
func parseSnapshot(body []byte, token string, now time.Time) (*domain.PriceSnapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to decode response: invalid JSON")
	}

	asset := gjson.GetBytes(body, gjson.Escape(token))
	if !asset.IsObject() {
		return nil, fmt.Errorf("response has no %q object", token)
	}

	usd, err := decimalField(asset, "usd")
	if err != nil {
		return nil, err
	}
	btc, err := decimalField(asset, "btc")
	if err != nil {
		return nil, err
	}
	usdChange, err := decimalField(asset, "usd_24h_change")
	if err != nil {
		return nil, err
	}
	btcChange, err := decimalField(asset, "btc_24h_change")
	if err != nil {
		return nil, err
	}

	return &domain.PriceSnapshot{
		USD:          usd,
		BTC:          btc,
		USDChange24h: decimal.NewNullDecimal(usdChange),
		BTCChange24h: decimal.NewNullDecimal(btcChange),
		FetchedAt:    now,
	}, nil
}

// decimalField parses a numeric member from its raw JSON text
func decimalField(obj gjson.Result, key string) (decimal.Decimal, error) {
	v := obj.Get(key)
	if v.Type != gjson.Number {
		return decimal.Zero, fmt.Errorf("field %q: expected number, got %s", key, v.Type)
	}

	d, err := decimal.NewFromString(v.Raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
	}
	return d, nil
}
