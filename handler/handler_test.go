package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sljivkov/ethticker/apis"
	"github.com/sljivkov/ethticker/cache"
	"github.com/sljivkov/ethticker/config"
	"github.com/sljivkov/ethticker/domain"
	"github.com/sljivkov/ethticker/format"
	"github.com/sljivkov/ethticker/refresher"
)

type fakeSource struct {
	mu         sync.Mutex
	state      refresher.State
	refreshErr error
	refreshes  int
}

func (f *fakeSource) State() refresher.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) RefreshAsync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func successState() refresher.State {
	return refresher.State{
		Phase: refresher.PhaseSuccess,
		Snapshot: &domain.PriceSnapshot{
			USD:          decimal.RequireFromString("2500.5"),
			BTC:          decimal.RequireFromString("0.05123456"),
			USDChange24h: decimal.NewNullDecimal(decimal.RequireFromString("-1.23")),
			BTCChange24h: decimal.NewNullDecimal(decimal.RequireFromString("0.5")),
			FetchedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func serve(h *Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestWidget(t *testing.T) {
	h := New(&fakeSource{state: successState()}, zap.NewNop(), nil, 0)

	rec := serve(h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	body := rec.Body.String()
	assert.Contains(t, body, "Ethereum Price")
	assert.Contains(t, body, "$2,500.50")
	assert.Contains(t, body, "0.05123456")
	assert.Contains(t, body, `<span class="down">-1.23%</span>`)
	assert.Contains(t, body, `<span class="up">&#43;0.50%</span>`)
	assert.Contains(t, body, `content="30"`)
	assert.Contains(t, body, `<button type="submit">Refresh</button>`)
}

func TestWidgetWhileLoading(t *testing.T) {
	h := New(&fakeSource{state: refresher.State{Phase: refresher.PhaseLoading, Loading: true}}, zap.NewNop(), nil, 0)

	body := serve(h, http.MethodGet, "/", nil).Body.String()
	assert.Contains(t, body, format.LoadingText)
	assert.Contains(t, body, `<button type="submit" disabled>Refreshing...</button>`)
}

func TestWidgetError(t *testing.T) {
	st := refresher.State{Phase: refresher.PhaseError, Err: domain.NewFetchError(nil)}
	h := New(&fakeSource{state: st}, zap.NewNop(), nil, 0)

	body := serve(h, http.MethodGet, "/", nil).Body.String()
	assert.Contains(t, body, domain.FetchErrorMessage)
	assert.Contains(t, body, format.UnavailableText)
}

func TestPriceAPI(t *testing.T) {
	h := New(&fakeSource{state: successState()}, zap.NewNop(), nil, 0)

	rec := serve(h, http.MethodGet, "/api/price", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "$2,500.50", got["usd"])
	assert.Equal(t, "0.05123456", got["btc"])
	assert.Equal(t, "success", got["phase"])
	assert.Equal(t, map[string]any{"text": "-1.23%", "trend": "down"}, got["usd_change"])
	assert.Equal(t, map[string]any{"text": "+0.50%", "trend": "up"}, got["btc_change"])
	assert.NotContains(t, got, "error")
}

func TestRefresh(t *testing.T) {
	t.Run("form post redirects", func(t *testing.T) {
		src := &fakeSource{state: successState()}
		rec := serve(New(src, zap.NewNop(), nil, 0), http.MethodPost, "/refresh", nil)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
		assert.Equal(t, 1, src.refreshes)
	})

	t.Run("json accepted", func(t *testing.T) {
		src := &fakeSource{state: successState()}
		rec := serve(New(src, zap.NewNop(), nil, 0), http.MethodPost, "/refresh", map[string]string{"Accept": "application/json"})

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), `"phase":"success"`)
	})

	t.Run("form post while loading redirects", func(t *testing.T) {
		src := &fakeSource{refreshErr: refresher.ErrRefreshInProgress}
		rec := serve(New(src, zap.NewNop(), nil, 0), http.MethodPost, "/refresh", nil)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("json while loading conflicts", func(t *testing.T) {
		src := &fakeSource{refreshErr: refresher.ErrRefreshInProgress}
		rec := serve(New(src, zap.NewNop(), nil, 0), http.MethodPost, "/refresh", map[string]string{"Accept": "application/json"})

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), refresher.ErrRefreshInProgress.Error())
	})

	t.Run("closed", func(t *testing.T) {
		src := &fakeSource{refreshErr: refresher.ErrClosed}
		rec := serve(New(src, zap.NewNop(), nil, 0), http.MethodPost, "/refresh", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("get not allowed", func(t *testing.T) {
		src := &fakeSource{}
		rec := serve(New(src, zap.NewNop(), nil, 0), http.MethodGet, "/refresh", nil)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, 0, src.refreshes)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	refresher.NewMetrics(registry)
	h := New(&fakeSource{}, zap.NewNop(), registry, 0)

	rec := serve(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ethticker_refresher_persist_failures_total")
}

func TestRequestIDIsKept(t *testing.T) {
	h := New(&fakeSource{}, zap.NewNop(), nil, 0)

	rec := serve(h, http.MethodGet, "/health", map[string]string{requestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

// TestEndToEnd wires the real CoinGecko client, refresher and router against
// a fake upstream.
func TestEndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		status   = http.StatusOK
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		code := status
		mu.Unlock()

		w.WriteHeader(code)
		w.Write([]byte(`{"ethereum":{"usd":2500.5,"btc":0.05123456,"usd_24h_change":-1.23,"btc_24h_change":0.5}}`))
	}))
	defer upstream.Close()

	cfg := config.Config{
		Url:         upstream.URL,
		Token:       "ethereum",
		Currencies:  "usd,btc",
		HTTPTimeout: time.Second,
	}
	store := cache.NewMemoryStore()
	ref := refresher.New(apis.NewCoinGecko(cfg), store, refresher.Options{
		RefreshInterval: time.Hour,
		Logger:          zap.NewNop(),
	})
	defer ref.Close()

	require.NoError(t, ref.Start(context.Background()))

	srv := httptest.NewServer(New(ref, zap.NewNop(), nil, 0).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/price")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got PriceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "$2,500.50", got.USD)
	assert.Equal(t, "0.05123456", got.BTC)
	assert.Equal(t, format.TrendDown, got.USDChange.Trend)
	assert.Equal(t, format.TrendUp, got.BTCChange.Trend)

	// A failing upstream leaves the cached slot untouched
	mu.Lock()
	status = http.StatusBadGateway
	mu.Unlock()

	before, err := store.Load(context.Background())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/refresh", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	refreshResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	refreshResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, refreshResp.StatusCode)

	require.Eventually(t, func() bool {
		return ref.State().Phase == refresher.PhaseError
	}, 2*time.Second, 10*time.Millisecond)

	after, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "$2,500.50", format.NewView(ref.State().Snapshot, false, nil).USD)

	mu.Lock()
	assert.Equal(t, 2, requests)
	mu.Unlock()
}
