// Package handler serves the price widget and its JSON API over HTTP
package handler

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sljivkov/ethticker/format"
	"github.com/sljivkov/ethticker/refresher"
)

//go:embed templates/widget.html
var templates embed.FS

var widgetTmpl = template.Must(template.ParseFS(templates, "templates/widget.html"))

// PriceSource is the part of the refresher the HTTP layer needs
type PriceSource interface {
	State() refresher.State
	RefreshAsync() error
}

// Handler serves the widget page, the manual refresh action and the JSON state
type Handler struct {
	prices   PriceSource
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	reload   time.Duration
}

// New creates a Handler. reload is how often the page reloads itself.
func New(prices PriceSource, logger *zap.Logger, gatherer prometheus.Gatherer, reload time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reload <= 0 {
		reload = 30 * time.Second
	}
	return &Handler{
		prices:   prices,
		logger:   logger,
		gatherer: gatherer,
		reload:   reload,
	}
}

// PriceResponse is the JSON body of /api/price
type PriceResponse struct {
	format.View
	Phase string `json:"phase"`
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, h.accessLog)

	r.HandleFunc("/", h.handleWidget).Methods(http.MethodGet)
	r.HandleFunc("/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/price", h.handlePrice).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

func (h *Handler) response() PriceResponse {
	st := h.prices.State()
	return PriceResponse{
		View:  format.NewView(st.Snapshot, st.Loading, st.Err),
		Phase: st.Phase.String(),
	}
}

func (h *Handler) handleWidget(w http.ResponseWriter, r *http.Request) {
	data := struct {
		View          format.View
		ReloadSeconds int
	}{
		View:          h.response().View,
		ReloadSeconds: int(h.reload.Seconds()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := widgetTmpl.Execute(w, data); err != nil {
		h.logger.Error("Failed to render widget", zap.Error(err))
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := h.prices.RefreshAsync()
	switch {
	case errors.Is(err, refresher.ErrRefreshInProgress):
		// the widget already shows the running fetch
		if !wantsJSON(r) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, refresher.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Manual refresh failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "refresh failed"})
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, h.response())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handlePrice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.response())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
