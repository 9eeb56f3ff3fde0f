package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/model"
)

const (
	ROUTE_WEBHOOK      = "/api/adyenwebhook/notifications"
	ROUTE_DASHBOARD    = "/api/dashboard"
	ROUTE_TRANSACTIONS = "/api/transactions/{pspReference}"
	ROUTE_LIVE         = "/ws/dashboard"
	ROUTE_HEALTHZ      = "/healthz"
	ROUTE_READYZ       = "/readyz"
	ROUTE_METRICS      = "/metrics"

	MAX_WEBHOOK_BODY = 2 << 20 // 2 MB
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var dateOnlyLayout = "2006-01-02"

type WebhookReceiver interface {
	Receive(ctx context.Context, authHeader string, body []byte) (*model.WebhookResponse, error)
}

type Dashboard interface {
	GetDashboard(ctx context.Context, w domain.Window) (*domain.HealthScore, error)
}

type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves the webhook, dashboard and operational endpoints. Live is the
// websocket endpoint, mounted as is.
type Handler struct {
	Webhook      WebhookReceiver
	Dashboard    Dashboard
	Transactions core.TransactionLookup
	Live         http.Handler
	Ready        Pinger
}

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)

	r.Get(ROUTE_HEALTHZ, h.Healthz)
	r.Get(ROUTE_READYZ, h.Readyz)
	r.Handle(ROUTE_METRICS, promhttp.Handler())
	r.Mount("/debug", middleware.Profiler())

	r.Post(ROUTE_WEBHOOK, h.ReceiveWebhook)
	r.Get(ROUTE_DASHBOARD, h.GetDashboard)
	r.Get(ROUTE_TRANSACTIONS, h.GetTransactions)
	if h.Live != nil {
		r.Handle(ROUTE_LIVE, h.Live)
	}
	return r
}

func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MAX_WEBHOOK_BODY))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	resp, err := h.Webhook.Receive(r.Context(), r.Header.Get("Authorization"), body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthenticated):
			// No detail on which check failed.
			slog.Warn("[RT:Webhook:Receive:01] - Rejected unauthenticated notification", "remote", r.RemoteAddr)
			w.WriteHeader(http.StatusUnauthorized)
		case errors.Is(err, domain.ErrInvalidPayload):
			slog.Warn("[RT:Webhook:Receive:02] - Rejected invalid notification", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("[RT:Webhook:Receive:03] - Notification processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := ParseDashboardQuery(model.DashboardQuery{
		StartDate:  q.Get("startDate"),
		EndDate:    q.Get("endDate"),
		LocationID: q.Get("locationId"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tStart := time.Now()
	score, err := h.Dashboard.GetDashboard(r.Context(), window)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidWindow) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("[RT:Dashboard:Get:01] - Failed to compute dashboard", "key", window.CacheKey(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute dashboard")
		return
	}
	slog.Debug("[RT:Dashboard:Get:02] - Dashboard served", "key", window.CacheKey(), "duration", time.Since(tStart))
	writeJSON(w, http.StatusOK, score)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	psp := strings.TrimSpace(chi.URLParam(r, "pspReference"))
	if psp == "" {
		writeError(w, http.StatusBadRequest, "pspReference is required")
		return
	}
	txs, err := h.Transactions.FindByPspReference(r.Context(), psp)
	if err != nil {
		slog.Error("[RT:Transactions:Get:01] - Failed to look up transactions", "psp_reference", psp, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get transactions")
		return
	}
	if len(txs) == 0 {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ParseDashboardQuery accepts RFC 3339 timestamps or plain dates. A plain end
// date covers that whole day.
func ParseDashboardQuery(q model.DashboardQuery) (domain.Window, error) {
	if q.StartDate == "" || q.EndDate == "" {
		return domain.Window{}, errors.New("startDate and endDate are required")
	}
	start, _, err := parseDate(q.StartDate)
	if err != nil {
		return domain.Window{}, errors.New("startDate must be a date or RFC 3339 timestamp")
	}
	end, dateOnly, err := parseDate(q.EndDate)
	if err != nil {
		return domain.Window{}, errors.New("endDate must be a date or RFC 3339 timestamp")
	}
	if dateOnly {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		return domain.Window{}, errors.New("endDate must not be before startDate")
	}
	return domain.Window{Start: start, End: end, LocationID: strings.TrimSpace(q.LocationID)}, nil
}

func parseDate(s string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err = time.Parse(dateOnlyLayout, s)
	return t, true, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[RT:Response:Write:01] - Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}
