package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/model"
)

type receiverStub struct {
	err      error
	gotAuth  string
	gotBody  string
	received int
}

func (s *receiverStub) Receive(_ context.Context, authHeader string, body []byte) (*model.WebhookResponse, error) {
	s.received++
	s.gotAuth = authHeader
	s.gotBody = string(body)
	if s.err != nil {
		return nil, s.err
	}
	return &model.WebhookResponse{NotificationResponse: model.AcceptedResponse}, nil
}

type dashboardStub struct {
	got domain.Window
	err error
}

func (s *dashboardStub) GetDashboard(_ context.Context, w domain.Window) (*domain.HealthScore, error) {
	s.got = w
	if s.err != nil {
		return nil, s.err
	}
	return &domain.HealthScore{StartDate: w.Start, EndDate: w.End, HeatIndex: domain.HeatIndex{HealthStatus: domain.StatusHealthy}}, nil
}

type lookupStub map[string][]*domain.Transaction

func (s lookupStub) FindByPspReference(_ context.Context, psp string) ([]*domain.Transaction, error) {
	if psp == "boom" {
		return nil, errors.New("db down")
	}
	return s[psp], nil
}

type pingerStub struct{ err error }

func (p pingerStub) HealthCheck(context.Context) error { return p.err }

func newServer(c *qt.C, h *Handler) *httptest.Server {
	srv := httptest.NewServer(Routes(h))
	c.Cleanup(srv.Close)
	return srv
}

func do(c *qt.C, req *http.Request) (int, string, http.Header) {
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, string(b), resp.Header
}

func TestReceiveWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{{
		name:       "accepted",
		wantStatus: http.StatusOK,
		wantBody:   `{"notificationResponse":"[accepted]"}` + "\n",
	}, {
		name:       "unauthenticated has empty body",
		err:        domain.ErrUnauthenticated,
		wantStatus: http.StatusUnauthorized,
		wantBody:   "",
	}, {
		name:       "invalid payload",
		err:        fmt.Errorf("%w: item 0 has no hmacSignature", domain.ErrInvalidPayload),
		wantStatus: http.StatusBadRequest,
		wantBody:   `{"error":"invalid payload: item 0 has no hmacSignature"}` + "\n",
	}, {
		name:       "anything else",
		err:        errors.New("publish failed"),
		wantStatus: http.StatusInternalServerError,
		wantBody:   `{"error":"internal server error"}` + "\n",
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			stub := &receiverStub{err: test.err}
			srv := newServer(c, &Handler{Webhook: stub})

			req, err := http.NewRequest(http.MethodPost, srv.URL+ROUTE_WEBHOOK, strings.NewReader(`{"live":"false"}`))
			c.Assert(err, qt.IsNil)
			req.Header.Set("Authorization", "Basic dTpw")
			status, body, header := do(c, req)

			c.Assert(status, qt.Equals, test.wantStatus)
			c.Assert(body, qt.Equals, test.wantBody)
			c.Assert(header.Get("X-Request-Id"), qt.Not(qt.Equals), "")
			c.Assert(stub.gotAuth, qt.Equals, "Basic dTpw")
			c.Assert(stub.gotBody, qt.Equals, `{"live":"false"}`)
		})
	}
}

func TestParseDashboardQuery(t *testing.T) {
	c := qt.New(t)

	w, err := ParseDashboardQuery(model.DashboardQuery{StartDate: "2025-06-01", EndDate: "2025-06-02", LocationID: " loc-1 "})
	c.Assert(err, qt.IsNil)
	c.Assert(w, qt.CmpEquals(cmpopts.EquateApproxTime(0)), domain.Window{
		Start:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 6, 2, 23, 59, 59, 999999999, time.UTC),
		LocationID: "loc-1",
	})

	w, err = ParseDashboardQuery(model.DashboardQuery{StartDate: "2025-06-01T10:00:00-03:00", EndDate: "2025-06-01T15:00:00Z"})
	c.Assert(err, qt.IsNil)
	c.Assert(w.Start, qt.Equals, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC))
	c.Assert(w.End, qt.Equals, time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC))

	// Same day as a plain date is a full-day window.
	w, err = ParseDashboardQuery(model.DashboardQuery{StartDate: "2025-06-01", EndDate: "2025-06-01"})
	c.Assert(err, qt.IsNil)
	c.Assert(w.End.Sub(w.Start), qt.Equals, 24*time.Hour-time.Nanosecond)

	bad := []model.DashboardQuery{
		{EndDate: "2025-06-01"},
		{StartDate: "2025-06-01"},
		{StartDate: "yesterday", EndDate: "2025-06-01"},
		{StartDate: "2025-06-01", EndDate: "06/02/2025"},
		{StartDate: "2025-06-02", EndDate: "2025-06-01"},
	}
	for _, q := range bad {
		_, err := ParseDashboardQuery(q)
		c.Check(err, qt.Not(qt.IsNil), qt.Commentf("%+v", q))
	}
}

func TestGetDashboard(t *testing.T) {
	c := qt.New(t)
	stub := &dashboardStub{}
	srv := newServer(c, &Handler{Dashboard: stub})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+ROUTE_DASHBOARD+"?startDate=2025-06-01&endDate=2025-06-02&locationId=loc-9", nil)
	status, body, header := do(c, req)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(header.Get("Content-Type"), qt.Equals, "application/json")
	c.Assert(body, qt.Contains, `"healthStatus":"Healthy"`)
	c.Assert(stub.got.LocationID, qt.Equals, "loc-9")

	req, _ = http.NewRequest(http.MethodGet, srv.URL+ROUTE_DASHBOARD+"?startDate=2025-06-03&endDate=2025-06-02", nil)
	status, body, _ = do(c, req)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(body, qt.Contains, "endDate must not be before startDate")

	stub.err = errors.New("store down")
	req, _ = http.NewRequest(http.MethodGet, srv.URL+ROUTE_DASHBOARD+"?startDate=2025-06-01&endDate=2025-06-02", nil)
	status, _, _ = do(c, req)
	c.Assert(status, qt.Equals, http.StatusInternalServerError)
}

func TestGetTransactions(t *testing.T) {
	c := qt.New(t)
	srv := newServer(c, &Handler{Transactions: lookupStub{
		"psp-1": {{PspReference: "psp-1", EventCode: domain.EventAuthorisation}, {PspReference: "psp-1", EventCode: domain.EventCapture}},
	}})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/transactions/psp-1", nil)
	status, body, _ := do(c, req)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(strings.Count(body, `"pspReference":"psp-1"`), qt.Equals, 2)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/transactions/unknown", nil)
	status, _, _ = do(c, req)
	c.Assert(status, qt.Equals, http.StatusNotFound)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/transactions/boom", nil)
	status, _, _ = do(c, req)
	c.Assert(status, qt.Equals, http.StatusInternalServerError)
}

func TestOperationalEndpoints(t *testing.T) {
	c := qt.New(t)
	srv := newServer(c, &Handler{Ready: pingerStub{}})

	for _, path := range []string{ROUTE_HEALTHZ, ROUTE_READYZ, ROUTE_METRICS} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		status, _, _ := do(c, req)
		c.Check(status, qt.Equals, http.StatusOK, qt.Commentf("%s", path))
	}

	down := newServer(c, &Handler{Ready: pingerStub{err: errors.New("redis down")}})
	req, _ := http.NewRequest(http.MethodGet, down.URL+ROUTE_READYZ, nil)
	status, body, _ := do(c, req)
	c.Assert(status, qt.Equals, http.StatusServiceUnavailable)
	c.Assert(body, qt.Contains, "unavailable")
}

func TestRecoverMiddleware(t *testing.T) {
	c := qt.New(t)
	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	c.Assert(rec.Code, qt.Equals, http.StatusInternalServerError)
}
