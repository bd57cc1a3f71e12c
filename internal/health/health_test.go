package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"guildkeeper/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code int
		body string
	}{
		{name: "ok", code: http.StatusOK, body: `"status":"ok"`},
		{name: "down", err: errors.New("database is locked"), code: http.StatusServiceUnavailable, body: "database is locked"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(pinger{err: tc.err}, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("expected body to contain %q, got %q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ActionScheduled("giveaway")

	router := NewRouter(pinger{}, reg)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `guildkeeper_scheduler_actions_scheduled_total{kind="giveaway"} 1`) {
		t.Fatalf("expected scheduler counter in output, got %q", rec.Body.String())
	}
}
