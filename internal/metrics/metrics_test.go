package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/alurea-fulfillment/internal/tracking"
)

var _ tracking.Stats = (*Metrics)(nil)

func TestCounters(t *testing.T) {
	m := New()

	m.Reservation("ok")
	m.Reservation("ok")
	m.Reservation("insufficient")
	m.Verification("login", "mismatch")
	m.Transition("delivering")

	require.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("insufficient")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("login", "mismatch")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("delivering")))
}

func TestTrackingStats(t *testing.T) {
	m := New()
	b := tracking.New(tracking.DefaultLocation, tracking.WithStats(m))

	s := b.Subscribe(t.Context())
	b.Update(1, 1)
	b.Update(2, 2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.subscribers))
	require.Equal(t, 2.0, testutil.ToFloat64(m.published))
	require.Equal(t, 2.0, testutil.ToFloat64(m.replaced))

	b.Unsubscribe(s)
	require.Equal(t, 0.0, testutil.ToFloat64(m.subscribers))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST /api/orders", http.MethodPost, http.StatusCreated, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	require.True(t, strings.Contains(text, `fulfillment_http_requests_total{method="POST",route="POST /api/orders",status="201"} 1`), text)
	require.Contains(t, text, "fulfillment_http_request_duration_seconds_bucket")
	require.Contains(t, text, "go_goroutines")
}
