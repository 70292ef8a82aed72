package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEntitlement(true)
	c.RecordEntitlement(false)
	c.RecordEntitlement(false)
	c.RecordRecoveredError("entitlement_check")
	c.RecordOnboardingTransition("list_selection")
	c.RecordAuthEvent("signed_in")
	c.RecordHTTPRequest(http.MethodGet, "/api/me/status", http.StatusOK, 15*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.entitlementsResolved.WithLabelValues("pro")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.entitlementsResolved.WithLabelValues("free")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveredErrors.WithLabelValues("entitlement_check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.onboardingTransitions.WithLabelValues("list_selection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authEvents.WithLabelValues("signed_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/api/me/status", "200")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordEntitlement(true)
		c.RecordRecoveredError("flag_store")
		c.RecordOnboardingTransition("done")
		c.RecordAuthEvent("signed_out")
		c.RecordHTTPRequest(http.MethodPost, "/api/auth/signin", http.StatusUnauthorized, time.Millisecond)
	})
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthEvent("signed_in")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `armi_auth_events_total{kind="signed_in"} 1`)
}
