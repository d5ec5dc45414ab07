package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:         true,
		Namespace:       "test",
		DurationBuckets: []float64{0.1, 0.5, 1.0, 5.0},
	}
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector

	c.RecordConsume("summary", "success", time.Second)
	c.RecordQuotaRead("cache")
	c.RecordStoreFallback("increment")
	c.SetStoreAvailable(false)
	c.RecordRateLimit("free", true)
	c.RecordRateLimitError("redis")
	c.SetBreakerState("provider", 2)
	c.RecordBreakerCall("provider", "rejected")
	c.RecordBreakerTransition("provider", "closed", "open")
	c.RecordProviderCall("openai", "gpt-4o-mini", time.Second)
	c.RecordProviderError("openai", "timeout")
	c.RecordSweep(1, 2, time.Second, nil)

	if c.Registry() != nil {
		t.Error("expected nil registry from nil collector")
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, prometheus.NewRegistry())

	c.RecordConsume("summary", "success", time.Second)

	if got := testutil.ToFloat64(c.consume.total.WithLabelValues("summary", "success")); got != 0 {
		t.Errorf("expected nothing recorded while disabled, got %v", got)
	}
}

func TestCollector_RecordConsume(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	tests := []struct {
		feature string
		outcome string
		times   int
	}{
		{"summary", "success", 3},
		{"question", "quota_exceeded", 1},
		{"summary", "unavailable", 2},
	}

	for _, tt := range tests {
		for i := 0; i < tt.times; i++ {
			c.RecordConsume(tt.feature, tt.outcome, 200*time.Millisecond)
		}
	}

	for _, tt := range tests {
		got := testutil.ToFloat64(c.consume.total.WithLabelValues(tt.feature, tt.outcome))
		if got != float64(tt.times) {
			t.Errorf("consume_total{%s,%s} = %v, want %d", tt.feature, tt.outcome, got, tt.times)
		}
	}
}

func TestCollector_QuotaAndBreaker(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordQuotaRead("cache")
	c.RecordQuotaRead("cache")
	c.RecordQuotaRead("degraded")
	c.RecordStoreFallback("get")
	c.SetStoreAvailable(false)
	c.SetBreakerState("provider", 2)
	c.RecordBreakerCall("provider", "rejected")

	if got := testutil.ToFloat64(c.quota.reads.WithLabelValues("cache")); got != 2 {
		t.Errorf("expected 2 cache reads, got %v", got)
	}
	if got := testutil.ToFloat64(c.quota.fallbacks.WithLabelValues("get")); got != 1 {
		t.Errorf("expected 1 fallback, got %v", got)
	}
	if got := testutil.ToFloat64(c.quota.available); got != 0 {
		t.Errorf("expected availability 0, got %v", got)
	}
	if got := testutil.ToFloat64(c.breaker.state.WithLabelValues("provider")); got != 2 {
		t.Errorf("expected breaker state 2, got %v", got)
	}
	if got := testutil.ToFloat64(c.breaker.calls.WithLabelValues("provider", "rejected")); got != 1 {
		t.Errorf("expected 1 rejected call, got %v", got)
	}
}

func TestCollector_RecordSweep(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordSweep(4, 2, time.Second, nil)
	c.RecordSweep(0, 0, time.Second, errors.New("store down"))

	if got := testutil.ToFloat64(c.retention.counters.WithLabelValues("archived")); got != 4 {
		t.Errorf("expected 4 archived, got %v", got)
	}
	if got := testutil.ToFloat64(c.retention.sweeps.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed sweep, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())
	c.RecordRateLimit("free", false)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_rate_limit_decisions_total{result="denied",tier="free"} 1`) {
		t.Errorf("expected rate limit series in output:\n%s", rec.Body.String())
	}
}
