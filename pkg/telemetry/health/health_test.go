package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/tally/pkg/breaker"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{name: "default timeout", timeout: 0, expectedTimeout: 5 * time.Second},
		{name: "custom timeout", timeout: 10 * time.Second, expectedTimeout: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(tt.timeout)
			if checker.checkTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, checker.checkTimeout)
			}
			if checker.CheckCount() != 0 {
				t.Errorf("expected 0 checks, got %d", checker.CheckCount())
			}
		})
	}
}

func TestRegisterCheck(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("a", func(context.Context) error { return nil })
	checker.RegisterDegradedCheck("b", func(context.Context) error { return nil })
	checker.RegisterCheck("a", func(context.Context) error { return nil })

	if checker.CheckCount() != 2 {
		t.Errorf("expected 2 checks, got %d", checker.CheckCount())
	}
	checker.UnregisterCheck("a")
	if names := checker.ListChecks(); len(names) != 1 || names[0] != "b" {
		t.Errorf("expected [b], got %v", names)
	}
}

func TestCheckReadiness(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name     string
		critical map[string]CheckFunc
		degraded map[string]CheckFunc
		want     string
	}{
		{name: "no checks", want: StatusReady},
		{name: "all pass", critical: map[string]CheckFunc{"a": passing}, degraded: map[string]CheckFunc{"b": passing}, want: StatusReady},
		{name: "degraded check fails", critical: map[string]CheckFunc{"a": passing}, degraded: map[string]CheckFunc{"b": failing}, want: StatusDegraded},
		{name: "critical check fails", critical: map[string]CheckFunc{"a": failing}, degraded: map[string]CheckFunc{"b": failing}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			for name, fn := range tt.critical {
				checker.RegisterCheck(name, fn)
			}
			for name, fn := range tt.degraded {
				checker.RegisterDegradedCheck(name, fn)
			}

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("expected status %s, got %s", tt.want, status.Status)
			}
			if len(status.Checks) != len(tt.critical)+len(tt.degraded) {
				t.Errorf("expected %d results, got %d", len(tt.critical)+len(tt.degraded), len(status.Checks))
			}
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	checker := New(20 * time.Millisecond)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy on timeout, got %s", result.Status)
	}
	if result.Message != ErrCheckTimeout.Error() {
		t.Errorf("expected timeout message, got %q", result.Message)
	}
}

type availability bool

func (a availability) IsAvailable() bool { return bool(a) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestComponentChecks(t *testing.T) {
	ctx := context.Background()

	if err := StoreCheck(availability(true))(ctx); err != nil {
		t.Errorf("expected available store to pass, got %v", err)
	}
	if err := StoreCheck(availability(false))(ctx); err == nil {
		t.Error("expected unavailable store to fail")
	}

	if err := PingCheck(pinger{})(ctx); err != nil {
		t.Errorf("expected ping to pass, got %v", err)
	}
	if err := PingCheck(pinger{err: errors.New("refused")})(ctx); err == nil {
		t.Error("expected ping failure")
	}

	for _, state := range []breaker.State{breaker.StateClosed, breaker.StateHalfOpen} {
		snap := breaker.Snapshot{Name: "provider", State: state}
		if err := BreakerCheck(func() breaker.Snapshot { return snap })(ctx); err != nil {
			t.Errorf("expected %s breaker to pass, got %v", state, err)
		}
	}
	open := breaker.Snapshot{Name: "provider", State: breaker.StateOpen, NextRetryAt: time.Now().Add(time.Minute)}
	if err := BreakerCheck(func() breaker.Snapshot { return open })(ctx); err == nil {
		t.Error("expected open breaker to fail")
	}
}

func TestLivenessHandler(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("broken", func(context.Context) error { return errors.New("down") })

	tests := []struct {
		method     string
		wantStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodHead, http.StatusOK},
		{http.MethodPost, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			checker.LivenessHandler()(rec, httptest.NewRequest(tt.method, "/health", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		critical   bool
		wantStatus int
		wantBody   string
	}{
		{name: "degraded still serves", critical: false, wantStatus: http.StatusOK, wantBody: StatusDegraded},
		{name: "unhealthy refuses", critical: true, wantStatus: http.StatusServiceUnavailable, wantBody: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			fail := func(context.Context) error { return errors.New("down") }
			if tt.critical {
				checker.RegisterCheck("storage", fail)
			} else {
				checker.RegisterDegradedCheck("storage", fail)
			}

			rec := httptest.NewRecorder()
			checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if status.Status != tt.wantBody {
				t.Errorf("expected status %s, got %s", tt.wantBody, status.Status)
			}
			if status.Checks["storage"].Message != "down" {
				t.Errorf("expected check message, got %+v", status.Checks["storage"])
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc", "2025-11-20")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc" || info.GoVersion == "" {
		t.Errorf("unexpected version info %+v", info)
	}
}
