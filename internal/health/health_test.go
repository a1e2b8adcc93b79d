package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/resilience"
	roommock "github.com/crosstalkhq/crosstalk/pkg/room/mock"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body status = %v, want ok", body["status"])
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	h := New(
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	checks, _ := body["checks"].(map[string]any)
	if checks["a"] != "ok" || checks["b"] != "ok" {
		t.Errorf("checks = %v, want all ok", checks)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	h := New(
		Checker{Name: "good", Check: func(context.Context) error { return nil }},
		Checker{Name: "bad", Check: func(context.Context) error { return errors.New("boom") }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "fail" {
		t.Errorf("body status = %v, want fail", body["status"])
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["bad"] != "fail: boom" {
		t.Errorf("bad check = %v, want fail: boom", checks["bad"])
	}
}

func TestRoomConnected(t *testing.T) {
	src := &roommock.Source{}
	check := RoomConnected(src)

	if err := check.Check(context.Background()); err == nil {
		t.Error("check passed for a disconnected source")
	}

	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := check.Check(context.Background()); err != nil {
		t.Errorf("check failed for a connected source: %v", err)
	}
}

func TestBreakerClosed(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "stt",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	check := BreakerClosed("stt", cb)

	if err := check.Check(context.Background()); err != nil {
		t.Errorf("check failed for a closed breaker: %v", err)
	}

	cb.Execute(func() error { return errors.New("down") })
	if err := check.Check(context.Background()); err == nil {
		t.Error("check passed for an open breaker")
	}
}

func TestBreakersClosed(t *testing.T) {
	newBreaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: 1,
			RecoveryTimeout:  time.Hour,
		})
	}
	breakers := []*resilience.CircuitBreaker{}
	check := BreakersClosed("stt", func() []*resilience.CircuitBreaker { return breakers })

	// Empty set passes so readiness holds before speaker streams start.
	if err := check.Check(context.Background()); err != nil {
		t.Errorf("check failed for an empty breaker set: %v", err)
	}

	breakers = []*resilience.CircuitBreaker{
		newBreaker("stt-interviewer-1"),
		newBreaker("stt-candidate-1"),
	}
	if err := check.Check(context.Background()); err != nil {
		t.Errorf("check failed with all breakers closed: %v", err)
	}

	breakers[1].Execute(func() error { return errors.New("down") })
	err := check.Check(context.Background())
	if err == nil {
		t.Fatal("check passed with an open breaker in the set")
	}
	if !strings.Contains(err.Error(), "stt-candidate-1") {
		t.Errorf("error %q does not name the open breaker", err)
	}
}

func TestRegister_Routes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
