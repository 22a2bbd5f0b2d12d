package group

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/booking"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
)

func testClient(baseURL string) *Client {
	return NewClient(config.MembershipConfig{
		BaseURL:      baseURL,
		Timeout:      time.Second,
		MaxFailures:  3,
		ResetTimeout: time.Minute,
	}, logger.Nop())
}

func TestOwnership(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/groups/g1/members/u1/ownership" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"percent": 35.5, "active": true, "admin": false}`))
	}))
	defer srv.Close()

	own, err := testClient(srv.URL).Ownership(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if own.Percent != 35.5 || !own.Active || own.Admin {
		t.Errorf("ownership = %+v", own)
	}
}

func TestRulesNotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rules, err := testClient(srv.URL).Rules(context.Background(), "g1")
	if err != nil {
		t.Fatalf("404 should mean no rules, got %v", err)
	}
	if rules != nil {
		t.Errorf("rules = %+v, want nil", rules)
	}
}

func TestRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"max_duration_minutes": 240, "allowed_start_hour": 6, "allowed_end_hour": 22}`))
	}))
	defer srv.Close()

	rules, err := testClient(srv.URL).Rules(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if rules.MaxDuration != 4*time.Hour {
		t.Errorf("MaxDuration = %s, want 4h", rules.MaxDuration)
	}
	if rules.AllowedStartHour != 6 || rules.AllowedEndHour != 22 {
		t.Errorf("hours = %d-%d, want 6-22", rules.AllowedStartHour, rules.AllowedEndHour)
	}
}

func TestServerErrorIsDependencyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Ownership(context.Background(), "g1", "u1")
	if booking.ErrorCode(err) != booking.CodeDependency {
		t.Errorf("ErrorCode = %s, want %s", booking.ErrorCode(err), booking.CodeDependency)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = c.Ownership(ctx, "g1", "u1")
	}

	// Breaker is open now; the call fails without reaching the server.
	_, err := c.Ownership(ctx, "g1", "u1")
	if booking.ErrorCode(err) != booking.CodeDependency {
		t.Errorf("ErrorCode = %s, want %s", booking.ErrorCode(err), booking.CodeDependency)
	}
}
