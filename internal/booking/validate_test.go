package booking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateFieldsCollectsAllViolations(t *testing.T) {
	v := NewValidator(newMemStore(), testClock(), testCfg())

	b := testBooking("b1", "", "")
	b.GroupID = ""
	b.StartTime = testNow.Add(-time.Hour)            // in the past
	b.EndTime = b.StartTime.Add(30 * time.Minute)    // below minimum duration
	b.Purpose = strings.Repeat("x", 501)             // over the length cap

	err := v.ValidateFields(b)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	// vehicle, user, group, past start, short duration, same-day cutoff,
	// purpose length
	if len(ve.Violations) != 7 {
		t.Errorf("violations = %d, want 7: %v", len(ve.Violations), ve.Violations)
	}
}

func TestValidateFieldsAccepts(t *testing.T) {
	v := NewValidator(newMemStore(), testClock(), testCfg())
	if err := v.ValidateFields(testBooking("b1", "v1", "u1")); err != nil {
		t.Fatalf("valid booking rejected: %v", err)
	}
}

func TestValidateFieldsDurationBounds(t *testing.T) {
	v := NewValidator(newMemStore(), testClock(), testCfg())

	b := testBooking("b1", "v1", "u1")
	b.EndTime = b.StartTime.Add(25 * time.Hour)
	if err := v.ValidateFields(b); err == nil {
		t.Error("25h booking should exceed the maximum duration")
	}

	b = testBooking("b2", "v1", "u1")
	b.EndTime = b.StartTime.Add(2 * time.Hour)
	if err := v.ValidateFields(b); err != nil {
		t.Errorf("exactly the minimum duration rejected: %v", err)
	}
}

func TestValidateFieldsAdvanceWindow(t *testing.T) {
	v := NewValidator(newMemStore(), testClock(), testCfg())

	b := testBooking("b1", "v1", "u1")
	b.StartTime = testNow.AddDate(0, 0, 31)
	b.EndTime = b.StartTime.Add(4 * time.Hour)
	if err := v.ValidateFields(b); err == nil {
		t.Error("31-day advance booking should be rejected")
	}
}

func TestValidateFieldsSameDayCutoff(t *testing.T) {
	v := NewValidator(newMemStore(), testClock(), testCfg())

	// Same day, one hour of lead: under the two-hour cutoff.
	b := testBooking("b1", "v1", "u1")
	b.StartTime = testNow.Add(time.Hour)
	b.EndTime = b.StartTime.Add(4 * time.Hour)
	if err := v.ValidateFields(b); err == nil {
		t.Error("same-day booking under the cutoff should be rejected")
	}

	// Same day but three hours out clears the cutoff.
	b = testBooking("b2", "v1", "u1")
	b.StartTime = testNow.Add(3 * time.Hour)
	b.EndTime = b.StartTime.Add(4 * time.Hour)
	if err := v.ValidateFields(b); err != nil {
		t.Errorf("same-day booking past the cutoff rejected: %v", err)
	}
}

func TestCheckQuotaDailyLimit(t *testing.T) {
	store := newMemStore()
	v := NewValidator(store, testClock(), testCfg())

	// Three pending bookings already starting today.
	for i := 0; i < 3; i++ {
		b := testBooking(string(rune('a'+i)), "v1", "u1")
		b.Status = StatusPending
		b.StartTime = testNow.Add(time.Duration(i+4) * time.Hour)
		b.EndTime = b.StartTime.Add(2 * time.Hour)
		store.addBooking(b)
	}

	err := v.CheckQuota(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected daily quota violation")
	}
	if ErrorCode(err) != CodeValidation {
		t.Errorf("ErrorCode = %s, want %s", ErrorCode(err), CodeValidation)
	}

	if err := v.CheckQuota(context.Background(), "other-user"); err != nil {
		t.Errorf("quota of another user affected: %v", err)
	}
}

func TestCheckQuotaActiveLimit(t *testing.T) {
	store := newMemStore()
	v := NewValidator(store, testClock(), testCfg())

	// Five confirmed bookings on future days; the daily count stays at zero.
	for i := 0; i < 5; i++ {
		b := testBooking(string(rune('a'+i)), "v1", "u1")
		b.StartTime = testNow.AddDate(0, 0, i+2)
		b.EndTime = b.StartTime.Add(3 * time.Hour)
		store.addBooking(b)
	}

	if err := v.CheckQuota(context.Background(), "u1"); err == nil {
		t.Fatal("expected active quota violation")
	}
}

func TestCheckQuotaStoreFailure(t *testing.T) {
	store := newMemStore()
	v := NewValidator(store, testClock(), testCfg())

	store.fail("CountUserBookingsStarting", errors.New("db down"))
	err := v.CheckQuota(context.Background(), "u1")
	if ErrorCode(err) != CodeDependency {
		t.Errorf("ErrorCode = %s, want %s", ErrorCode(err), CodeDependency)
	}
}
