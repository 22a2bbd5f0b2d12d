package booking

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusConflict, true},
		{StatusPending, StatusInProgress, false},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusInProgress, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusConflict, true},
		{StatusConfirmed, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusConflict, StatusConfirmed, true},
		{StatusConflict, StatusCancelled, true},
		{StatusConflict, StatusInProgress, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		// self transitions are no-ops, always allowed
		{StatusPending, StatusPending, true},
		{StatusCompleted, StatusCompleted, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusInProgress, StatusConflict} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestApplyTransition(t *testing.T) {
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusPending

	if err := b.ApplyTransition(StatusConfirmed, testNow); err != nil {
		t.Fatalf("pending -> confirmed: %v", err)
	}
	if b.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", b.Status)
	}
	if !b.UpdatedAt.Equal(testNow) {
		t.Errorf("UpdatedAt not stamped")
	}

	err := b.ApplyTransition(StatusPending, testNow)
	if err == nil {
		t.Fatal("confirmed -> pending should be rejected")
	}
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StateError", err)
	}
	if ErrorCode(err) != CodeState {
		t.Errorf("ErrorCode = %s, want %s", ErrorCode(err), CodeState)
	}
	if b.Status != StatusConfirmed {
		t.Errorf("status mutated on rejected transition")
	}
}
