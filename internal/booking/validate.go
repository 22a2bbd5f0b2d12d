package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
)

// Validator runs the stateless booking rule checks plus the per-user quota
// counts. It has no side effects.
type Validator struct {
	store Store
	clock Clock
	cfg   config.BookingConfig
}

func NewValidator(store Store, clock Clock, cfg config.BookingConfig) *Validator {
	return &Validator{store: store, clock: clock, cfg: cfg}
}

// ValidateFields checks the booking fields against the static rules and
// returns every violation found.
func (v *Validator) ValidateFields(b *Booking) error {
	violations := validateFields(b, v.clock.Now(), v.cfg)
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func validateFields(b *Booking, now time.Time, cfg config.BookingConfig) []string {
	var violations []string

	if b.VehicleID == "" {
		violations = append(violations, "vehicle_id is required")
	}
	if b.UserID == "" {
		violations = append(violations, "user_id is required")
	}
	if b.GroupID == "" {
		violations = append(violations, "group_id is required")
	}
	if b.StartTime.IsZero() || b.EndTime.IsZero() {
		violations = append(violations, "start_time and end_time are required")
		return violations
	}

	if !b.StartTime.After(now) {
		violations = append(violations, "start_time must be in the future")
	}
	if !b.EndTime.After(b.StartTime) {
		violations = append(violations, "end_time must be after start_time")
	} else {
		duration := b.EndTime.Sub(b.StartTime)
		if duration < cfg.MinDuration {
			violations = append(violations, fmt.Sprintf("duration must be at least %s", cfg.MinDuration))
		}
		if duration > cfg.MaxDuration {
			violations = append(violations, fmt.Sprintf("duration must not exceed %s", cfg.MaxDuration))
		}
	}

	maxAdvance := now.AddDate(0, 0, cfg.MaxAdvanceDays)
	if b.StartTime.After(maxAdvance) {
		violations = append(violations, fmt.Sprintf("start_time must be within %d days", cfg.MaxAdvanceDays))
	}

	// Same-day bookings need a minimum lead so co-owners have a chance to react.
	if sameCalendarDay(b.StartTime, now) && b.StartTime.Sub(now) < cfg.SameDayCutoff {
		violations = append(violations, fmt.Sprintf("same-day bookings must start at least %s from now", cfg.SameDayCutoff))
	}

	if len(b.Purpose) > cfg.MaxPurposeLen {
		violations = append(violations, fmt.Sprintf("purpose must not exceed %d characters", cfg.MaxPurposeLen))
	}

	return violations
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// CheckQuota counts the user's same-day and active bookings against the
// configured limits. Pure read-and-check.
func (v *Validator) CheckQuota(ctx context.Context, userID string) error {
	now := v.clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var violations []string

	daily, err := v.store.CountUserBookingsStarting(ctx, userID, dayStart, dayEnd,
		[]Status{StatusPending, StatusConfirmed})
	if err != nil {
		return &DependencyError{Dep: "store", Err: err}
	}
	if daily >= int64(v.cfg.MaxBookingsPerDay) {
		violations = append(violations, fmt.Sprintf("daily booking limit of %d reached", v.cfg.MaxBookingsPerDay))
	}

	active, err := v.store.CountUserActiveBookings(ctx, userID, now,
		[]Status{StatusPending, StatusConfirmed, StatusInProgress})
	if err != nil {
		return &DependencyError{Dep: "store", Err: err}
	}
	if active >= int64(v.cfg.MaxActiveBookings) {
		violations = append(violations, fmt.Sprintf("active booking limit of %d reached", v.cfg.MaxActiveBookings))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
