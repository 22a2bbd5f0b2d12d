package booking

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// checkInEarlyGrace is how long before the booked start a member may pick up
// the vehicle.
const checkInEarlyGrace = 15 * time.Minute

// CheckHandler records vehicle pickup and return. Each action writes an
// append-only CheckLog row and moves the booking and vehicle state in the
// same transaction.
type CheckHandler struct {
	store     Store
	avail     *AvailabilityIndex
	publisher EventPublisher
	clock     Clock
	cfg       config.BookingConfig
	log       logger.Logger
}

func NewCheckHandler(store Store, avail *AvailabilityIndex, publisher EventPublisher, clock Clock, cfg config.BookingConfig, log logger.Logger) *CheckHandler {
	return &CheckHandler{
		store:     store,
		avail:     avail,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}
}

// CheckInput carries the readings taken at pickup or return.
type CheckInput struct {
	Odometer   float64
	BatteryPct int
	Notes      string
	Latitude   *float64
	Longitude  *float64
	Signature  string
}

// CheckIn records the pickup: the booking goes in_progress and the vehicle
// goes in_use. Staff may check in outside the time window and with a
// regressive odometer reading; both bypasses are logged.
func (h *CheckHandler) CheckIn(ctx context.Context, actor Actor, bookingID string, in CheckInput) (*Booking, error) {
	b, err := h.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(actor, b); err != nil {
		return nil, err
	}
	if b.Status != StatusConfirmed {
		return nil, &StateError{Op: "check_in", Status: b.Status}
	}
	if in.BatteryPct < 0 || in.BatteryPct > 100 {
		return nil, &ValidationError{Violations: []string{"battery percentage must be between 0 and 100"}}
	}
	if prior, err := h.store.GetCheckLog(ctx, b.ID, ActionCheckIn); err == nil && prior != nil {
		return nil, &StateError{Op: "check_in", Status: b.Status}
	}

	now := h.clock.Now()
	v, err := h.store.GetVehicle(ctx, b.VehicleID)
	if err != nil {
		return nil, err
	}

	if !actor.Elevated() {
		if now.Before(b.StartTime.Add(-checkInEarlyGrace)) {
			return nil, &ValidationError{Violations: []string{
				fmt.Sprintf("check-in opens %s before the booked start", checkInEarlyGrace),
			}}
		}
		if now.After(b.EndTime) {
			return nil, &StateError{Op: "check_in", Status: b.Status}
		}
		if in.Odometer < v.Odometer {
			return nil, &ValidationError{Violations: []string{
				fmt.Sprintf("odometer reading %.1f is below the vehicle's recorded %.1f", in.Odometer, v.Odometer),
			}}
		}
	} else if in.Odometer < v.Odometer {
		h.log.WithFields(map[string]interface{}{
			"booking_id": b.ID,
			"reading":    in.Odometer,
			"recorded":   v.Odometer,
		}).Warn("elevated check-in with regressive odometer reading")
	}

	logRow := h.newLog(actor, b.ID, ActionCheckIn, in, now)
	if err := h.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateCheckLog(ctx, logRow); err != nil {
			return err
		}
		if err := b.ApplyTransition(StatusInProgress, now); err != nil {
			return err
		}
		odo := in.Odometer
		bat := in.BatteryPct
		b.CheckInOdometer = &odo
		b.CheckInBattery = &bat
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		return tx.SetVehicleState(ctx, b.VehicleID, vehicle.StatusInUse, in.Odometer)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	h.afterCheck(ctx, b, EventCheckedIn, fmt.Sprintf("odometer %.1f battery %d%%", in.Odometer, in.BatteryPct))
	return b, nil
}

// CheckOut records the return: the booking completes, trip statistics and
// cost are fixed, and the vehicle becomes available again.
func (h *CheckHandler) CheckOut(ctx context.Context, actor Actor, bookingID string, in CheckInput) (*Booking, error) {
	b, err := h.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(actor, b); err != nil {
		return nil, err
	}
	if b.Status != StatusInProgress {
		return nil, &StateError{Op: "check_out", Status: b.Status}
	}
	if in.BatteryPct < 0 || in.BatteryPct > 100 {
		return nil, &ValidationError{Violations: []string{"battery percentage must be between 0 and 100"}}
	}
	if prior, err := h.store.GetCheckLog(ctx, b.ID, ActionCheckOut); err == nil && prior != nil {
		return nil, &StateError{Op: "check_out", Status: b.Status}
	}
	if b.CheckInOdometer != nil && in.Odometer < *b.CheckInOdometer {
		return nil, &ValidationError{Violations: []string{
			fmt.Sprintf("odometer reading %.1f is below the check-in reading %.1f", in.Odometer, *b.CheckInOdometer),
		}}
	}

	// The trip runs from the actual pickup, not the booked start.
	checkedInAt := b.StartTime
	if inLog, err := h.store.GetCheckLog(ctx, b.ID, ActionCheckIn); err == nil && inLog != nil {
		checkedInAt = inLog.CreatedAt
	}

	now := h.clock.Now()
	logRow := h.newLog(actor, b.ID, ActionCheckOut, in, now)
	if err := h.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateCheckLog(ctx, logRow); err != nil {
			return err
		}
		if err := b.ApplyTransition(StatusCompleted, now); err != nil {
			return err
		}
		odo := in.Odometer
		bat := in.BatteryPct
		b.CheckOutOdometer = &odo
		b.CheckOutBattery = &bat
		h.applyTripStats(b, checkedInAt, now)
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		return tx.SetVehicleState(ctx, b.VehicleID, vehicle.StatusAvailable, in.Odometer)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	h.afterCheck(ctx, b, EventCheckedOut,
		fmt.Sprintf("distance %.1f km, cost %d cents", b.ActualDistance, b.CostCents))
	return b, nil
}

// applyTripStats fixes the derived trip numbers once at return time. Cost is
// the actual trip duration (pickup to return) at the hourly rate plus the
// driven distance at the per-km rate.
func (h *CheckHandler) applyTripStats(b *Booking, checkedInAt, returnedAt time.Time) {
	if b.CheckInOdometer != nil && b.CheckOutOdometer != nil {
		b.ActualDistance = *b.CheckOutOdometer - *b.CheckInOdometer
	}
	if b.CheckInBattery != nil && b.CheckOutBattery != nil {
		b.EnergyUsedPct = *b.CheckInBattery - *b.CheckOutBattery
	}
	hours := returnedAt.Sub(checkedInAt).Hours()
	if hours < 0 {
		hours = 0
	}
	b.CostCents = int64(math.Round(hours*float64(h.cfg.HourlyRateCents))) +
		int64(math.Round(b.ActualDistance*float64(h.cfg.PerKmRateCents)))
}

func (h *CheckHandler) newLog(actor Actor, bookingID string, action CheckAction, in CheckInput, now time.Time) *CheckLog {
	return &CheckLog{
		ID:          uuid.NewString(),
		BookingID:   bookingID,
		Action:      action,
		Odometer:    in.Odometer,
		BatteryPct:  in.BatteryPct,
		Notes:       in.Notes,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		PerformedBy: resolverID(actor),
		Signature:   in.Signature,
		CreatedAt:   now,
	}
}

func (h *CheckHandler) afterCheck(ctx context.Context, b *Booking, t EventType, detail string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("post-commit effects panicked for booking %s: %v", b.ID, r)
		}
	}()
	h.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
	if h.publisher != nil {
		_ = h.publisher.Publish(ctx, Event{
			Type:      t,
			BookingID: b.ID,
			VehicleID: b.VehicleID,
			GroupID:   b.GroupID,
			UserID:    b.UserID,
			Detail:    detail,
			At:        h.clock.Now(),
		})
	}
}

func (h *CheckHandler) authorize(actor Actor, b *Booking) error {
	if actor.Elevated() || actor.UserID == b.UserID {
		return nil
	}
	return &PermissionError{Reason: "caller is not the booking owner"}
}
