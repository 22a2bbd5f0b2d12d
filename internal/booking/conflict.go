package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// Detector scans a candidate booking for violations and records Conflict
// rows. It runs post-commit and is eventually consistent by design: detector
// failures are logged, never surfaced to the booking writer.
type Detector struct {
	store      Store
	membership MembershipService
	publisher  EventPublisher
	clock      Clock
	cfg        config.BookingConfig
	log        logger.Logger
}

func NewDetector(store Store, membership MembershipService, publisher EventPublisher, clock Clock, cfg config.BookingConfig, log logger.Logger) *Detector {
	return &Detector{
		store:      store,
		membership: membership,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		log:        log,
	}
}

// Detect runs the five checks against the booking, persists one Conflict per
// finding, and flips the booking to conflict status. Individual check
// failures (flaky lookups) are logged and skipped so one bad dependency
// cannot hide the other checks.
func (d *Detector) Detect(ctx context.Context, bookingID string) ([]Conflict, error) {
	b, err := d.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(b.Status) {
		return nil, nil
	}

	now := d.clock.Now()
	var findings []Conflict

	findings = append(findings, d.checkTimeOverlap(ctx, b)...)
	findings = append(findings, d.checkVehicleUnavailable(ctx, b)...)
	findings = append(findings, d.checkQuota(ctx, b)...)
	findings = append(findings, d.checkMaintenance(ctx, b)...)
	findings = append(findings, d.checkGroupRestriction(ctx, b)...)

	if len(findings) == 0 {
		return nil, nil
	}

	for i := range findings {
		findings[i].ID = uuid.NewString()
		findings[i].BookingID = b.ID
		findings[i].Status = ConflictUnresolved
		findings[i].CreatedAt = now
	}

	err = d.store.WithTx(ctx, func(tx Store) error {
		for i := range findings {
			if err := tx.CreateConflict(ctx, &findings[i]); err != nil {
				return err
			}
		}
		if CanTransition(b.Status, StatusConflict) {
			if err := b.ApplyTransition(StatusConflict, now); err != nil {
				return err
			}
			return tx.SaveBooking(ctx, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.WithFields(map[string]interface{}{
		"booking_id": b.ID,
		"findings":   len(findings),
	}).Warn("booking flagged with conflicts")

	if d.publisher != nil {
		_ = d.publisher.Publish(ctx, Event{
			Type:      EventConflictDetected,
			BookingID: b.ID,
			VehicleID: b.VehicleID,
			GroupID:   b.GroupID,
			UserID:    b.UserID,
			Detail:    fmt.Sprintf("%d conflict(s) detected", len(findings)),
			At:        now,
		})
	}

	return findings, nil
}

func (d *Detector) checkTimeOverlap(ctx context.Context, b *Booking) []Conflict {
	overlaps, err := d.store.ListOverlapping(ctx, b.VehicleID, b.StartTime, b.EndTime, ActiveStatuses)
	if err != nil {
		d.log.Warnf("overlap check failed for booking %s: %v", b.ID, err)
		return nil
	}
	var out []Conflict
	for i := range overlaps {
		if overlaps[i].ID == b.ID {
			continue
		}
		out = append(out, Conflict{
			Type:           ConflictTimeOverlap,
			OtherBookingID: overlaps[i].ID,
		})
	}
	return out
}

func (d *Detector) checkVehicleUnavailable(ctx context.Context, b *Booking) []Conflict {
	v, err := d.store.GetVehicle(ctx, b.VehicleID)
	if err != nil {
		d.log.Warnf("vehicle check failed for booking %s: %v", b.ID, err)
		return nil
	}
	// in_use is expected while this booking itself runs
	if v.Status == vehicle.StatusAvailable || (b.Status == StatusInProgress && v.Status == vehicle.StatusInUse) {
		return nil
	}
	return []Conflict{{Type: ConflictVehicleUnavailable}}
}

// checkQuota re-runs the quota counts post-commit to catch create races.
// The pre-commit Validation Engine is the authoritative gate; this finding
// is advisory and is left to manual resolution.
func (d *Detector) checkQuota(ctx context.Context, b *Booking) []Conflict {
	now := d.clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	daily, err := d.store.CountUserBookingsStarting(ctx, b.UserID, dayStart, dayEnd,
		[]Status{StatusPending, StatusConfirmed})
	if err != nil {
		d.log.Warnf("quota re-check failed for booking %s: %v", b.ID, err)
		return nil
	}
	active, err := d.store.CountUserActiveBookings(ctx, b.UserID, now,
		[]Status{StatusPending, StatusConfirmed, StatusInProgress})
	if err != nil {
		d.log.Warnf("quota re-check failed for booking %s: %v", b.ID, err)
		return nil
	}

	// The candidate booking is already persisted, so strictly-greater means
	// the limit was breached by a race.
	if daily > int64(d.cfg.MaxBookingsPerDay) || active > int64(d.cfg.MaxActiveBookings) {
		return []Conflict{{Type: ConflictQuotaExceeded}}
	}
	return nil
}

// checkMaintenance is a reserved hook: maintenance schedules live in an
// external system that is not integrated yet.
func (d *Detector) checkMaintenance(ctx context.Context, b *Booking) []Conflict {
	return nil
}

func (d *Detector) checkGroupRestriction(ctx context.Context, b *Booking) []Conflict {
	rules, err := d.membership.Rules(ctx, b.GroupID)
	if err != nil {
		d.log.Warnf("group rules lookup failed for booking %s: %v", b.ID, err)
		return nil
	}
	if rules == nil {
		return nil
	}

	var out []Conflict
	if rules.MaxDuration > 0 && b.EndTime.Sub(b.StartTime) > rules.MaxDuration {
		out = append(out, Conflict{Type: ConflictGroupRestriction})
	}
	if rules.AllowedStartHour != 0 || rules.AllowedEndHour != 0 {
		h := b.StartTime.UTC().Hour()
		if h < rules.AllowedStartHour || h >= rules.AllowedEndHour {
			out = append(out, Conflict{Type: ConflictGroupRestriction})
		}
	}
	return out
}

// ResolveStale applies deterministic auto-resolution to unresolved conflicts
// older than the configured age: time_overlap keeps the earlier-starting
// booking and cancels the later one; vehicle_unavailable cancels the
// booking; every other type is left for manual handling. Returns the number
// of conflicts resolved.
func (d *Detector) ResolveStale(ctx context.Context) (int, error) {
	now := d.clock.Now()
	cutoff := now.Add(-d.cfg.StaleConflictAge)

	stale, err := d.store.ListUnresolvedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stale {
		c := stale[i]
		var err error
		switch c.Type {
		case ConflictTimeOverlap:
			err = d.resolveOverlap(ctx, &c, now)
		case ConflictVehicleUnavailable:
			err = d.resolveByCancel(ctx, &c, c.BookingID, now)
		default:
			d.log.Infof("stale conflict %s of type %s left for manual handling", c.ID, c.Type)
			continue
		}
		if err != nil {
			d.log.Errorf("failed to auto-resolve conflict %s: %v", c.ID, err)
			continue
		}
		resolved++

		if d.publisher != nil {
			_ = d.publisher.Publish(ctx, Event{
				Type:      EventConflictResolved,
				BookingID: c.BookingID,
				Detail:    "auto-resolved by stale-conflict sweep",
				At:        now,
			})
		}
	}
	return resolved, nil
}

// resolveOverlap cancels whichever of the two bookings starts later.
func (d *Detector) resolveOverlap(ctx context.Context, c *Conflict, now time.Time) error {
	if c.OtherBookingID == "" {
		return fmt.Errorf("overlap conflict %s has no other booking", c.ID)
	}
	first, err := d.store.GetBooking(ctx, c.BookingID)
	if err != nil {
		return err
	}
	second, err := d.store.GetBooking(ctx, c.OtherBookingID)
	if err != nil {
		return err
	}

	loser := second
	if second.StartTime.Before(first.StartTime) {
		loser = first
	}
	return d.resolveByCancel(ctx, c, loser.ID, now)
}

func (d *Detector) resolveByCancel(ctx context.Context, c *Conflict, cancelID string, now time.Time) error {
	return d.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.GetBooking(ctx, cancelID)
		if err != nil {
			return err
		}
		resolution := fmt.Sprintf("auto-resolved after %s: cancelled booking %s", d.cfg.StaleConflictAge, cancelID)
		switch {
		case IsTerminal(b.Status):
			resolution = fmt.Sprintf("auto-resolved after %s: booking %s already %s", d.cfg.StaleConflictAge, cancelID, b.Status)
		case !CanTransition(b.Status, StatusCancelled):
			// a running trip is not cancelled out from under the driver
			d.log.Warnf("stale conflict %s: booking %s is %s, closing for manual follow-up", c.ID, cancelID, b.Status)
			resolution = fmt.Sprintf("closed after %s: booking %s is %s, requires manual follow-up", d.cfg.StaleConflictAge, cancelID, b.Status)
		default:
			if err := b.ApplyTransition(StatusCancelled, now); err != nil {
				return err
			}
			b.CancelReason = fmt.Sprintf("auto-cancelled: stale %s conflict %s", c.Type, c.ID)
			if err := tx.SaveBooking(ctx, b); err != nil {
				return err
			}
		}

		c.Status = ConflictResolved
		c.ResolvedBy = "system"
		c.Resolution = resolution
		t := now
		c.ResolvedAt = &t
		return tx.SaveConflict(ctx, c)
	})
}
