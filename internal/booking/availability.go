package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// AvailabilityResult is the answer to a checkAvailability query.
type AvailabilityResult struct {
	Available            bool   `json:"available"`
	Reason               string `json:"reason,omitempty"`
	ConflictingBookingID string `json:"conflicting_booking_id,omitempty"`
}

// DaySlot is one derived free/busy calendar day.
type DaySlot struct {
	Date       string   `json:"date"` // YYYY-MM-DD
	Free       bool     `json:"free"`
	BookingIDs []string `json:"booking_ids,omitempty"`
}

// Calendar is the bookings-plus-slots view for one vehicle.
type Calendar struct {
	VehicleID string    `json:"vehicle_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Bookings  []Booking `json:"bookings"`
	Days      []DaySlot `json:"days"`
}

// GroupCalendar is the same view across all vehicles of a group.
type GroupCalendar struct {
	GroupID  string    `json:"group_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Bookings []Booking `json:"bookings"`
	Days     []DaySlot `json:"days"`
}

// AvailabilityIndex answers overlap queries for a vehicle and time range,
// backed by a short-TTL read-through cache. The cache is an optimization
// only: every miss or cache failure falls through to a fresh query.
type AvailabilityIndex struct {
	store Store
	cache Cache
	clock Clock
	ttl   time.Duration
	log   logger.Logger
}

func NewAvailabilityIndex(store Store, cache Cache, clock Clock, ttl time.Duration, log logger.Logger) *AvailabilityIndex {
	return &AvailabilityIndex{store: store, cache: cache, clock: clock, ttl: ttl, log: log}
}

const (
	vehicleKeyPrefix = "avail:v:"
	groupKeyPrefix   = "avail:g:"
)

func vehicleRangeKey(vehicleID string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", vehicleKeyPrefix, vehicleID, start.Unix(), end.Unix())
}

func groupRangeKey(groupID string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", groupKeyPrefix, groupID, start.Unix(), end.Unix())
}

// CheckAvailability reports whether the vehicle can be booked for
// [start, end): the vehicle must be available and no booking in an active
// status may overlap the window.
func (a *AvailabilityIndex) CheckAvailability(ctx context.Context, vehicleID string, start, end time.Time) (*AvailabilityResult, error) {
	v, err := a.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if v.Status != vehicle.StatusAvailable {
		return &AvailabilityResult{
			Available: false,
			Reason:    fmt.Sprintf("vehicle is %s", v.Status),
		}, nil
	}

	overlapping, err := a.activeOverlaps(ctx, vehicleID, start, end)
	if err != nil {
		return nil, err
	}
	if len(overlapping) > 0 {
		return &AvailabilityResult{
			Available:            false,
			Reason:               "overlapping booking",
			ConflictingBookingID: overlapping[0].ID,
		}, nil
	}

	return &AvailabilityResult{Available: true}, nil
}

// activeOverlaps is the cached overlap query behind CheckAvailability.
func (a *AvailabilityIndex) activeOverlaps(ctx context.Context, vehicleID string, start, end time.Time) ([]Booking, error) {
	key := vehicleRangeKey(vehicleID, start, end)

	if data, ok, err := a.cache.Get(ctx, key); err != nil {
		a.log.Warnf("availability cache get failed: %v", err)
	} else if ok {
		var cached []Booking
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		a.log.Warnf("availability cache entry corrupt, refreshing: key=%s", key)
	}

	overlapping, err := a.store.ListOverlapping(ctx, vehicleID, start, end, ActiveStatuses)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(overlapping); err == nil {
		if err := a.cache.Set(ctx, key, data, a.ttl); err != nil {
			a.log.Warnf("availability cache set failed: %v", err)
		}
	}
	return overlapping, nil
}

// VehicleCalendar returns the non-cancelled bookings overlapping the range
// plus derived free/busy day slots.
func (a *AvailabilityIndex) VehicleCalendar(ctx context.Context, vehicleID string, from, to time.Time) (*Calendar, error) {
	bookings, err := a.store.ListByVehicleBetween(ctx, vehicleID, from, to)
	if err != nil {
		return nil, err
	}
	return &Calendar{
		VehicleID: vehicleID,
		From:      from,
		To:        to,
		Bookings:  bookings,
		Days:      deriveDaySlots(from, to, bookings),
	}, nil
}

// GroupCalendar aggregates the calendar across all vehicles of a group.
func (a *AvailabilityIndex) GroupCalendar(ctx context.Context, groupID string, from, to time.Time) (*GroupCalendar, error) {
	key := groupRangeKey(groupID, from, to)

	if data, ok, err := a.cache.Get(ctx, key); err != nil {
		a.log.Warnf("group calendar cache get failed: %v", err)
	} else if ok {
		var cached GroupCalendar
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	bookings, err := a.store.ListByGroupBetween(ctx, groupID, from, to)
	if err != nil {
		return nil, err
	}
	cal := &GroupCalendar{
		GroupID:  groupID,
		From:     from,
		To:       to,
		Bookings: bookings,
		Days:     deriveDaySlots(from, to, bookings),
	}

	if data, err := json.Marshal(cal); err == nil {
		if err := a.cache.Set(ctx, key, data, a.ttl); err != nil {
			a.log.Warnf("group calendar cache set failed: %v", err)
		}
	}
	return cal, nil
}

// Warm refreshes the cached overlap entry for the vehicle and range.
func (a *AvailabilityIndex) Warm(ctx context.Context, vehicleID string, from, to time.Time) error {
	overlapping, err := a.store.ListOverlapping(ctx, vehicleID, from, to, ActiveStatuses)
	if err != nil {
		return err
	}
	data, err := json.Marshal(overlapping)
	if err != nil {
		return err
	}
	return a.cache.Set(ctx, vehicleRangeKey(vehicleID, from, to), data, a.ttl)
}

// Invalidate drops every cached entry for the vehicle and group. It is
// idempotent: missing keys and cache failures are logged, never surfaced —
// correctness does not depend on the cache.
func (a *AvailabilityIndex) Invalidate(ctx context.Context, vehicleID, groupID string) {
	if vehicleID != "" {
		if err := a.cache.DeleteByPrefix(ctx, vehicleKeyPrefix+vehicleID+":"); err != nil {
			a.log.Warnf("availability cache invalidation failed: vehicle=%s err=%v", vehicleID, err)
		}
	}
	if groupID != "" {
		if err := a.cache.DeleteByPrefix(ctx, groupKeyPrefix+groupID+":"); err != nil {
			a.log.Warnf("availability cache invalidation failed: group=%s err=%v", groupID, err)
		}
	}
}

// deriveDaySlots marks each calendar day in [from, to) free or busy.
func deriveDaySlots(from, to time.Time, bookings []Booking) []DaySlot {
	var days []DaySlot
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(to) {
		next := day.AddDate(0, 0, 1)
		slot := DaySlot{Date: day.Format("2006-01-02"), Free: true}
		for i := range bookings {
			if bookings[i].Overlaps(day, next) {
				slot.Free = false
				slot.BookingIDs = append(slot.BookingIDs, bookings[i].ID)
			}
		}
		days = append(days, slot)
		day = next
	}
	return days
}
