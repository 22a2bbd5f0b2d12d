package booking

import (
	"context"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// Store is the transactional persistence boundary of the engine. The GORM
// implementation lives in repo.go; tests use an in-memory implementation.
type Store interface {
	// WithTx runs fn inside one transaction; the Store handed to fn is bound
	// to that transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Bookings.
	CreateBooking(ctx context.Context, b *Booking) error
	SaveBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)
	// ListOverlapping returns bookings on vehicleID with status in statuses
	// whose [start,end) window overlaps the given one, half-open semantics.
	ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time, statuses []Status) ([]Booking, error)
	// ListByVehicleBetween returns all non-cancelled bookings overlapping the range.
	ListByVehicleBetween(ctx context.Context, vehicleID string, from, to time.Time) ([]Booking, error)
	ListByGroupBetween(ctx context.Context, groupID string, from, to time.Time) ([]Booking, error)
	CountUserBookingsStarting(ctx context.Context, userID string, from, to time.Time, statuses []Status) (int64, error)
	CountUserActiveBookings(ctx context.Context, userID string, endsAfter time.Time, statuses []Status) (int64, error)
	// SumUsageHours totals completed booking hours for the user in the group
	// starting at or after since.
	SumUsageHours(ctx context.Context, userID, groupID string, since time.Time) (float64, error)
	ListStartingBetween(ctx context.Context, from, to time.Time, status Status) ([]Booking, error)
	ListEndedBefore(ctx context.Context, cutoff time.Time, statuses []Status) ([]Booking, error)
	// DeleteBookingCascade removes the booking plus its check logs and
	// conflicts. Callers run it inside WithTx; no datastore cascades are
	// assumed.
	DeleteBookingCascade(ctx context.Context, bookingID string) error
	ListActiveVehicleIDs(ctx context.Context) ([]string, error)

	// Conflicts.
	CreateConflict(ctx context.Context, c *Conflict) error
	SaveConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	ListUnresolvedByBooking(ctx context.Context, bookingID string) ([]Conflict, error)
	ListUnresolvedOlderThan(ctx context.Context, cutoff time.Time) ([]Conflict, error)

	// Check logs.
	CreateCheckLog(ctx context.Context, l *CheckLog) error
	GetCheckLog(ctx context.Context, bookingID string, action CheckAction) (*CheckLog, error)

	// Vehicles (shared state, mutated inside booking transactions).
	GetVehicle(ctx context.Context, id string) (*vehicle.Vehicle, error)
	SetVehicleState(ctx context.Context, id string, status vehicle.Status, odometer float64) error
}

// Cache is the key/value cache used by the availability index. It is an
// optimization only: every error path must fall through to a fresh query.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeleteByPrefix removes every key with the prefix. Deleting nothing is
	// a no-op, never an error.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Locker provides TTL-bound mutual exclusion for background jobs across
// process instances.
type Locker interface {
	// Acquire atomically takes key for owner if absent. False means another
	// instance holds it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release frees key only if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

// Ownership is the membership service's answer for (group, user).
type Ownership struct {
	Percent float64 // 0-100
	Active  bool
	Admin   bool
}

// GroupRules are externally supplied booking restrictions for a group.
type GroupRules struct {
	MaxDuration      time.Duration // zero means no limit
	AllowedStartHour int           // inclusive, 0-23; both zero means no window
	AllowedEndHour   int           // exclusive, 1-24
}

// MembershipService is the external ownership/group lookup. Treated as
// flaky: callers bound it with timeouts and degrade to defaults on failure.
type MembershipService interface {
	Ownership(ctx context.Context, groupID, userID string) (*Ownership, error)
	Rules(ctx context.Context, groupID string) (*GroupRules, error)
}

// EventType names a lifecycle event.
type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingUpdated   EventType = "booking.updated"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventConflictDetected EventType = "booking.conflict_detected"
	EventConflictResolved EventType = "booking.conflict_resolved"
	EventCheckedIn        EventType = "booking.checked_in"
	EventCheckedOut       EventType = "booking.checked_out"
	EventBookingReminder  EventType = "booking.reminder"
)

// Event is a fire-and-forget lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	BookingID string    `json:"booking_id"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// EventPublisher delivers lifecycle events to the notification sink.
// Publish failures must never block or fail the calling operation.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}
