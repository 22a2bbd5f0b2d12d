package booking

import "time"

// Status is the booking lifecycle state (persisted as string).
type Status string

const (
	StatusPending    Status = "pending"     // created, waiting for confirmation
	StatusConfirmed  Status = "confirmed"   // holds the vehicle for its window
	StatusInProgress Status = "in_progress" // checked in, trip running
	StatusCompleted  Status = "completed"   // checked out
	StatusCancelled  Status = "cancelled"   // cancelled by owner/staff/system
	StatusConflict   Status = "conflict"    // flagged by the conflict detector
)

// ActiveStatuses are the statuses that hold a vehicle for their time window.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

// PurposeType classifies the stated trip purpose for priority scoring.
type PurposeType string

const (
	PurposeBusiness  PurposeType = "business"
	PurposeEmergency PurposeType = "emergency"
	PurposeFamily    PurposeType = "family"
	PurposePersonal  PurposeType = "personal"
	PurposeOther     PurposeType = "other"
)

// Booking is the GORM model of the bookings table.
type Booking struct {
	ID        string `gorm:"primaryKey;size:36"`
	VehicleID string `gorm:"index;size:36;not null"`
	UserID    string `gorm:"index;size:36;not null"`
	GroupID   string `gorm:"index;size:36;not null"`

	StartTime time.Time `gorm:"index;not null"`
	EndTime   time.Time `gorm:"index;not null"`
	Status    Status    `gorm:"type:varchar(16);index;not null"`

	Purpose     string      `gorm:"size:500"`
	PurposeType PurposeType `gorm:"type:varchar(16);not null;default:'other'"`
	Destination string      `gorm:"size:255"`

	EstimatedDistance float64 `gorm:"not null;default:0"` // km
	ActualDistance    float64 `gorm:"not null;default:0"` // km, set at check-out
	EnergyUsedPct     int     `gorm:"not null;default:0"` // battery points consumed, set at check-out

	PriorityScore int   `gorm:"not null;default:0"` // 0-100
	CostCents     int64 `gorm:"not null;default:0"` // set at check-out
	AutoConfirmed bool  `gorm:"not null;default:false"`

	CancelReason string `gorm:"size:255"`

	// Snapshots captured by the check-in/check-out handler.
	CheckInOdometer  *float64
	CheckOutOdometer *float64
	CheckInBattery   *int
	CheckOutBattery  *int

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Overlaps reports whether the booking window intersects [start, end) using
// half-open interval semantics: [a1,a2) and [b1,b2) overlap iff
// a1 < b2 && b1 < a2.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && start.Before(b.EndTime)
}

// ConflictType classifies a detected violation.
type ConflictType string

const (
	ConflictTimeOverlap        ConflictType = "time_overlap"
	ConflictVehicleUnavailable ConflictType = "vehicle_unavailable"
	ConflictQuotaExceeded      ConflictType = "quota_exceeded"
	ConflictMaintenance        ConflictType = "maintenance"
	ConflictGroupRestriction   ConflictType = "group_restriction"
)

// ConflictStatus is the resolution state of a Conflict record.
type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

// Conflict links one or two bookings to a detected violation. Created by the
// detector, mutated only by resolution (manual or the stale sweep).
type Conflict struct {
	ID             string         `gorm:"primaryKey;size:36"`
	BookingID      string         `gorm:"index;size:36;not null"`
	OtherBookingID string         `gorm:"index;size:36"` // set for time_overlap
	Type           ConflictType   `gorm:"type:varchar(24);not null"`
	Status         ConflictStatus `gorm:"type:varchar(16);index;not null"`
	ResolvedBy     string         `gorm:"size:36"`
	Resolution     string         `gorm:"size:255"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index"`
	ResolvedAt     *time.Time
}

// CheckAction distinguishes pickup from return records.
type CheckAction string

const (
	ActionCheckIn  CheckAction = "check_in"
	ActionCheckOut CheckAction = "check_out"
)

// CheckLog is the append-only pickup/return record. At most one row exists
// per (booking, action).
type CheckLog struct {
	ID          string      `gorm:"primaryKey;size:36"`
	BookingID   string      `gorm:"size:36;not null;uniqueIndex:uniq_booking_action"`
	Action      CheckAction `gorm:"type:varchar(12);not null;uniqueIndex:uniq_booking_action"`
	Odometer    float64     `gorm:"not null"`
	BatteryPct  int         `gorm:"not null"`
	Notes       string      `gorm:"size:500"`
	Latitude    *float64
	Longitude   *float64
	PerformedBy string    `gorm:"size:36;not null"`
	Signature   string    `gorm:"size:128"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// Actor identifies the caller of an engine operation. Internal actors
// (background jobs, warmup) bypass permission checks and carry no ownership
// semantics.
type Actor struct {
	UserID   string
	Roles    []string
	Internal bool
}

// Elevated reports whether the actor may act on bookings it does not own and
// skip the check-in time-window and odometer-monotonicity checks.
func (a Actor) Elevated() bool {
	if a.Internal {
		return true
	}
	for _, r := range a.Roles {
		if r == "admin" || r == "staff" {
			return true
		}
	}
	return false
}

// SystemActor is the internal caller used by background jobs.
func SystemActor() Actor {
	return Actor{Internal: true}
}
