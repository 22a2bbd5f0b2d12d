package vehicle

import (
	"time"
)

// Status is the vehicle availability state (persisted as string).
type Status string

const (
	StatusAvailable   Status = "available"
	StatusInUse       Status = "in_use"
	StatusMaintenance Status = "maintenance"
	StatusOffline     Status = "offline"
)

// Vehicle is the GORM model of the vehicles table. The vehicle master data
// is owned by the fleet service; this engine reads it for availability and
// mutates status/odometer inside booking transactions.
type Vehicle struct {
	ID          string    `gorm:"primaryKey;size:36"`
	GroupID     string    `gorm:"index;size:36;not null"`
	PlateNumber string    `gorm:"uniqueIndex;size:32;not null"`
	VIN         string    `gorm:"size:64"`
	Model       string    `gorm:"size:64"`
	Status      Status    `gorm:"type:varchar(16);index;not null"`
	Odometer    float64   `gorm:"not null;default:0"` // km
	BatteryPct  int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}
