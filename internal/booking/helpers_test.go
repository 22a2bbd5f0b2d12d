package booking

import (
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// testNow is the fixed wall clock for all package tests: a Monday, 10:00 UTC.
var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func testClock() Clock { return FixedClock{T: testNow} }

func testCfg() config.BookingConfig {
	return config.BookingConfig{
		MinDuration:       2 * time.Hour,
		MaxDuration:       24 * time.Hour,
		MaxAdvanceDays:    30,
		SameDayCutoff:     2 * time.Hour,
		MaxPurposeLen:     500,
		MaxBookingsPerDay: 3,
		MaxActiveBookings: 5,
		AutoConfirmScore:  80,
		MaxExtension:      2 * time.Hour,
		HourlyRateCents:   500,
		PerKmRateCents:    30,
		CacheTTL:          5 * time.Minute,
		StaleConflictAge:  24 * time.Hour,
	}
}

func testVehicle(id string) *vehicle.Vehicle {
	return &vehicle.Vehicle{
		ID:         id,
		GroupID:    "g1",
		Status:     vehicle.StatusAvailable,
		Odometer:   10000,
		BatteryPct: 90,
	}
}

// testBooking builds a valid confirmed booking starting tomorrow 09:00 for
// four hours. Mutate the result for specific cases.
func testBooking(id, vehicleID, userID string) *Booking {
	start := testNow.AddDate(0, 0, 1).Truncate(time.Hour).Add(-time.Hour) // tomorrow 09:00
	return &Booking{
		ID:          id,
		VehicleID:   vehicleID,
		UserID:      userID,
		GroupID:     "g1",
		StartTime:   start,
		EndTime:     start.Add(4 * time.Hour),
		Status:      StatusConfirmed,
		PurposeType: PurposePersonal,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
}

func nopLog() logger.Logger { return logger.Nop() }
