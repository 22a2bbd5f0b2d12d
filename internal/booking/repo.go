package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// GormStore is the MySQL-backed Store. Vehicle reads and writes go through
// the vehicle repository on the same connection so they join the booking
// transactions.
type GormStore struct {
	db       *gorm.DB
	vehicles *vehicle.Repo
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, vehicles: vehicle.NewRepo(db)}
}

// AutoMigrate creates/updates the engine's tables.
func (s *GormStore) AutoMigrate() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store db is nil")
	}
	return s.db.AutoMigrate(&Booking{}, &Conflict{}, &CheckLog{}, &vehicle.Vehicle{})
}

func (s *GormStore) withCtx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// WithTx runs fn in one database transaction. Read-committed or better is
// assumed from MySQL defaults.
func (s *GormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store db is nil")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, vehicles: vehicle.NewRepo(tx)})
	})
}

func (s *GormStore) CreateBooking(ctx context.Context, b *Booking) error {
	return s.withCtx(ctx).Create(b).Error
}

func (s *GormStore) SaveBooking(ctx context.Context, b *Booking) error {
	return s.withCtx(ctx).Save(b).Error
}

func (s *GormStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	var b Booking
	if err := s.withCtx(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "booking", ID: id}
		}
		return nil, err
	}
	return &b, nil
}

func (s *GormStore) ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time, statuses []Status) ([]Booking, error) {
	var out []Booking
	// Half-open overlap: existing.start < end AND existing.end > start.
	err := s.withCtx(ctx).
		Where("vehicle_id = ? AND status IN ? AND start_time < ? AND end_time > ?",
			vehicleID, statuses, end, start).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListByVehicleBetween(ctx context.Context, vehicleID string, from, to time.Time) ([]Booking, error) {
	var out []Booking
	err := s.withCtx(ctx).
		Where("vehicle_id = ? AND status <> ? AND start_time < ? AND end_time > ?",
			vehicleID, StatusCancelled, to, from).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListByGroupBetween(ctx context.Context, groupID string, from, to time.Time) ([]Booking, error) {
	var out []Booking
	err := s.withCtx(ctx).
		Where("group_id = ? AND status <> ? AND start_time < ? AND end_time > ?",
			groupID, StatusCancelled, to, from).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) CountUserBookingsStarting(ctx context.Context, userID string, from, to time.Time, statuses []Status) (int64, error) {
	var n int64
	err := s.withCtx(ctx).Model(&Booking{}).
		Where("user_id = ? AND status IN ? AND start_time >= ? AND start_time < ?",
			userID, statuses, from, to).
		Count(&n).Error
	return n, err
}

func (s *GormStore) CountUserActiveBookings(ctx context.Context, userID string, endsAfter time.Time, statuses []Status) (int64, error) {
	var n int64
	err := s.withCtx(ctx).Model(&Booking{}).
		Where("user_id = ? AND status IN ? AND end_time > ?", userID, statuses, endsAfter).
		Count(&n).Error
	return n, err
}

func (s *GormStore) SumUsageHours(ctx context.Context, userID, groupID string, since time.Time) (float64, error) {
	var seconds float64
	err := s.withCtx(ctx).Model(&Booking{}).
		Select("COALESCE(SUM(TIMESTAMPDIFF(SECOND, start_time, end_time)), 0)").
		Where("user_id = ? AND group_id = ? AND status = ? AND start_time >= ?",
			userID, groupID, StatusCompleted, since).
		Scan(&seconds).Error
	if err != nil {
		return 0, err
	}
	return seconds / 3600, nil
}

func (s *GormStore) ListStartingBetween(ctx context.Context, from, to time.Time, status Status) ([]Booking, error) {
	var out []Booking
	err := s.withCtx(ctx).
		Where("status = ? AND start_time >= ? AND start_time < ?", status, from, to).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListEndedBefore(ctx context.Context, cutoff time.Time, statuses []Status) ([]Booking, error) {
	var out []Booking
	err := s.withCtx(ctx).
		Where("status IN ? AND end_time < ?", statuses, cutoff).
		Order("end_time asc").
		Find(&out).Error
	return out, err
}

// DeleteBookingCascade removes the booking and its dependent rows. Dependent
// cleanup is explicit; no datastore-level cascades are assumed.
func (s *GormStore) DeleteBookingCascade(ctx context.Context, bookingID string) error {
	db := s.withCtx(ctx)
	if err := db.Where("booking_id = ?", bookingID).Delete(&CheckLog{}).Error; err != nil {
		return err
	}
	if err := db.Where("booking_id = ? OR other_booking_id = ?", bookingID, bookingID).Delete(&Conflict{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", bookingID).Delete(&Booking{}).Error
}

func (s *GormStore) ListActiveVehicleIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withCtx(ctx).Model(&Booking{}).
		Distinct("vehicle_id").
		Where("status IN ?", ActiveStatuses).
		Pluck("vehicle_id", &ids).Error
	return ids, err
}

func (s *GormStore) CreateConflict(ctx context.Context, c *Conflict) error {
	return s.withCtx(ctx).Create(c).Error
}

func (s *GormStore) SaveConflict(ctx context.Context, c *Conflict) error {
	return s.withCtx(ctx).Save(c).Error
}

func (s *GormStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	var c Conflict
	if err := s.withCtx(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "conflict", ID: id}
		}
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) ListUnresolvedByBooking(ctx context.Context, bookingID string) ([]Conflict, error) {
	var out []Conflict
	err := s.withCtx(ctx).
		Where("(booking_id = ? OR other_booking_id = ?) AND status = ?",
			bookingID, bookingID, ConflictUnresolved).
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListUnresolvedOlderThan(ctx context.Context, cutoff time.Time) ([]Conflict, error) {
	var out []Conflict
	err := s.withCtx(ctx).
		Where("status = ? AND created_at < ?", ConflictUnresolved, cutoff).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) CreateCheckLog(ctx context.Context, l *CheckLog) error {
	return s.withCtx(ctx).Create(l).Error
}

func (s *GormStore) GetCheckLog(ctx context.Context, bookingID string, action CheckAction) (*CheckLog, error) {
	var l CheckLog
	err := s.withCtx(ctx).
		Where("booking_id = ? AND action = ?", bookingID, action).
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "check log", ID: bookingID}
		}
		return nil, err
	}
	return &l, nil
}

func (s *GormStore) GetVehicle(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	v, err := s.vehicles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "vehicle", ID: id}
		}
		return nil, err
	}
	return v, nil
}

func (s *GormStore) SetVehicleState(ctx context.Context, id string, status vehicle.Status, odometer float64) error {
	return s.vehicles.SetState(ctx, id, status, odometer)
}
