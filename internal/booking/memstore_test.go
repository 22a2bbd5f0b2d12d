package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

// memStore is the in-memory Store used by the package tests. Transactions
// are not rolled back; tests that exercise failure paths inject errors
// before any write happens.
type memStore struct {
	mu        sync.Mutex
	bookings  map[string]*Booking
	conflicts map[string]*Conflict
	checkLogs map[string]*CheckLog // key bookingID + "/" + action
	vehicles  map[string]*vehicle.Vehicle

	failNext map[string]error // method name -> error to return once
}

func newMemStore() *memStore {
	return &memStore{
		bookings:  make(map[string]*Booking),
		conflicts: make(map[string]*Conflict),
		checkLogs: make(map[string]*CheckLog),
		vehicles:  make(map[string]*vehicle.Vehicle),
		failNext:  make(map[string]error),
	}
}

func (m *memStore) fail(method string, err error) { m.failNext[method] = err }

func (m *memStore) takeErr(method string) error {
	if err, ok := m.failNext[method]; ok {
		delete(m.failNext, method)
		return err
	}
	return nil
}

func (m *memStore) addVehicle(v *vehicle.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vehicles[v.ID] = &cp
}

func (m *memStore) addBooking(b *Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
}

func (m *memStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if err := m.takeErr("WithTx"); err != nil {
		return err
	}
	return fn(m)
}

func (m *memStore) CreateBooking(ctx context.Context, b *Booking) error {
	if err := m.takeErr("CreateBooking"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return errors.New("duplicate booking id")
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) SaveBooking(ctx context.Context, b *Booking) error {
	if err := m.takeErr("SaveBooking"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	if err := m.takeErr("GetBooking"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, &NotFoundError{Entity: "booking", ID: id}
	}
	cp := *b
	return &cp, nil
}

func statusIn(s Status, statuses []Status) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func (m *memStore) ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time, statuses []Status) ([]Booking, error) {
	if err := m.takeErr("ListOverlapping"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.VehicleID == vehicleID && statusIn(b.Status, statuses) && b.Overlaps(start, end) {
			out = append(out, *b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *memStore) ListByVehicleBetween(ctx context.Context, vehicleID string, from, to time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.VehicleID == vehicleID && b.Status != StatusCancelled && b.Overlaps(from, to) {
			out = append(out, *b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *memStore) ListByGroupBetween(ctx context.Context, groupID string, from, to time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.GroupID == groupID && b.Status != StatusCancelled && b.Overlaps(from, to) {
			out = append(out, *b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *memStore) CountUserBookingsStarting(ctx context.Context, userID string, from, to time.Time, statuses []Status) (int64, error) {
	if err := m.takeErr("CountUserBookingsStarting"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bookings {
		if b.UserID == userID && statusIn(b.Status, statuses) &&
			!b.StartTime.Before(from) && b.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountUserActiveBookings(ctx context.Context, userID string, endsAfter time.Time, statuses []Status) (int64, error) {
	if err := m.takeErr("CountUserActiveBookings"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bookings {
		if b.UserID == userID && statusIn(b.Status, statuses) && b.EndTime.After(endsAfter) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SumUsageHours(ctx context.Context, userID, groupID string, since time.Time) (float64, error) {
	if err := m.takeErr("SumUsageHours"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var hours float64
	for _, b := range m.bookings {
		if b.UserID == userID && b.GroupID == groupID && b.Status == StatusCompleted &&
			!b.StartTime.Before(since) {
			hours += b.EndTime.Sub(b.StartTime).Hours()
		}
	}
	return hours, nil
}

func (m *memStore) ListStartingBetween(ctx context.Context, from, to time.Time, status Status) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.Status == status && !b.StartTime.Before(from) && b.StartTime.Before(to) {
			out = append(out, *b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *memStore) ListEndedBefore(ctx context.Context, cutoff time.Time, statuses []Status) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if statusIn(b.Status, statuses) && b.EndTime.Before(cutoff) {
			out = append(out, *b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *memStore) DeleteBookingCascade(ctx context.Context, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, l := range m.checkLogs {
		if l.BookingID == bookingID {
			delete(m.checkLogs, k)
		}
	}
	for k, c := range m.conflicts {
		if c.BookingID == bookingID || c.OtherBookingID == bookingID {
			delete(m.conflicts, k)
		}
	}
	delete(m.bookings, bookingID)
	return nil
}

func (m *memStore) ListActiveVehicleIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, b := range m.bookings {
		if statusIn(b.Status, ActiveStatuses) {
			seen[b.VehicleID] = true
		}
	}
	var ids []string
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) CreateConflict(ctx context.Context, c *Conflict) error {
	if err := m.takeErr("CreateConflict"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *memStore) SaveConflict(ctx context.Context, c *Conflict) error {
	if err := m.takeErr("SaveConflict"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *memStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, &NotFoundError{Entity: "conflict", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListUnresolvedByBooking(ctx context.Context, bookingID string) ([]Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conflict
	for _, c := range m.conflicts {
		if (c.BookingID == bookingID || c.OtherBookingID == bookingID) && c.Status == ConflictUnresolved {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ListUnresolvedOlderThan(ctx context.Context, cutoff time.Time) ([]Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conflict
	for _, c := range m.conflicts {
		if c.Status == ConflictUnresolved && c.CreatedAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) CreateCheckLog(ctx context.Context, l *CheckLog) error {
	if err := m.takeErr("CreateCheckLog"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := l.BookingID + "/" + string(l.Action)
	if _, ok := m.checkLogs[key]; ok {
		return errors.New("duplicate check log")
	}
	cp := *l
	m.checkLogs[key] = &cp
	return nil
}

func (m *memStore) GetCheckLog(ctx context.Context, bookingID string, action CheckAction) (*CheckLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.checkLogs[bookingID+"/"+string(action)]
	if !ok {
		return nil, &NotFoundError{Entity: "check log", ID: bookingID}
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) GetVehicle(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	if err := m.takeErr("GetVehicle"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, &NotFoundError{Entity: "vehicle", ID: id}
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) SetVehicleState(ctx context.Context, id string, status vehicle.Status, odometer float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return &NotFoundError{Entity: "vehicle", ID: id}
	}
	v.Status = status
	v.Odometer = odometer
	return nil
}

func sortByStart(bs []Booking) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].StartTime.Before(bs[j].StartTime) })
}

// memMembership is a canned MembershipService.
type memMembership struct {
	ownership *Ownership
	rules     *GroupRules
	err       error
}

func (m *memMembership) Ownership(ctx context.Context, groupID, userID string) (*Ownership, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ownership, nil
}

func (m *memMembership) Rules(ctx context.Context, groupID string) (*GroupRules, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rules, nil
}

// capturePublisher records every published event.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) byType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
