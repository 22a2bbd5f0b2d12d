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

// Service is the booking lifecycle manager. It owns the state machine and
// composes validation, scoring, availability, and conflict detection into
// transactional operations.
//
// Persistence-affecting steps run inside one transaction. Cache
// invalidation, conflict detection, and event publication are post-commit
// effects: each is independently caught and logged, and a failing effect
// never rolls back a committed booking write.
type Service struct {
	store     Store
	validator *Validator
	scorer    *Scorer
	avail     *AvailabilityIndex
	detector  *Detector
	publisher EventPublisher
	clock     Clock
	cfg       config.BookingConfig
	log       logger.Logger
}

func NewService(
	store Store,
	validator *Validator,
	scorer *Scorer,
	avail *AvailabilityIndex,
	detector *Detector,
	publisher EventPublisher,
	clock Clock,
	cfg config.BookingConfig,
	log logger.Logger,
) *Service {
	return &Service{
		store:     store,
		validator: validator,
		scorer:    scorer,
		avail:     avail,
		detector:  detector,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}
}

// CreateBookingInput carries the raw fields of a booking request.
type CreateBookingInput struct {
	VehicleID         string
	GroupID           string
	StartTime         time.Time
	EndTime           time.Time
	Purpose           string
	PurposeType       PurposeType
	Destination       string
	EstimatedDistance float64
}

// UpdateBookingInput carries the changeable fields; nil means unchanged.
type UpdateBookingInput struct {
	StartTime         *time.Time
	EndTime           *time.Time
	Purpose           *string
	Destination       *string
	EstimatedDistance *float64
}

type effect struct {
	name string
	fn   func(ctx context.Context)
}

// runEffects executes the post-commit side effects in order. Each effect is
// recovered and logged on its own; none may re-enter the transaction.
func (s *Service) runEffects(ctx context.Context, bookingID string, effects []effect) {
	for _, e := range effects {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Errorf("post-commit effect %s panicked for booking %s: %v", e.name, bookingID, r)
				}
			}()
			e.fn(ctx)
		}()
	}
}

// Create validates, scores, and persists a new booking. A score at or above
// the auto-confirm threshold confirms immediately; otherwise the booking
// queues as pending. Conflict detection, cache invalidation, and eventing
// run after commit.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateBookingInput) (*Booking, error) {
	if actor.UserID == "" {
		return nil, &PermissionError{Reason: "caller identity required"}
	}

	now := s.clock.Now()
	b := &Booking{
		ID:                uuid.NewString(),
		VehicleID:         in.VehicleID,
		UserID:            actor.UserID,
		GroupID:           in.GroupID,
		StartTime:         in.StartTime,
		EndTime:           in.EndTime,
		Purpose:           in.Purpose,
		PurposeType:       normalizePurpose(in.PurposeType),
		Destination:       in.Destination,
		EstimatedDistance: in.EstimatedDistance,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.validator.ValidateFields(b); err != nil {
		return nil, err
	}
	if err := s.validator.CheckQuota(ctx, actor.UserID); err != nil {
		return nil, err
	}

	b.PriorityScore = s.scorer.Score(ctx, b.UserID, b.GroupID, b.StartTime, b.PurposeType)
	if b.PriorityScore >= s.cfg.AutoConfirmScore {
		b.Status = StatusConfirmed
		b.AutoConfirmed = true
	}

	if err := s.store.WithTx(ctx, func(tx Store) error {
		return tx.CreateBooking(ctx, b)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	s.runEffects(ctx, b.ID, []effect{
		{"conflict-detection", func(ctx context.Context) {
			if _, err := s.detector.Detect(ctx, b.ID); err != nil {
				s.log.Warnf("post-commit conflict detection failed for booking %s: %v", b.ID, err)
			}
		}},
		{"cache-invalidation", func(ctx context.Context) {
			s.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
		}},
		{"event", func(ctx context.Context) {
			evType := EventBookingCreated
			if b.AutoConfirmed {
				evType = EventBookingConfirmed
			}
			_ = s.publisher.Publish(ctx, s.event(evType, b, fmt.Sprintf("priority score %d", b.PriorityScore)))
		}},
	})

	return b, nil
}

// Update re-validates the changed fields and, when the window moved,
// re-checks availability before committing.
func (s *Service) Update(ctx context.Context, actor Actor, bookingID string, in UpdateBookingInput) (*Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, b); err != nil {
		return nil, err
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return nil, &StateError{Op: "update", Status: b.Status}
	}

	timeChanged := false
	if in.StartTime != nil && !in.StartTime.Equal(b.StartTime) {
		b.StartTime = *in.StartTime
		timeChanged = true
	}
	if in.EndTime != nil && !in.EndTime.Equal(b.EndTime) {
		b.EndTime = *in.EndTime
		timeChanged = true
	}
	if in.Purpose != nil {
		b.Purpose = *in.Purpose
	}
	if in.Destination != nil {
		b.Destination = *in.Destination
	}
	if in.EstimatedDistance != nil {
		b.EstimatedDistance = *in.EstimatedDistance
	}

	if err := s.validator.ValidateFields(b); err != nil {
		return nil, err
	}
	if timeChanged {
		if err := s.checkWindowFree(ctx, b, b.StartTime, b.EndTime); err != nil {
			return nil, err
		}
	}

	b.UpdatedAt = s.clock.Now()
	if err := s.store.WithTx(ctx, func(tx Store) error {
		return tx.SaveBooking(ctx, b)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	effects := []effect{
		{"cache-invalidation", func(ctx context.Context) {
			s.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
		}},
		{"event", func(ctx context.Context) {
			_ = s.publisher.Publish(ctx, s.event(EventBookingUpdated, b, ""))
		}},
	}
	if timeChanged {
		effects = append([]effect{{"conflict-detection", func(ctx context.Context) {
			if _, err := s.detector.Detect(ctx, b.ID); err != nil {
				s.log.Warnf("post-commit conflict detection failed for booking %s: %v", b.ID, err)
			}
		}}}, effects...)
	}
	s.runEffects(ctx, b.ID, effects)

	return b, nil
}

// Cancel marks a pending or confirmed booking cancelled and bulk-resolves
// every unresolved conflict that references it.
func (s *Service) Cancel(ctx context.Context, actor Actor, bookingID, reason string) (*Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, b); err != nil {
		return nil, err
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return nil, &StateError{Op: "cancel", Status: b.Status}
	}

	now := s.clock.Now()
	if err := s.store.WithTx(ctx, func(tx Store) error {
		if err := b.ApplyTransition(StatusCancelled, now); err != nil {
			return err
		}
		b.CancelReason = reason
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}

		conflicts, err := tx.ListUnresolvedByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		for i := range conflicts {
			c := conflicts[i]
			c.Status = ConflictResolved
			c.ResolvedBy = resolverID(actor)
			c.Resolution = fmt.Sprintf("booking %s cancelled", b.ID)
			t := now
			c.ResolvedAt = &t
			if err := tx.SaveConflict(ctx, &c); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	s.runEffects(ctx, b.ID, []effect{
		{"cache-invalidation", func(ctx context.Context) {
			s.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
		}},
		{"event", func(ctx context.Context) {
			_ = s.publisher.Publish(ctx, s.event(EventBookingCancelled, b, reason))
		}},
	})

	return b, nil
}

// Extend pushes the end time of an in-progress booking by at most the
// configured cap, provided the delta window is free.
func (s *Service) Extend(ctx context.Context, actor Actor, bookingID string, newEnd time.Time) (*Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, b); err != nil {
		return nil, err
	}
	if b.Status != StatusInProgress {
		return nil, &StateError{Op: "extend", Status: b.Status}
	}
	if !newEnd.After(b.EndTime) {
		return nil, &ValidationError{Violations: []string{"new end time must be after the current end time"}}
	}
	if newEnd.Sub(b.EndTime) > s.cfg.MaxExtension {
		return nil, &ValidationError{Violations: []string{
			fmt.Sprintf("extension must not exceed %s", s.cfg.MaxExtension),
		}}
	}

	// Only the delta window needs to be free.
	if err := s.checkWindowFree(ctx, b, b.EndTime, newEnd); err != nil {
		return nil, err
	}

	b.EndTime = newEnd
	b.UpdatedAt = s.clock.Now()
	if err := s.store.WithTx(ctx, func(tx Store) error {
		return tx.SaveBooking(ctx, b)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	s.runEffects(ctx, b.ID, []effect{
		{"cache-invalidation", func(ctx context.Context) {
			s.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
		}},
		{"event", func(ctx context.Context) {
			_ = s.publisher.Publish(ctx, s.event(EventBookingUpdated, b, "extended"))
		}},
	})

	return b, nil
}

// Confirm manually confirms a pending or conflict-flagged booking. Staff
// only; the window must still be free.
func (s *Service) Confirm(ctx context.Context, actor Actor, bookingID string) (*Booking, error) {
	if !actor.Elevated() {
		return nil, &PermissionError{Reason: "manual confirmation requires an elevated role"}
	}
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPending && b.Status != StatusConflict {
		return nil, &StateError{Op: "confirm", Status: b.Status}
	}

	if err := s.checkWindowFree(ctx, b, b.StartTime, b.EndTime); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.store.WithTx(ctx, func(tx Store) error {
		if err := b.ApplyTransition(StatusConfirmed, now); err != nil {
			return err
		}
		return tx.SaveBooking(ctx, b)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	s.runEffects(ctx, b.ID, []effect{
		{"cache-invalidation", func(ctx context.Context) {
			s.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
		}},
		{"event", func(ctx context.Context) {
			_ = s.publisher.Publish(ctx, s.event(EventBookingConfirmed, b, "manually confirmed"))
		}},
	})

	return b, nil
}

// ResolveConflict manually resolves one conflict: the referenced booking is
// either restored to confirmed or cancelled.
func (s *Service) ResolveConflict(ctx context.Context, actor Actor, conflictID string, cancelBooking bool, note string) (*Conflict, error) {
	if !actor.Elevated() {
		return nil, &PermissionError{Reason: "conflict resolution requires an elevated role"}
	}

	c, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status == ConflictResolved {
		return nil, &StateError{Op: "resolve", Status: Status(c.Status)}
	}

	now := s.clock.Now()
	var b *Booking
	if err := s.store.WithTx(ctx, func(tx Store) error {
		b, err = tx.GetBooking(ctx, c.BookingID)
		if err != nil {
			return err
		}
		if b.Status == StatusConflict {
			target := StatusConfirmed
			if cancelBooking {
				target = StatusCancelled
			}
			if err := b.ApplyTransition(target, now); err != nil {
				return err
			}
			if cancelBooking {
				b.CancelReason = note
			}
			if err := tx.SaveBooking(ctx, b); err != nil {
				return err
			}
		}

		c.Status = ConflictResolved
		c.ResolvedBy = resolverID(actor)
		c.Resolution = note
		t := now
		c.ResolvedAt = &t
		return tx.SaveConflict(ctx, c)
	}); err != nil {
		return nil, wrapDep("store", err)
	}

	s.runEffects(ctx, c.BookingID, []effect{
		{"cache-invalidation", func(ctx context.Context) {
			if b != nil {
				s.avail.Invalidate(ctx, b.VehicleID, b.GroupID)
			}
		}},
		{"event", func(ctx context.Context) {
			_ = s.publisher.Publish(ctx, Event{
				Type:      EventConflictResolved,
				BookingID: c.BookingID,
				Detail:    note,
				At:        now,
			})
		}},
	})

	return c, nil
}

// Get loads one booking.
func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// checkWindowFree surfaces a ConflictError when another active booking holds
// any part of [start, end) on the booking's vehicle, or the vehicle is not
// available.
func (s *Service) checkWindowFree(ctx context.Context, b *Booking, start, end time.Time) error {
	v, err := s.store.GetVehicle(ctx, b.VehicleID)
	if err != nil {
		return err
	}
	if v.Status != vehicle.StatusAvailable && !(b.Status == StatusInProgress && v.Status == vehicle.StatusInUse) {
		return &ConflictError{Reason: fmt.Sprintf("vehicle is %s", v.Status)}
	}

	overlapping, err := s.store.ListOverlapping(ctx, b.VehicleID, start, end, ActiveStatuses)
	if err != nil {
		return wrapDep("store", err)
	}
	for i := range overlapping {
		if overlapping[i].ID == b.ID {
			continue
		}
		return &ConflictError{
			Reason:               "overlapping booking",
			ConflictingBookingID: overlapping[i].ID,
		}
	}
	return nil
}

func (s *Service) authorize(actor Actor, b *Booking) error {
	if actor.Elevated() || actor.UserID == b.UserID {
		return nil
	}
	return &PermissionError{Reason: "caller is not the booking owner"}
}

func (s *Service) event(t EventType, b *Booking, detail string) Event {
	return Event{
		Type:      t,
		BookingID: b.ID,
		VehicleID: b.VehicleID,
		GroupID:   b.GroupID,
		UserID:    b.UserID,
		Detail:    detail,
		At:        s.clock.Now(),
	}
}

func resolverID(actor Actor) string {
	if actor.Internal {
		return "system"
	}
	return actor.UserID
}

func normalizePurpose(p PurposeType) PurposeType {
	if _, ok := purposeWeights[p]; ok {
		return p
	}
	return PurposeOther
}
