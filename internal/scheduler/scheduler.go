package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/booking"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
)

// warmupHorizon is how far ahead the availability warmup precomputes.
const warmupHorizon = 7 * 24 * time.Hour

// jobTimeout bounds one job run; it must stay below the lock TTL so a slow
// run cannot outlive its lock.
const jobTimeout = 5 * time.Minute

// releaseTimeout bounds the lock release, which runs on its own context
// because the job context may already be spent.
const releaseTimeout = 5 * time.Second

// Scheduler runs the engine's periodic jobs on cron schedules. Every job is
// guarded by a TTL-bound distributed lock so that exactly one instance runs
// it; losing the lock race is a silent skip.
type Scheduler struct {
	cron       *cron.Cron
	store      booking.Store
	detector   *booking.Detector
	avail      *booking.AvailabilityIndex
	publisher  booking.EventPublisher
	locker     booking.Locker
	clock      booking.Clock
	cfg        config.JobsConfig
	log        logger.Logger
	instanceID string
}

func New(
	store booking.Store,
	detector *booking.Detector,
	avail *booking.AvailabilityIndex,
	publisher booking.EventPublisher,
	locker booking.Locker,
	clock booking.Clock,
	cfg config.JobsConfig,
	log logger.Logger,
) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		store:      store,
		detector:   detector,
		avail:      avail,
		publisher:  publisher,
		locker:     locker,
		clock:      clock,
		cfg:        cfg,
		log:        log,
		instanceID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"booking-reminders", s.cfg.ReminderSpec, s.runReminders},
		{"stale-conflict-sweep", s.cfg.SweepSpec, s.runSweep},
		{"availability-warmup", s.cfg.WarmupSpec, s.runWarmup},
		{"booking-retention", s.cfg.RetentionSpec, s.runRetention},
	}

	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runLocked(j.name, j.run) }); err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", j.name, err)
		}
	}

	s.cron.Start()
	s.log.Infof("scheduler started, instance %s", s.instanceID)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// runLocked takes the job's distributed lock, runs fn under a bounded
// context, and releases the lock. Another instance holding the lock means
// skip, not error.
func (s *Scheduler) runLocked(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	key := "lock:job:" + name
	ok, err := s.locker.Acquire(ctx, key, s.instanceID, s.cfg.LockTTL)
	if err != nil {
		s.log.Errorf("job %s: lock acquire failed: %v", name, err)
		return
	}
	if !ok {
		s.log.Debugf("job %s: lock held elsewhere, skipping", name)
		return
	}
	defer func() {
		relCtx, relCancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer relCancel()
		if err := s.locker.Release(relCtx, key, s.instanceID); err != nil {
			s.log.Warnf("job %s: lock release failed: %v", name, err)
		}
	}()

	start := s.clock.Now()
	if err := fn(ctx); err != nil {
		s.log.Errorf("job %s failed after %s: %v", name, s.clock.Now().Sub(start), err)
		return
	}
	s.log.WithFields(map[string]interface{}{
		"job":      name,
		"duration": s.clock.Now().Sub(start).String(),
	}).Info("job completed")
}

// runReminders publishes a reminder for every confirmed booking starting
// within the lead window.
func (s *Scheduler) runReminders(ctx context.Context) error {
	now := s.clock.Now()
	upcoming, err := s.store.ListStartingBetween(ctx, now, now.Add(s.cfg.ReminderLead), booking.StatusConfirmed)
	if err != nil {
		return err
	}
	for i := range upcoming {
		b := &upcoming[i]
		_ = s.publisher.Publish(ctx, booking.Event{
			Type:      booking.EventBookingReminder,
			BookingID: b.ID,
			VehicleID: b.VehicleID,
			GroupID:   b.GroupID,
			UserID:    b.UserID,
			Detail:    fmt.Sprintf("booking starts at %s", b.StartTime.Format(time.RFC3339)),
			At:        now,
		})
	}
	if len(upcoming) > 0 {
		s.log.Infof("sent %d booking reminder(s)", len(upcoming))
	}
	return nil
}

// runSweep auto-resolves conflicts that stayed unresolved past the age
// threshold.
func (s *Scheduler) runSweep(ctx context.Context) error {
	n, err := s.detector.ResolveStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Infof("auto-resolved %d stale conflict(s)", n)
	}
	return nil
}

// runWarmup precomputes the availability cache for every vehicle with active
// bookings.
func (s *Scheduler) runWarmup(ctx context.Context) error {
	ids, err := s.store.ListActiveVehicleIDs(ctx)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, id := range ids {
		if err := s.avail.Warm(ctx, id, now, now.Add(warmupHorizon)); err != nil {
			s.log.Warnf("warmup failed for vehicle %s: %v", id, err)
		}
	}
	return nil
}

// runRetention deletes terminal bookings older than the retention age,
// including their check logs and conflicts.
func (s *Scheduler) runRetention(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.RetentionAge)
	old, err := s.store.ListEndedBefore(ctx, cutoff, []booking.Status{booking.StatusCompleted, booking.StatusCancelled})
	if err != nil {
		return err
	}
	deleted := 0
	for i := range old {
		id := old[i].ID
		err := s.store.WithTx(ctx, func(tx booking.Store) error {
			return tx.DeleteBookingCascade(ctx, id)
		})
		if err != nil {
			s.log.Errorf("retention delete failed for booking %s: %v", id, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Infof("retention removed %d old booking(s)", deleted)
	}
	return nil
}
