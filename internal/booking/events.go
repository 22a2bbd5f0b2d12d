package booking

import (
	"context"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
)

// LoggingPublisher is the default event sink: it writes each lifecycle event
// to the structured log. The notification service consumes these events from
// the log pipeline until a broker is wired in.
type LoggingPublisher struct {
	log logger.Logger
}

func NewLoggingPublisher(log logger.Logger) *LoggingPublisher {
	return &LoggingPublisher{log: log}
}

func (p *LoggingPublisher) Publish(ctx context.Context, e Event) error {
	p.log.WithFields(map[string]interface{}{
		"event":      string(e.Type),
		"booking_id": e.BookingID,
		"vehicle_id": e.VehicleID,
		"group_id":   e.GroupID,
		"user_id":    e.UserID,
		"detail":     e.Detail,
	}).Info("booking event")
	return nil
}

// RetryPublisher wraps a delegate with a small fixed retry budget. Events are
// best-effort: after the retries are spent the failure is logged and dropped,
// never surfaced to the booking operation.
type RetryPublisher struct {
	delegate EventPublisher
	retries  int
	backoff  time.Duration
	log      logger.Logger
}

func NewRetryPublisher(delegate EventPublisher, retries int, backoff time.Duration, log logger.Logger) *RetryPublisher {
	if retries < 1 {
		retries = 1
	}
	return &RetryPublisher{delegate: delegate, retries: retries, backoff: backoff, log: log}
}

func (p *RetryPublisher) Publish(ctx context.Context, e Event) error {
	var err error
	for attempt := 0; attempt < p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				p.log.Warnf("event %s for booking %s dropped: %v", e.Type, e.BookingID, ctx.Err())
				return nil
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}
		if err = p.delegate.Publish(ctx, e); err == nil {
			return nil
		}
	}
	p.log.Errorf("event %s for booking %s dropped after %d attempts: %v", e.Type, e.BookingID, p.retries, err)
	return nil
}
