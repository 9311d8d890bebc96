// Package events publishes domain events after the owning transaction commits.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TypeBookingCreated       = "booking.created"
	TypeBookingArchived      = "booking.archived"
	TypeBookingRoomModified  = "booking_room.modified"
	TypeBookingRoomCancelled = "booking_room.cancelled"
	TypeBookingRoomStay      = "booking_room.stay_updated"
	TypePaymentCompleted     = "payment.completed"
	TypePaymentFailed        = "payment.failed"
	TypePaymentCancelled     = "payment.cancelled"
	TypePaymentRefunded      = "payment.refunded"
	TypeHistoryRecorded      = "history.recorded"
)

type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	BookingID  int64     `json:"booking_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

func New(eventType string, bookingID int64, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		BookingID:  bookingID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// PublishAll sends evts in order and logs failures instead of returning them:
// the state change they describe is already committed.
func PublishAll(ctx context.Context, pub Publisher, log logrus.FieldLogger, evts ...Event) {
	if pub == nil {
		return
	}
	for _, evt := range evts {
		if err := pub.Publish(ctx, evt); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"event_type": evt.Type,
				"event_id":   evt.ID.String(),
				"booking_id": evt.BookingID,
			}).Warn("event publish failed")
		}
	}
}

// Noop drops every event. It stands in when no broker is configured or the
// broker was unreachable at startup.
type Noop struct {
	log logrus.FieldLogger
}

func NewNoop(log logrus.FieldLogger) *Noop {
	return &Noop{log: log}
}

func (n *Noop) Publish(_ context.Context, evt Event) error {
	if n.log != nil {
		n.log.WithField("event_type", evt.Type).Debug("event publish skipped")
	}
	return nil
}

func (n *Noop) Close() error { return nil }

// Multi fans an event out to several publishers. Every publisher is tried
// even if an earlier one fails.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
