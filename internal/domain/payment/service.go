package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"innkeeper/internal/database"
	"innkeeper/internal/events"
	"innkeeper/internal/pkg/reference"
)

// Service owns the payment state machine. Methods that take a tx join the
// caller's transaction; the others open their own via database.RunInTx and
// publish events after commit.
type Service struct {
	db        *gorm.DB
	refs      reference.Allocator
	publisher events.Publisher
	log       logrus.FieldLogger
	attempts  int
	now       func() time.Time
}

func NewService(db *gorm.DB, refs reference.Allocator, publisher events.Publisher, log logrus.FieldLogger, attempts int) *Service {
	return &Service{
		db:        db,
		refs:      refs,
		publisher: publisher,
		log:       log,
		attempts:  attempts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type RefundParams struct {
	PaymentID int64
	// Amount nil means the whole refundable remainder.
	Amount  *int64
	Reason  string
	ActorID *int64
}

// CanRefund reports whether p has been paid and still has money to return.
func CanRefund(p *Payment) bool {
	return (p.Status == StatusCompleted || p.Status == StatusPartiallyRefunded) && p.RefundedAmount < p.Amount
}

// Create inserts a pending payment with a fresh daily reference.
func (s *Service) Create(ctx context.Context, tx *gorm.DB, bookingID int64, amount int64) (*Payment, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	ref, err := s.refs.Next(ctx, tx, ReferencePrefix, s.now())
	if err != nil {
		return nil, fmt.Errorf("allocate payment reference: %w", err)
	}
	p := NewPayment(bookingID, ref, amount)
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	return find(s.db.WithContext(ctx), id, false)
}

func (s *Service) ListForBooking(ctx context.Context, tx *gorm.DB, bookingID int64) ([]Payment, error) {
	var out []Payment
	err := tx.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id asc").Find(&out).Error
	return out, err
}

func (s *Service) ListRefunds(ctx context.Context, paymentID int64) ([]Refund, error) {
	if _, err := s.Get(ctx, paymentID); err != nil {
		return nil, err
	}
	var out []Refund
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id asc").Find(&out).Error
	return out, err
}

// MarkCompleted records the gateway's confirmation. paid_at is written only
// once; repeating the call with the same transaction id returns the payment
// unchanged.
func (s *Service) MarkCompleted(ctx context.Context, id int64, transactionID string, details json.RawMessage) (*Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	var (
		out     *Payment
		changed bool
	)
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		p, err := find(tx, id, true)
		if err != nil {
			return err
		}

		if p.PaidAt != nil && p.Status != StatusPending {
			if transactionID == "" || transactionID == p.TransactionID {
				out, changed = p, false
				return nil
			}
			return fmt.Errorf("%w: already completed with another transaction", ErrInvalidStatusTransition)
		}
		if !p.Status.CanTransitionTo(StatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, p.Status, StatusCompleted)
		}

		updates := map[string]any{
			"status":         StatusCompleted,
			"transaction_id": transactionID,
		}
		if len(details) > 0 {
			updates["gateway_details"] = datatypes.JSON(details)
		}
		if p.PaidAt == nil {
			updates["paid_at"] = s.now()
		}
		if err := casUpdate(tx, p, updates); err != nil {
			return err
		}
		out, err = find(tx, id, false)
		changed = true
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		events.PublishAll(ctx, s.publisher, s.log, events.New(events.TypePaymentCompleted, out.BookingID, out))
	}
	return out, nil
}

func (s *Service) MarkFailed(ctx context.Context, id int64, reason string) (*Payment, error) {
	reason = strings.TrimSpace(reason)
	return s.closePending(ctx, id, StatusFailed, events.TypePaymentFailed, map[string]any{"failure_reason": reason})
}

func (s *Service) Cancel(ctx context.Context, id int64) (*Payment, error) {
	return s.closePending(ctx, id, StatusCancelled, events.TypePaymentCancelled, map[string]any{})
}

// CancelTx cancels a pending payment inside tx.
func (s *Service) CancelTx(ctx context.Context, tx *gorm.DB, id int64) (*Payment, error) {
	return transition(tx.WithContext(ctx), id, StatusCancelled, map[string]any{})
}

func (s *Service) closePending(ctx context.Context, id int64, to Status, eventType string, updates map[string]any) (*Payment, error) {
	var out *Payment
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		var err error
		out, err = transition(tx, id, to, updates)
		return err
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(ctx, s.publisher, s.log, events.New(eventType, out.BookingID, out))
	return out, nil
}

func transition(tx *gorm.DB, id int64, to Status, updates map[string]any) (*Payment, error) {
	p, err := find(tx, id, true)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, p.Status, to)
	}
	updates["status"] = to
	if err := casUpdate(tx, p, updates); err != nil {
		return nil, err
	}
	return find(tx, id, false)
}

// ProcessRefund adds a refund to a completed or partially refunded payment
// inside tx. The write is a compare-and-set on version, status and
// refunded_amount; losing a race yields database.ErrConcurrencyConflict so
// RunInTx re-reads and retries.
func (s *Service) ProcessRefund(ctx context.Context, tx *gorm.DB, params RefundParams) (*Payment, *Refund, error) {
	tx = tx.WithContext(ctx)
	p, err := find(tx, params.PaymentID, true)
	if err != nil {
		return nil, nil, err
	}
	if !CanRefund(p) {
		return nil, nil, ErrNotRefundable
	}

	amount := p.Refundable()
	if params.Amount != nil {
		amount = *params.Amount
	}
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if amount > p.Refundable() {
		return nil, nil, fmt.Errorf("%w: requested %d, refundable %d", ErrRefundExceedsRefundable, amount, p.Refundable())
	}

	refunded := p.RefundedAmount + amount
	next := StatusPartiallyRefunded
	if refunded == p.Amount {
		next = StatusRefunded
	}
	now := s.now()

	res := tx.Model(&Payment{}).
		Where("id = ? AND version = ? AND status = ? AND refunded_amount = ?", p.ID, p.Version, p.Status, p.RefundedAmount).
		Updates(map[string]any{
			"refunded_amount": refunded,
			"status":          next,
			"refunded_at":     now,
			"version":         p.Version + 1,
		})
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil, database.ErrConcurrencyConflict
	}

	refund := &Refund{PaymentID: p.ID, Amount: amount, Reason: strings.TrimSpace(params.Reason), ActorID: params.ActorID}
	if err := tx.Create(refund).Error; err != nil {
		return nil, nil, fmt.Errorf("record refund: %w", err)
	}

	out, err := find(tx, p.ID, false)
	if err != nil {
		return nil, nil, err
	}
	return out, refund, nil
}

// Refund runs ProcessRefund in its own transaction.
func (s *Service) Refund(ctx context.Context, params RefundParams) (*Payment, error) {
	var out *Payment
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		var err error
		out, _, err = s.ProcessRefund(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"payment_id":      out.ID,
		"refunded_amount": out.RefundedAmount,
		"status":          out.Status,
	}).Info("payment refunded")
	events.PublishAll(ctx, s.publisher, s.log, events.New(events.TypePaymentRefunded, out.BookingID, out))
	return out, nil
}

// RefundableForBooking returns the oldest payment of the booking that can
// still be refunded, or nil.
func (s *Service) RefundableForBooking(ctx context.Context, tx *gorm.DB, bookingID int64) (*Payment, error) {
	return firstWithStatus(tx.WithContext(ctx).Where("refunded_amount < amount"), bookingID, StatusCompleted, StatusPartiallyRefunded)
}

// PendingForBooking returns the oldest pending payment of the booking, or nil.
func (s *Service) PendingForBooking(ctx context.Context, tx *gorm.DB, bookingID int64) (*Payment, error) {
	return firstWithStatus(tx.WithContext(ctx), bookingID, StatusPending)
}

// AdjustPending rewrites the amount of a payment that has not been paid yet.
func (s *Service) AdjustPending(ctx context.Context, tx *gorm.DB, id int64, amount int64) (*Payment, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	tx = tx.WithContext(ctx)
	p, err := find(tx, id, true)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot change amount of %s payment", ErrInvalidStatusTransition, p.Status)
	}
	if p.Amount == amount {
		return p, nil
	}
	if err := casUpdate(tx, p, map[string]any{"amount": amount}); err != nil {
		return nil, err
	}
	return find(tx, id, false)
}

func firstWithStatus(db *gorm.DB, bookingID int64, statuses ...Status) (*Payment, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	var p Payment
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ? AND status IN ?", bookingID, values).
		Order("id asc").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func casUpdate(tx *gorm.DB, p *Payment, updates map[string]any) error {
	updates["version"] = p.Version + 1
	res := tx.Model(&Payment{}).
		Where("id = ? AND version = ? AND status = ?", p.ID, p.Version, p.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return database.ErrConcurrencyConflict
	}
	return nil
}

func find(db *gorm.DB, id int64, lock bool) (*Payment, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p Payment
	if err := db.Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
