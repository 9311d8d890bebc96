package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"innkeeper/internal/database"
	"innkeeper/internal/domain/history"
	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/payment"
	"innkeeper/internal/domain/policy"
	"innkeeper/internal/events"
	"innkeeper/internal/pkg/reference"
	"innkeeper/internal/pkg/validator"
)

const maxRoomsPerBooking = 20

// Deps are the collaborators a Service composes.
type Deps struct {
	DB        *gorm.DB
	Ledger    *inventory.Ledger
	Policies  *policy.Service
	Payments  *payment.Service
	History   *history.Recorder
	Refs      reference.Allocator
	Publisher events.Publisher
	Log       logrus.FieldLogger
	Attempts  int
}

// Service runs every multi-entity booking operation as one retried
// transaction. Events are collected inside the transaction and published
// only after it commits.
type Service struct {
	db        *gorm.DB
	ledger    *inventory.Ledger
	policies  *policy.Service
	payments  *payment.Service
	history   *history.Recorder
	refs      reference.Allocator
	publisher events.Publisher
	log       logrus.FieldLogger
	attempts  int
	now       func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		db:        d.DB,
		ledger:    d.Ledger,
		policies:  d.Policies,
		payments:  d.Payments,
		history:   d.History,
		refs:      d.Refs,
		publisher: d.Publisher,
		log:       d.Log,
		attempts:  d.Attempts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type RoomRequest struct {
	RoomID    int64
	CheckIn   time.Time
	CheckOut  time.Time
	Quantity  int
	ExtraBeds int
}

type CreateBookingRequest struct {
	Rooms   []RoomRequest
	Guest   Guest
	ActorID *int64
	Source  history.Source
}

type ModifyRequest struct {
	BookingRoomID int64
	CheckIn       time.Time
	CheckOut      time.Time
	Quantity      int
	ExtraBeds     int
	ActorID       *int64
	Source        history.Source
}

type CancelRequest struct {
	BookingRoomID int64
	Reason        string
	ActorID       *int64
	Source        history.Source
}

type CancelResult struct {
	BookingRoom      *inventory.BookingRoom
	BookingStatus    Status
	Fee              int64
	Refunded         int64
	AlreadyCancelled bool
}

// StayRequest drives check-in, check-out and no-show.
type StayRequest struct {
	BookingRoomID   int64
	ActorID         *int64
	Source          history.Source
	SystemGenerated bool
}

type Quote struct {
	BookingRoomID int64                       `json:"booking_room_id"`
	Status        inventory.BookingRoomStatus `json:"status"`
	CanCancel     bool                        `json:"can_cancel"`
	FreeUntil     time.Time                   `json:"free_until"`
	Fee           int64                       `json:"fee"`
	Refund        int64                       `json:"refund"`
	Policy        policy.Policy               `json:"policy"`
}

// CreateBooking reserves every requested line, prices the booking, opens a
// pending payment for the grand total and writes the first history row. If
// any line cannot be reserved nothing is kept.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*Details, error) {
	rooms, err := validateCreate(req)
	if err != nil {
		return nil, err
	}
	prov := history.Provenance{Source: req.Source, ActorID: req.ActorID}

	var (
		out  *Details
		evts []events.Event
	)
	err = database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		evts = nil
		ref, err := s.refs.Next(ctx, tx, ReferencePrefix, s.now())
		if err != nil {
			return fmt.Errorf("allocate booking reference: %w", err)
		}
		b := NewBooking(ref, req.Guest, req.ActorID)
		if err := tx.WithContext(ctx).Create(b).Error; err != nil {
			return fmt.Errorf("create booking: %w", err)
		}

		// fixed lock order across concurrent multi-room bookings
		order := make([]int, len(rooms))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, c int) bool { return rooms[order[a]].RoomID < rooms[order[c]].RoomID })
		for _, i := range order {
			r := rooms[i]
			_, err := s.ledger.Reserve(ctx, tx, inventory.ReserveParams{
				BookingID: b.ID,
				RoomID:    r.RoomID,
				CheckIn:   r.CheckIn,
				CheckOut:  r.CheckOut,
				Quantity:  r.Quantity,
				ExtraBeds: r.ExtraBeds,
			})
			if err != nil {
				return roomRequestError(i, r.RoomID, err)
			}
		}

		lines, err := s.ledger.ListForBooking(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if err := s.saveTotals(ctx, tx, b, lines); err != nil {
			return err
		}

		p, err := s.payments.Create(ctx, tx, b.ID, b.GrandTotal)
		if err != nil {
			return err
		}

		entry, err := s.history.Record(ctx, tx, history.RecordParams{
			BookingID:  b.ID,
			Status:     string(StatusConfirmed),
			Comments:   "booking created",
			Metadata:   map[string]any{"booking_reference": b.BookingReference, "rooms": len(lines)},
			Provenance: prov,
		})
		if err != nil {
			return err
		}

		out = &Details{Booking: b, Rooms: lines, Payments: []payment.Payment{*p}}
		evts = append(evts, events.New(events.TypeBookingCreated, b.ID, b), history.Event(entry))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":        out.Booking.ID,
		"booking_reference": out.Booking.BookingReference,
		"grand_total":       out.Booking.GrandTotal,
		"source":            req.Source,
	}).Info("booking created")
	events.PublishAll(ctx, s.publisher, s.log, evts...)
	return out, nil
}

// ModifyBookingRoom moves a confirmed line to new dates or quantity, then
// reprices the booking and settles payments against the new total.
func (s *Service) ModifyBookingRoom(ctx context.Context, req ModifyRequest) (*Details, error) {
	if !req.Source.Valid() {
		return nil, validationError("source %q", req.Source)
	}
	if !validLine(req.Quantity, req.ExtraBeds) {
		return nil, validationError("quantity must be between 1 and %d, extra_beds between 0 and %d", inventory.MaxUnits, inventory.MaxExtraBeds)
	}
	if _, _, err := inventory.ValidateRange(req.CheckIn, req.CheckOut); err != nil {
		return nil, err
	}
	prov := history.Provenance{Source: req.Source, ActorID: req.ActorID}

	var (
		bookingID int64
		evts      []events.Event
	)
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		evts = nil
		b, row, err := s.lockLine(ctx, tx, req.BookingRoomID)
		if err != nil {
			return err
		}
		if b.ArchivedAt != nil {
			return ErrAlreadyArchived
		}
		bookingID = b.ID

		updated, err := s.ledger.Reschedule(ctx, tx, row.ID, inventory.RescheduleParams{
			CheckIn:   req.CheckIn,
			CheckOut:  req.CheckOut,
			Quantity:  req.Quantity,
			ExtraBeds: req.ExtraBeds,
		})
		if err != nil {
			return err
		}

		settled, err := s.refresh(ctx, tx, b, prov, "booking total changed")
		if err != nil {
			return err
		}

		entry, err := s.history.Record(ctx, tx, history.RecordParams{
			BookingID:     b.ID,
			BookingRoomID: &row.ID,
			Status:        string(b.Status),
			Comments:      "booking room modified",
			Metadata: map[string]any{
				"from": lineSnapshot(row),
				"to":   lineSnapshot(updated),
			},
			Provenance: prov,
		})
		if err != nil {
			return err
		}

		evts = append(evts, events.New(events.TypeBookingRoomModified, b.ID, updated))
		evts = append(evts, settled...)
		evts = append(evts, history.Event(entry))
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.PublishAll(ctx, s.publisher, s.log, evts...)
	return s.GetBooking(ctx, bookingID)
}

// CancelBookingRoom charges the policy fee, releases the line and refunds
// total minus fee, capped at what was paid beyond the amount still due.
// Cancelling an already cancelled line returns the original outcome and
// changes nothing.
func (s *Service) CancelBookingRoom(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	if !req.Source.Valid() {
		return nil, validationError("source %q", req.Source)
	}
	reason := strings.TrimSpace(req.Reason)
	prov := history.Provenance{Source: req.Source, ActorID: req.ActorID}

	var (
		out  *CancelResult
		evts []events.Event
	)
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		evts = nil
		now := s.now()
		b, row, err := s.lockLine(ctx, tx, req.BookingRoomID)
		if err != nil {
			return err
		}

		switch row.Status {
		case inventory.StatusCancelled:
			out = &CancelResult{
				BookingRoom:      row,
				BookingStatus:    b.Status,
				Fee:              row.CancellationFee,
				Refunded:         row.RefundedAmount,
				AlreadyCancelled: true,
			}
			return nil
		case inventory.StatusCheckedOut, inventory.StatusNoShow:
			return fmt.Errorf("%w: line is %s", ErrAlreadyCancelled, row.Status)
		}
		if b.ArchivedAt != nil {
			return ErrAlreadyArchived
		}

		pol, err := s.policies.ForRoomTx(ctx, tx, row.HotelRoomID)
		if err != nil {
			return err
		}
		fee := pol.CancellationFee(row.TotalAmount, row.Status, row.CheckIn, now)

		refundReason := reason
		if refundReason == "" {
			refundReason = "booking room cancelled"
		}
		payments, err := s.payments.ListForBooking(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		// only money actually collected above what the booking still owes
		// after this cancellation goes back
		owed := b.GrandTotal - row.TotalAmount + fee
		refundable := max(0, min(row.TotalAmount-fee, netPaid(payments)-owed))
		refunded, refundEvts, err := s.refund(ctx, tx, b.ID, refundable, refundReason, req.ActorID)
		if err != nil {
			return err
		}

		released, err := s.ledger.Release(ctx, tx, row.ID, inventory.ReleaseParams{
			Reason:          reason,
			CancelledBy:     req.ActorID,
			CancellationFee: fee,
			RefundedAmount:  refunded,
			At:              now,
		})
		if err != nil {
			return err
		}

		settled, err := s.refresh(ctx, tx, b, prov, "booking total changed")
		if err != nil {
			return err
		}

		status := StatusCancelled
		if b.Status == StatusPartiallyCancelled {
			status = StatusPartiallyCancelled
		}
		entry, err := s.history.Record(ctx, tx, history.RecordParams{
			BookingID:     b.ID,
			BookingRoomID: &row.ID,
			Status:        string(status),
			Comments:      reason,
			Metadata: map[string]any{
				"booking_room_id":  row.ID,
				"cancellation_fee": fee,
				"refunded":         refunded,
			},
			Provenance: prov,
		})
		if err != nil {
			return err
		}

		out = &CancelResult{BookingRoom: released, BookingStatus: b.Status, Fee: fee, Refunded: refunded}
		evts = append(evts, events.New(events.TypeBookingRoomCancelled, b.ID, out))
		evts = append(evts, refundEvts...)
		evts = append(evts, settled...)
		evts = append(evts, history.Event(entry))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !out.AlreadyCancelled {
		s.log.WithFields(logrus.Fields{
			"booking_room_id": out.BookingRoom.ID,
			"booking_id":      out.BookingRoom.BookingID,
			"fee":             out.Fee,
			"refunded":        out.Refunded,
			"source":          req.Source,
		}).Info("booking room cancelled")
	}
	events.PublishAll(ctx, s.publisher, s.log, evts...)
	return out, nil
}

func (s *Service) CheckIn(ctx context.Context, req StayRequest) (*inventory.BookingRoom, error) {
	return s.stay(ctx, req, func(tx *gorm.DB, row *inventory.BookingRoom, now time.Time) (*inventory.BookingRoom, error) {
		return s.ledger.CheckIn(ctx, tx, row.ID, now)
	})
}

func (s *Service) CheckOut(ctx context.Context, req StayRequest) (*inventory.BookingRoom, error) {
	return s.stay(ctx, req, func(tx *gorm.DB, row *inventory.BookingRoom, now time.Time) (*inventory.BookingRoom, error) {
		return s.ledger.CheckOut(ctx, tx, row.ID, now)
	})
}

// MarkNoShow closes a line whose guest never arrived and bills the room's
// no-show charge; anything paid above the new total is refunded.
func (s *Service) MarkNoShow(ctx context.Context, req StayRequest) (*inventory.BookingRoom, error) {
	return s.stay(ctx, req, func(tx *gorm.DB, row *inventory.BookingRoom, now time.Time) (*inventory.BookingRoom, error) {
		pol, err := s.policies.ForRoomTx(ctx, tx, row.HotelRoomID)
		if err != nil {
			return nil, err
		}
		return s.ledger.MarkNoShow(ctx, tx, row.ID, pol.NoShowCharge(row.TotalAmount), now)
	})
}

func (s *Service) stay(
	ctx context.Context,
	req StayRequest,
	apply func(tx *gorm.DB, row *inventory.BookingRoom, now time.Time) (*inventory.BookingRoom, error),
) (*inventory.BookingRoom, error) {
	if !req.Source.Valid() {
		return nil, validationError("source %q", req.Source)
	}
	prov := history.Provenance{Source: req.Source, ActorID: req.ActorID, SystemGenerated: req.SystemGenerated}

	var (
		out  *inventory.BookingRoom
		evts []events.Event
	)
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		evts = nil
		b, row, err := s.lockLine(ctx, tx, req.BookingRoomID)
		if err != nil {
			return err
		}
		if b.ArchivedAt != nil {
			return ErrAlreadyArchived
		}
		before := b.Status

		out, err = apply(tx, row, s.now())
		if err != nil {
			return err
		}

		settled, err := s.refresh(ctx, tx, b, prov, "stay settlement")
		if err != nil {
			return err
		}

		entry, err := s.history.Record(ctx, tx, history.RecordParams{
			BookingID:     b.ID,
			BookingRoomID: &row.ID,
			Status:        string(out.Status),
			Comments:      fmt.Sprintf("booking room %d %s", row.ID, strings.ReplaceAll(string(out.Status), "_", " ")),
			Provenance:    prov,
		})
		if err != nil {
			return err
		}
		evts = append(evts, events.New(events.TypeBookingRoomStay, b.ID, out))
		evts = append(evts, settled...)
		evts = append(evts, history.Event(entry))

		if b.Status != before && b.Status.IsFinal() {
			final, err := s.history.Record(ctx, tx, history.RecordParams{
				BookingID:  b.ID,
				Status:     string(b.Status),
				Comments:   "all booking rooms closed",
				Provenance: prov,
			})
			if err != nil {
				return err
			}
			evts = append(evts, history.Event(final))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.PublishAll(ctx, s.publisher, s.log, evts...)
	return out, nil
}

func (s *Service) GetBooking(ctx context.Context, id int64) (*Details, error) {
	db := s.db.WithContext(ctx)
	b, err := findBooking(db, id, false)
	if err != nil {
		return nil, err
	}
	lines, err := s.ledger.ListForBooking(ctx, db, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListForBooking(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return &Details{Booking: b, Rooms: lines, Payments: payments}, nil
}

// Authorize returns ErrNotFound unless the booking exists and userID owns it
// or is an admin. Strangers get the same answer as for a missing booking.
func (s *Service) Authorize(ctx context.Context, bookingID, userID int64, admin bool) error {
	b, err := findBooking(s.db.WithContext(ctx), bookingID, false)
	if err != nil {
		return err
	}
	if !admin && !b.OwnedBy(userID) {
		return ErrNotFound
	}
	return nil
}

// AuthorizeLine is Authorize keyed by booking room id.
func (s *Service) AuthorizeLine(ctx context.Context, bookingRoomID, userID int64, admin bool) error {
	row, err := s.ledger.GetBookingRoom(ctx, bookingRoomID)
	if err != nil {
		return err
	}
	if err := s.Authorize(ctx, row.BookingID, userID, admin); err != nil {
		return inventory.ErrBookingRoomNotFound
	}
	return nil
}

// HistoryAccess adapts Authorize to the history handler.
func (s *Service) HistoryAccess() history.AccessFunc {
	return func(ctx context.Context, bookingID, userID int64, admin bool) error {
		err := s.Authorize(ctx, bookingID, userID, admin)
		if errors.Is(err, ErrNotFound) {
			return history.ErrNotFound
		}
		return err
	}
}

// CancellationQuote previews what CancelBookingRoom would charge and refund now.
func (s *Service) CancellationQuote(ctx context.Context, bookingRoomID int64) (*Quote, error) {
	row, err := s.ledger.GetBookingRoom(ctx, bookingRoomID)
	if err != nil {
		return nil, err
	}
	pol, err := s.policies.ForRoom(ctx, row.HotelRoomID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	q := &Quote{
		BookingRoomID: row.ID,
		Status:        row.Status,
		CanCancel:     pol.CanCancel(row.Status, row.CheckIn, now),
		FreeUntil:     pol.Deadline(row.CheckIn),
		Policy:        pol,
	}
	if !row.Status.IsActive() {
		q.Fee, q.Refund = row.CancellationFee, row.RefundedAmount
		return q, nil
	}
	q.Fee = pol.CancellationFee(row.TotalAmount, row.Status, row.CheckIn, now)

	db := s.db.WithContext(ctx)
	b, err := findBooking(db, row.BookingID, false)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListForBooking(ctx, db, row.BookingID)
	if err != nil {
		return nil, err
	}
	owed := b.GrandTotal - row.TotalAmount + q.Fee
	q.Refund = max(0, min(row.TotalAmount-q.Fee, netPaid(payments)-owed))
	return q, nil
}

// ArchiveBooking stamps archived_at on a finished booking. Archiving twice is
// a no-op.
func (s *Service) ArchiveBooking(ctx context.Context, bookingID int64, prov history.Provenance) (*Booking, error) {
	if !prov.Source.Valid() {
		return nil, validationError("source %q", prov.Source)
	}

	var (
		out  *Booking
		evts []events.Event
	)
	err := database.RunInTx(ctx, s.db, s.attempts, func(tx *gorm.DB) error {
		evts = nil
		b, err := findBooking(tx.WithContext(ctx), bookingID, true)
		if err != nil {
			return err
		}
		if b.ArchivedAt != nil {
			out = b
			return nil
		}
		if !b.Status.IsFinal() {
			return fmt.Errorf("%w: status is %s", ErrNotArchivable, b.Status)
		}

		now := s.now()
		if err := tx.WithContext(ctx).Model(&Booking{}).Where("id = ?", b.ID).Update("archived_at", now).Error; err != nil {
			return fmt.Errorf("archive booking: %w", err)
		}
		b.ArchivedAt = &now

		entry, err := s.history.Record(ctx, tx, history.RecordParams{
			BookingID:  b.ID,
			Status:     "archived",
			Comments:   "booking archived",
			Provenance: prov,
		})
		if err != nil {
			return err
		}
		out = b
		evts = append(evts, events.New(events.TypeBookingArchived, b.ID, b), history.Event(entry))
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.PublishAll(ctx, s.publisher, s.log, evts...)
	return out, nil
}

// ArchiveCandidates lists finished, unarchived bookings last touched before cutoff.
func (s *Service) ArchiveCandidates(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&Booking{}).
		Where("status IN ? AND archived_at IS NULL AND updated_at < ?",
			[]string{string(StatusCancelled), string(StatusCompleted)}, cutoff).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// SweepNoShows marks every overdue confirmed line as no-show. Failures are
// logged per line and do not stop the sweep.
func (s *Service) SweepNoShows(ctx context.Context, asOf time.Time, limit int) (int, error) {
	rows, err := s.ledger.NoShowCandidates(ctx, asOf, limit)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, row := range rows {
		_, err := s.MarkNoShow(ctx, StayRequest{
			BookingRoomID:   row.ID,
			Source:          history.SourceCron,
			SystemGenerated: true,
		})
		if err != nil {
			s.log.WithError(err).WithField("booking_room_id", row.ID).Warn("no-show sweep skipped line")
			continue
		}
		marked++
	}
	return marked, nil
}

// ArchiveExpired archives finished bookings older than retention.
func (s *Service) ArchiveExpired(ctx context.Context, retention time.Duration, limit int) (int, error) {
	ids, err := s.ArchiveCandidates(ctx, s.now().Add(-retention), limit)
	if err != nil {
		return 0, err
	}
	archived := 0
	prov := history.Provenance{Source: history.SourceCron, SystemGenerated: true}
	for _, id := range ids {
		if _, err := s.ArchiveBooking(ctx, id, prov); err != nil {
			s.log.WithError(err).WithField("booking_id", id).Warn("archive skipped booking")
			continue
		}
		archived++
	}
	return archived, nil
}

// lockLine locks the line, then its booking. Every operation on an existing
// line takes the locks in this order.
func (s *Service) lockLine(ctx context.Context, tx *gorm.DB, bookingRoomID int64) (*Booking, *inventory.BookingRoom, error) {
	row, err := s.ledger.LockBookingRoom(ctx, tx, bookingRoomID)
	if err != nil {
		return nil, nil, err
	}
	b, err := findBooking(tx.WithContext(ctx), row.BookingID, true)
	if err != nil {
		return nil, nil, err
	}
	return b, row, nil
}

// refresh recomputes totals and status from the lines and settles payments.
func (s *Service) refresh(ctx context.Context, tx *gorm.DB, b *Booking, prov history.Provenance, reason string) ([]events.Event, error) {
	lines, err := s.ledger.ListForBooking(ctx, tx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := s.saveTotals(ctx, tx, b, lines); err != nil {
		return nil, err
	}
	return s.settle(ctx, tx, b, prov, reason)
}

func (s *Service) saveTotals(ctx context.Context, tx *gorm.DB, b *Booking, lines []inventory.BookingRoom) error {
	total, grand, status := summarize(lines)
	err := tx.WithContext(ctx).Model(&Booking{}).Where("id = ?", b.ID).Updates(map[string]any{
		"total_amount": total,
		"grand_total":  grand,
		"status":       status,
	}).Error
	if err != nil {
		return fmt.Errorf("update booking totals: %w", err)
	}
	b.TotalAmount, b.GrandTotal, b.Status = total, grand, status
	return nil
}

// settle brings payments in line with the grand total: the open pending
// payment is resized or cancelled, a new one covers any shortfall, and money
// paid above the total is refunded.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, b *Booking, prov history.Provenance, reason string) ([]events.Event, error) {
	payments, err := s.payments.ListForBooking(ctx, tx, b.ID)
	if err != nil {
		return nil, err
	}

	paid := netPaid(payments)
	var pending *payment.Payment
	for i := range payments {
		if payments[i].Status == payment.StatusPending {
			pending = &payments[i]
			break
		}
	}

	var evts []events.Event
	due := b.GrandTotal - paid
	switch {
	case pending != nil && due <= 0:
		cancelled, err := s.payments.CancelTx(ctx, tx, pending.ID)
		if err != nil {
			return nil, err
		}
		evts = append(evts, events.New(events.TypePaymentCancelled, b.ID, cancelled))
	case pending != nil:
		if _, err := s.payments.AdjustPending(ctx, tx, pending.ID, due); err != nil {
			return nil, err
		}
	case due > 0:
		if _, err := s.payments.Create(ctx, tx, b.ID, due); err != nil {
			return nil, err
		}
	}

	if due < 0 {
		_, refundEvts, err := s.refund(ctx, tx, b.ID, -due, reason, prov.ActorID)
		if err != nil {
			return nil, err
		}
		evts = append(evts, refundEvts...)
	}
	return evts, nil
}

// netPaid sums what was collected across payments, net of refunds.
func netPaid(payments []payment.Payment) int64 {
	var paid int64
	for _, p := range payments {
		switch p.Status {
		case payment.StatusCompleted, payment.StatusPartiallyRefunded, payment.StatusRefunded:
			paid += p.Amount - p.RefundedAmount
		}
	}
	return paid
}

// refund returns up to amount across the booking's refundable payments, oldest
// first, and reports how much was actually refunded.
func (s *Service) refund(ctx context.Context, tx *gorm.DB, bookingID, amount int64, reason string, actorID *int64) (int64, []events.Event, error) {
	var (
		refunded int64
		evts     []events.Event
	)
	for refunded < amount {
		p, err := s.payments.RefundableForBooking(ctx, tx, bookingID)
		if err != nil {
			return 0, nil, err
		}
		if p == nil {
			break
		}
		part := min(amount-refunded, p.Refundable())
		updated, _, err := s.payments.ProcessRefund(ctx, tx, payment.RefundParams{
			PaymentID: p.ID,
			Amount:    &part,
			Reason:    reason,
			ActorID:   actorID,
		})
		if err != nil {
			return 0, nil, err
		}
		refunded += part
		evts = append(evts, events.New(events.TypePaymentRefunded, bookingID, updated))
	}
	return refunded, evts, nil
}

// summarize derives booking totals and status from its lines. Cancelled and
// no-show lines drop out of total_amount but their fees stay in grand_total.
func summarize(lines []inventory.BookingRoom) (total, grand int64, status Status) {
	var active, cancelled, finished int
	var fees int64
	for _, l := range lines {
		switch l.Status {
		case inventory.StatusConfirmed, inventory.StatusCheckedIn:
			active++
			total += l.TotalAmount
		case inventory.StatusCheckedOut:
			finished++
			total += l.TotalAmount
		case inventory.StatusNoShow:
			finished++
			fees += l.CancellationFee
		case inventory.StatusCancelled:
			cancelled++
			fees += l.CancellationFee
		}
	}

	switch {
	case active > 0 && cancelled > 0:
		status = StatusPartiallyCancelled
	case active > 0:
		status = StatusConfirmed
	case finished > 0:
		status = StatusCompleted
	default:
		status = StatusCancelled
	}
	return total, total + fees, status
}

func lineSnapshot(l *inventory.BookingRoom) map[string]any {
	return map[string]any{
		"check_in":     l.CheckIn.Format("2006-01-02"),
		"check_out":    l.CheckOut.Format("2006-01-02"),
		"quantity":     l.Quantity,
		"extra_beds":   l.ExtraBeds,
		"total_amount": l.TotalAmount,
	}
}

func validateCreate(req CreateBookingRequest) ([]RoomRequest, error) {
	if !req.Source.Valid() {
		return nil, validationError("source %q", req.Source)
	}
	if strings.TrimSpace(req.Guest.Name) == "" {
		return nil, validationError("guest name is required")
	}
	if req.Guest.Email != "" {
		if err := validator.Var(req.Guest.Email, "email"); err != nil {
			return nil, validationError("guest email %q", req.Guest.Email)
		}
	}
	if len(req.Rooms) == 0 || len(req.Rooms) > maxRoomsPerBooking {
		return nil, validationError("between 1 and %d rooms are required", maxRoomsPerBooking)
	}

	out := make([]RoomRequest, len(req.Rooms))
	for i, r := range req.Rooms {
		in, outDate, err := inventory.ValidateRange(r.CheckIn, r.CheckOut)
		if err != nil {
			return nil, &RoomRequestError{Index: i, RoomID: r.RoomID, Err: err}
		}
		if r.RoomID <= 0 || !validLine(r.Quantity, r.ExtraBeds) {
			return nil, &RoomRequestError{Index: i, RoomID: r.RoomID, Err: validationError("room_id, quantity 1..%d and extra_beds 0..%d are required", inventory.MaxUnits, inventory.MaxExtraBeds)}
		}
		r.CheckIn, r.CheckOut = in, outDate
		out[i] = r
	}
	return out, nil
}

func findBooking(db *gorm.DB, id int64, lock bool) (*Booking, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var b Booking
	if err := db.Where("id = ?", id).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func validLine(quantity, extraBeds int) bool {
	return quantity >= 1 && quantity <= inventory.MaxUnits && extraBeds >= 0 && extraBeds <= inventory.MaxExtraBeds
}
