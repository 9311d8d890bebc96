package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var activeStatusValues = []string{string(StatusConfirmed), string(StatusCheckedIn)}

// Ledger owns room capacity. Methods taking a tx run inside the caller's
// transaction and never open their own.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&HotelRoom{}, &BookingRoom{})
}

type ReserveParams struct {
	BookingID int64
	RoomID    int64
	CheckIn   time.Time
	CheckOut  time.Time
	Quantity  int
	ExtraBeds int
}

type RescheduleParams struct {
	CheckIn   time.Time
	CheckOut  time.Time
	Quantity  int
	ExtraBeds int
}

type ReleaseParams struct {
	Reason          string
	CancelledBy     *int64
	CancellationFee int64
	RefundedAmount  int64
	At              time.Time
}

type CreateRoomParams struct {
	Name               string
	RoomCount          int
	PricePerNight      int64
	ExtraBedPrice      int64
	CancellationPolicy datatypes.JSON
}

// AvailableUnits is room_count minus the quantity of every active line
// overlapping [checkIn, checkOut), floored at zero.
func (l *Ledger) AvailableUnits(ctx context.Context, roomID int64, checkIn, checkOut time.Time) (int, error) {
	in, out, err := ValidateRange(checkIn, checkOut)
	if err != nil {
		return 0, err
	}

	db := l.db.WithContext(ctx)
	room, err := findRoom(db, roomID, false)
	if err != nil {
		return 0, err
	}
	used, err := activeQuantity(db, roomID, in, out, 0)
	if err != nil {
		return 0, err
	}
	return freeUnits(room.RoomCount, used), nil
}

// Reserve inserts a confirmed line if capacity allows. The room row stays
// locked until tx ends, so concurrent reservations for the same room
// serialize on it.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, p ReserveParams) (*BookingRoom, error) {
	in, out, err := ValidateRange(p.CheckIn, p.CheckOut)
	if err != nil {
		return nil, err
	}
	if !validLine(p.Quantity, p.ExtraBeds) {
		return nil, ErrInvalidQuantity
	}

	tx = tx.WithContext(ctx)
	room, err := findRoom(tx, p.RoomID, true)
	if err != nil {
		return nil, err
	}

	used, err := activeQuantity(tx, room.ID, in, out, 0)
	if err != nil {
		return nil, err
	}
	if p.Quantity > freeUnits(room.RoomCount, used) {
		return nil, &CapacityError{RoomID: room.ID, Requested: p.Quantity, Available: freeUnits(room.RoomCount, used)}
	}

	row := NewBookingRoom(room, p.BookingID, in, out, p.Quantity, p.ExtraBeds)
	if err := tx.Create(row).Error; err != nil {
		return nil, fmt.Errorf("create booking room: %w", err)
	}
	return row, nil
}

// NewBookingRoom builds a confirmed line priced at the room's current rates.
func NewBookingRoom(room *HotelRoom, bookingID int64, checkIn, checkOut time.Time, quantity, extraBeds int) *BookingRoom {
	return &BookingRoom{
		BookingID:     bookingID,
		HotelRoomID:   room.ID,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Quantity:      quantity,
		ExtraBeds:     extraBeds,
		Status:        StatusConfirmed,
		PricePerNight: room.PricePerNight,
		TotalAmount:   LineTotal(room, Nights(checkIn, checkOut), quantity, extraBeds),
	}
}

// Reschedule moves a confirmed line to new dates or quantity in place. The
// line's own units are excluded from the overlap sum.
func (l *Ledger) Reschedule(ctx context.Context, tx *gorm.DB, bookingRoomID int64, p RescheduleParams) (*BookingRoom, error) {
	in, out, err := ValidateRange(p.CheckIn, p.CheckOut)
	if err != nil {
		return nil, err
	}
	if !validLine(p.Quantity, p.ExtraBeds) {
		return nil, ErrInvalidQuantity
	}

	tx = tx.WithContext(ctx)
	row, err := l.LockBookingRoom(ctx, tx, bookingRoomID)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot modify %s line", ErrInvalidStatusTransition, row.Status)
	}

	room, err := findRoom(tx, row.HotelRoomID, true)
	if err != nil {
		return nil, err
	}
	used, err := activeQuantity(tx, room.ID, in, out, row.ID)
	if err != nil {
		return nil, err
	}
	if p.Quantity > freeUnits(room.RoomCount, used) {
		return nil, &CapacityError{RoomID: room.ID, Requested: p.Quantity, Available: freeUnits(room.RoomCount, used)}
	}

	updated := NewBookingRoom(room, row.BookingID, in, out, p.Quantity, p.ExtraBeds)
	err = tx.Model(&BookingRoom{}).Where("id = ?", row.ID).Updates(map[string]any{
		"check_in":        updated.CheckIn,
		"check_out":       updated.CheckOut,
		"quantity":        updated.Quantity,
		"extra_beds":      updated.ExtraBeds,
		"price_per_night": updated.PricePerNight,
		"total_amount":    updated.TotalAmount,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("reschedule booking room: %w", err)
	}
	return findBookingRoom(tx, row.ID, false)
}

// Release marks an active line cancelled. Rows are never deleted.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, bookingRoomID int64, p ReleaseParams) (*BookingRoom, error) {
	tx = tx.WithContext(ctx)
	row, err := l.LockBookingRoom(ctx, tx, bookingRoomID)
	if err != nil {
		return nil, err
	}
	if !row.Status.IsActive() {
		return nil, fmt.Errorf("%w: cannot release %s line", ErrInvalidStatusTransition, row.Status)
	}

	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err = tx.Model(&BookingRoom{}).Where("id = ?", row.ID).Updates(map[string]any{
		"status":              StatusCancelled,
		"cancelled_at":        at,
		"cancellation_reason": strings.TrimSpace(p.Reason),
		"cancelled_by":        p.CancelledBy,
		"cancellation_fee":    p.CancellationFee,
		"refunded_amount":     p.RefundedAmount,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("release booking room: %w", err)
	}
	return findBookingRoom(tx, row.ID, false)
}

func (l *Ledger) CheckIn(ctx context.Context, tx *gorm.DB, bookingRoomID int64, at time.Time) (*BookingRoom, error) {
	return l.transition(ctx, tx, bookingRoomID, StatusConfirmed, StatusCheckedIn, at, func(row *BookingRoom) (map[string]any, error) {
		if DateOnly(at).Before(row.CheckIn) {
			return nil, fmt.Errorf("%w: check-in date not reached", ErrInvalidStatusTransition)
		}
		return map[string]any{"checked_in_at": at}, nil
	})
}

func (l *Ledger) CheckOut(ctx context.Context, tx *gorm.DB, bookingRoomID int64, at time.Time) (*BookingRoom, error) {
	return l.transition(ctx, tx, bookingRoomID, StatusCheckedIn, StatusCheckedOut, at, func(*BookingRoom) (map[string]any, error) {
		return map[string]any{"checked_out_at": at}, nil
	})
}

// MarkNoShow closes a confirmed line whose check-in date has passed and
// records the no-show charge in cancellation_fee.
func (l *Ledger) MarkNoShow(ctx context.Context, tx *gorm.DB, bookingRoomID int64, charge int64, at time.Time) (*BookingRoom, error) {
	return l.transition(ctx, tx, bookingRoomID, StatusConfirmed, StatusNoShow, at, func(row *BookingRoom) (map[string]any, error) {
		if DateOnly(at).Before(row.CheckIn) {
			return nil, fmt.Errorf("%w: check-in date not reached", ErrInvalidStatusTransition)
		}
		return map[string]any{"cancellation_fee": charge}, nil
	})
}

func (l *Ledger) transition(
	ctx context.Context,
	tx *gorm.DB,
	bookingRoomID int64,
	from, to BookingRoomStatus,
	at time.Time,
	extra func(row *BookingRoom) (map[string]any, error),
) (*BookingRoom, error) {
	tx = tx.WithContext(ctx)
	row, err := l.LockBookingRoom(ctx, tx, bookingRoomID)
	if err != nil {
		return nil, err
	}
	if row.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, row.Status, to)
	}

	updates, err := extra(row)
	if err != nil {
		return nil, err
	}
	updates["status"] = to

	res := tx.Model(&BookingRoom{}).Where("id = ? AND status = ?", row.ID, from).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, row.Status, to)
	}
	return findBookingRoom(tx, row.ID, false)
}

// LockBookingRoom reads a line FOR UPDATE inside tx.
func (l *Ledger) LockBookingRoom(ctx context.Context, tx *gorm.DB, id int64) (*BookingRoom, error) {
	return findBookingRoom(tx.WithContext(ctx), id, true)
}

func (l *Ledger) GetBookingRoom(ctx context.Context, id int64) (*BookingRoom, error) {
	return findBookingRoom(l.db.WithContext(ctx), id, false)
}

// ListForBooking returns the lines of a booking in id order.
func (l *Ledger) ListForBooking(ctx context.Context, tx *gorm.DB, bookingID int64) ([]BookingRoom, error) {
	var rows []BookingRoom
	err := tx.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id asc").Find(&rows).Error
	return rows, err
}

// NoShowCandidates lists confirmed lines whose check-in day is before asOf's day.
func (l *Ledger) NoShowCandidates(ctx context.Context, asOf time.Time, limit int) ([]BookingRoom, error) {
	var rows []BookingRoom
	err := l.db.WithContext(ctx).
		Where("status = ? AND check_in < ?", StatusConfirmed, DateOnly(asOf)).
		Order("check_in asc, id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Calendar reports booked and free units for every night in [from, to).
func (l *Ledger) Calendar(ctx context.Context, roomID int64, from, to time.Time) ([]DayAvailability, error) {
	in, out, err := ValidateRange(from, to)
	if err != nil {
		return nil, err
	}

	db := l.db.WithContext(ctx)
	room, err := findRoom(db, roomID, false)
	if err != nil {
		return nil, err
	}

	var rows []BookingRoom
	err = overlapping(db, roomID, in, out, 0).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	days := make([]DayAvailability, 0, Nights(in, out))
	for night := in; night.Before(out); night = night.AddDate(0, 0, 1) {
		next := night.AddDate(0, 0, 1)
		booked := 0
		for _, r := range rows {
			if RangesOverlap(night, next, r.CheckIn, r.CheckOut) {
				booked += r.Quantity
			}
		}
		days = append(days, DayAvailability{Date: night, Booked: booked, Available: freeUnits(room.RoomCount, booked)})
	}
	return days, nil
}

func (l *Ledger) CreateRoom(ctx context.Context, p CreateRoomParams) (*HotelRoom, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" || p.RoomCount < 0 || p.RoomCount > MaxUnits ||
		p.PricePerNight < 0 || p.PricePerNight > MaxPrice ||
		p.ExtraBedPrice < 0 || p.ExtraBedPrice > MaxPrice {
		return nil, ErrInvalidRoom
	}
	room := &HotelRoom{
		Name:               name,
		RoomCount:          p.RoomCount,
		PricePerNight:      p.PricePerNight,
		ExtraBedPrice:      p.ExtraBedPrice,
		CancellationPolicy: p.CancellationPolicy,
	}
	if err := l.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, err
	}
	return room, nil
}

func (l *Ledger) GetRoom(ctx context.Context, id int64) (*HotelRoom, error) {
	return findRoom(l.db.WithContext(ctx), id, false)
}

// ListRooms returns every room type in id order.
func (l *Ledger) ListRooms(ctx context.Context) ([]HotelRoom, error) {
	var rooms []HotelRoom
	err := l.db.WithContext(ctx).Order("id asc").Find(&rooms).Error
	return rooms, err
}

// GetRoomTx reads a room through tx without locking it.
func (l *Ledger) GetRoomTx(ctx context.Context, tx *gorm.DB, id int64) (*HotelRoom, error) {
	return findRoom(tx.WithContext(ctx), id, false)
}

// UpdatePolicy stores an already validated policy document.
func (l *Ledger) UpdatePolicy(ctx context.Context, roomID int64, policy datatypes.JSON) (*HotelRoom, error) {
	db := l.db.WithContext(ctx)
	res := db.Model(&HotelRoom{}).Where("id = ?", roomID).Update("cancellation_policy", policy)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRoomNotFound
	}
	return findRoom(db, roomID, false)
}

func overlapping(db *gorm.DB, roomID int64, in, out time.Time, excludeID int64) *gorm.DB {
	q := db.Model(&BookingRoom{}).
		Where("hotel_room_id = ? AND status IN ?", roomID, activeStatusValues).
		Where("check_in < ? AND check_out > ?", out, in)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return q
}

func activeQuantity(db *gorm.DB, roomID int64, in, out time.Time, excludeID int64) (int, error) {
	var total int64
	err := overlapping(db, roomID, in, out, excludeID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum active quantity: %w", err)
	}
	return int(total), nil
}

func validLine(quantity, extraBeds int) bool {
	return quantity >= 1 && quantity <= MaxUnits && extraBeds >= 0 && extraBeds <= MaxExtraBeds
}

func freeUnits(roomCount, used int) int {
	if used >= roomCount {
		return 0
	}
	return roomCount - used
}

func findRoom(db *gorm.DB, id int64, lock bool) (*HotelRoom, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var room HotelRoom
	if err := db.Where("id = ?", id).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func findBookingRoom(db *gorm.DB, id int64, lock bool) (*BookingRoom, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row BookingRoom
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingRoomNotFound
		}
		return nil, err
	}
	return &row, nil
}
