package inventory

import (
	"time"

	"gorm.io/datatypes"
)

type BookingRoomStatus string

const (
	StatusConfirmed  BookingRoomStatus = "confirmed"
	StatusCancelled  BookingRoomStatus = "cancelled"
	StatusCheckedIn  BookingRoomStatus = "checked_in"
	StatusCheckedOut BookingRoomStatus = "checked_out"
	StatusNoShow     BookingRoomStatus = "no_show"
)

// ActiveStatuses are the statuses that hold inventory.
var ActiveStatuses = []BookingRoomStatus{StatusConfirmed, StatusCheckedIn}

func (s BookingRoomStatus) IsActive() bool {
	return s == StatusConfirmed || s == StatusCheckedIn
}

// IsClosed reports whether the line no longer bills its room total.
func (s BookingRoomStatus) IsClosed() bool {
	return s == StatusCancelled || s == StatusNoShow
}

// HotelRoom is a bookable room type with RoomCount identical units.
type HotelRoom struct {
	ID                 int64          `json:"id" gorm:"primaryKey"`
	Name               string         `json:"name" gorm:"size:255;not null"`
	RoomCount          int            `json:"room_count" gorm:"not null;default:0;check:room_count >= 0"`
	PricePerNight      int64          `json:"price_per_night" gorm:"not null;default:0"`
	ExtraBedPrice      int64          `json:"extra_bed_price" gorm:"not null;default:0"`
	CancellationPolicy datatypes.JSON `json:"cancellation_policy,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (HotelRoom) TableName() string {
	return "hotel_rooms"
}

// BookingRoom is one reservation line over the half-open range [CheckIn, CheckOut).
type BookingRoom struct {
	ID                 int64             `json:"id" gorm:"primaryKey"`
	BookingID          int64             `json:"booking_id" gorm:"not null;index"`
	HotelRoomID        int64             `json:"hotel_room_id" gorm:"not null;index:idx_booking_rooms_room_range,priority:1"`
	CheckIn            time.Time         `json:"check_in" gorm:"not null;index:idx_booking_rooms_room_range,priority:2"`
	CheckOut           time.Time         `json:"check_out" gorm:"not null;index:idx_booking_rooms_room_range,priority:3"`
	Quantity           int               `json:"quantity" gorm:"not null;check:quantity >= 1"`
	ExtraBeds          int               `json:"extra_beds" gorm:"not null;default:0;check:extra_beds >= 0"`
	Status             BookingRoomStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	PricePerNight      int64             `json:"price_per_night" gorm:"not null"`
	TotalAmount        int64             `json:"total_amount" gorm:"not null"`
	CancellationFee    int64             `json:"cancellation_fee" gorm:"not null;default:0"`
	RefundedAmount     int64             `json:"refunded_amount" gorm:"not null;default:0"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty" gorm:"type:text"`
	CancelledBy        *int64            `json:"cancelled_by,omitempty"`
	CheckedInAt        *time.Time        `json:"checked_in_at,omitempty"`
	CheckedOutAt       *time.Time        `json:"checked_out_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (BookingRoom) TableName() string {
	return "booking_rooms"
}

// Nights is the number of nights covered by the line.
func (br *BookingRoom) Nights() int {
	return Nights(br.CheckIn, br.CheckOut)
}

// DayAvailability is one night of a room calendar.
type DayAvailability struct {
	Date      time.Time `json:"date"`
	Booked    int       `json:"booked"`
	Available int       `json:"available"`
}
