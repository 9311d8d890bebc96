package booking

import (
	"time"

	"gorm.io/gorm"

	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/payment"
)

type Status string

const (
	StatusConfirmed          Status = "confirmed"
	StatusPartiallyCancelled Status = "partially_cancelled"
	StatusCancelled          Status = "cancelled"
	StatusCompleted          Status = "completed"
)

// IsFinal reports whether no line of the booking can change any more.
func (s Status) IsFinal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

const ReferencePrefix = "BKG"

// Booking groups reservation lines and payments for one guest.
type Booking struct {
	ID               int64      `json:"id" gorm:"primaryKey"`
	BookingReference string     `json:"booking_reference" gorm:"size:32;uniqueIndex;not null"`
	Status           Status     `json:"status" gorm:"type:varchar(30);not null;index"`
	GuestName        string     `json:"guest_name" gorm:"size:255;not null"`
	GuestEmail       string     `json:"guest_email" gorm:"size:255"`
	GuestPhone       string     `json:"guest_phone" gorm:"size:50"`
	Notes            string     `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy        *int64     `json:"created_by,omitempty" gorm:"index"`
	TotalAmount      int64      `json:"total_amount" gorm:"not null;default:0"`
	GrandTotal       int64      `json:"grand_total" gorm:"not null;default:0"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty" gorm:"index"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

// NewBooking builds an empty confirmed booking; totals are filled once lines
// are reserved.
func NewBooking(reference string, guest Guest, createdBy *int64) *Booking {
	return &Booking{
		BookingReference: reference,
		Status:           StatusConfirmed,
		GuestName:        guest.Name,
		GuestEmail:       guest.Email,
		GuestPhone:       guest.Phone,
		Notes:            guest.Notes,
		CreatedBy:        createdBy,
	}
}

// OwnedBy reports whether userID created the booking.
func (b *Booking) OwnedBy(userID int64) bool {
	return b.CreatedBy != nil && *b.CreatedBy == userID
}

// Details is a booking with its lines and payments.
type Details struct {
	Booking  *Booking
	Rooms    []inventory.BookingRoom
	Payments []payment.Payment
}

type Guest struct {
	Name  string
	Email string
	Phone string
	Notes string
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Booking{})
}
