package payment

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusCancelled         Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

const ReferencePrefix = "PAY"

// Payment is one financial transaction against a booking. Amounts are minor
// units. Version increments on every state change and guards CAS updates.
type Payment struct {
	ID               int64          `json:"id" gorm:"primaryKey"`
	BookingID        int64          `json:"booking_id" gorm:"not null;index"`
	PaymentReference string         `json:"payment_reference" gorm:"size:32;not null;uniqueIndex"`
	Amount           int64          `json:"amount" gorm:"not null;check:amount >= 0"`
	RefundedAmount   int64          `json:"refunded_amount" gorm:"not null;default:0;check:refunded_amount >= 0"`
	Status           Status         `json:"status" gorm:"type:varchar(20);not null;index"`
	TransactionID    string         `json:"transaction_id,omitempty" gorm:"size:128"`
	GatewayDetails   datatypes.JSON `json:"gateway_details,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty" gorm:"type:text"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`
	RefundedAt       *time.Time     `json:"refunded_at,omitempty"`
	Version          int64          `json:"version" gorm:"not null;default:1"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// Refundable is amount minus what was already refunded.
func (p *Payment) Refundable() int64 {
	return p.Amount - p.RefundedAmount
}

// NewPayment builds a pending payment. The reference is allocated by the caller.
func NewPayment(bookingID int64, reference string, amount int64) *Payment {
	return &Payment{
		BookingID:        bookingID,
		PaymentReference: reference,
		Amount:           amount,
		Status:           StatusPending,
		Version:          1,
	}
}

// Refund is the immutable record of one successful refund.
type Refund struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	PaymentID int64     `json:"payment_id" gorm:"not null;index"`
	Amount    int64     `json:"amount" gorm:"not null;check:amount > 0"`
	Reason    string    `json:"reason,omitempty" gorm:"type:text"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Refund) TableName() string {
	return "payment_refunds"
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Payment{}, &Refund{})
}
