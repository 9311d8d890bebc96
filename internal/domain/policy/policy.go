package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/pkg/money"
)

var ErrInvalidPolicy = errors.New("invalid cancellation policy")

// Policy is a fully resolved cancellation policy. Stored documents may omit
// fields; Resolve fills them from Default, so callers never see a partial one.
type Policy struct {
	FreeCancellationBeforeDays int     `json:"free_cancellation_before_days"`
	RefundPercentage           float64 `json:"refund_percentage"`
	NoShowChargePercentage     float64 `json:"no_show_charge_percentage"`
}

// Default applies to rooms without a stored policy.
var Default = Policy{
	FreeCancellationBeforeDays: 1,
	RefundPercentage:           100,
	NoShowChargePercentage:     100,
}

type document struct {
	FreeCancellationBeforeDays *int     `json:"free_cancellation_before_days"`
	RefundPercentage           *float64 `json:"refund_percentage"`
	NoShowChargePercentage     *float64 `json:"no_show_charge_percentage"`
}

// Resolve turns a stored JSON document into a Policy. Empty input, null and
// {} all resolve to Default.
func Resolve(raw []byte) (Policy, error) {
	p := Default
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if doc.FreeCancellationBeforeDays != nil {
		p.FreeCancellationBeforeDays = *doc.FreeCancellationBeforeDays
	}
	if doc.RefundPercentage != nil {
		p.RefundPercentage = *doc.RefundPercentage
	}
	if doc.NoShowChargePercentage != nil {
		p.NoShowChargePercentage = *doc.NoShowChargePercentage
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	switch {
	case p.FreeCancellationBeforeDays < 0:
		return fmt.Errorf("%w: free_cancellation_before_days must be >= 0", ErrInvalidPolicy)
	case p.RefundPercentage < 0 || p.RefundPercentage > 100:
		return fmt.Errorf("%w: refund_percentage must be within 0-100", ErrInvalidPolicy)
	case p.NoShowChargePercentage < 0 || p.NoShowChargePercentage > 100:
		return fmt.Errorf("%w: no_show_charge_percentage must be within 0-100", ErrInvalidPolicy)
	}
	return nil
}

// Deadline is the last instant a stay starting at checkIn can be cancelled free.
func (p Policy) Deadline(checkIn time.Time) time.Time {
	return checkIn.AddDate(0, 0, -p.FreeCancellationBeforeDays)
}

// CanCancel reports whether a line may still be cancelled without a fee.
func (p Policy) CanCancel(status inventory.BookingRoomStatus, checkIn, now time.Time) bool {
	if status == inventory.StatusCancelled || status == inventory.StatusCheckedOut {
		return false
	}
	if !now.Before(checkIn) {
		return false
	}
	return !now.After(p.Deadline(checkIn))
}

// CancellationFee is zero inside the free window and otherwise the share of
// total that is not refunded.
func (p Policy) CancellationFee(total int64, status inventory.BookingRoomStatus, checkIn, now time.Time) int64 {
	if p.CanCancel(status, checkIn, now) {
		return 0
	}
	fee := money.Percent(total, 100-p.RefundPercentage)
	if fee < 0 {
		return 0
	}
	return fee
}

func (p Policy) NoShowCharge(total int64) int64 {
	charge := money.Percent(total, p.NoShowChargePercentage)
	if charge < 0 {
		return 0
	}
	return charge
}

func (p Policy) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
