package inventory

import "time"

const maxStayNights = 366

// Upper bounds on line and room inputs. Together with maxStayNights they
// keep LineTotal well inside int64.
const (
	MaxUnits     = 10000
	MaxExtraBeds = 100
	MaxPrice     = int64(100_000_000)
)

// RangesOverlap is the one overlap test for half-open ranges [a1,a2) and
// [b1,b2). Adjacent ranges (a2 == b1) do not overlap.
func RangesOverlap(a1, a2, b1, b2 time.Time) bool {
	return a1.Before(b2) && b1.Before(a2)
}

// DateOnly truncates t to midnight UTC of its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateRange normalises both bounds to UTC dates and checks ordering.
func ValidateRange(checkIn, checkOut time.Time) (time.Time, time.Time, error) {
	in, out := DateOnly(checkIn), DateOnly(checkOut)
	if checkIn.IsZero() || checkOut.IsZero() || !in.Before(out) {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	if Nights(in, out) > maxStayNights {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	return in, out, nil
}

func Nights(checkIn, checkOut time.Time) int {
	return int(DateOnly(checkOut).Sub(DateOnly(checkIn)).Hours() / 24)
}

// LineTotal prices a line: every night bills quantity rooms plus extra beds.
func LineTotal(room *HotelRoom, nights, quantity, extraBeds int) int64 {
	perNight := room.PricePerNight*int64(quantity) + room.ExtraBedPrice*int64(extraBeds)
	return perNight * int64(nights)
}
