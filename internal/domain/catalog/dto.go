package catalog

import (
	"encoding/json"
	"time"

	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/pkg/money"
	"innkeeper/internal/pkg/utils"
)

// ---------- ROOMS ----------

type CreateRoomRequest struct {
	Name               string          `json:"name" binding:"required,max=255"`
	RoomCount          int             `json:"room_count" binding:"min=0,max=10000"`
	PricePerNight      json.Number     `json:"price_per_night" binding:"required"`
	ExtraBedPrice      json.Number     `json:"extra_bed_price"`
	CancellationPolicy json.RawMessage `json:"cancellation_policy,omitempty"`
}

type RoomResponse struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	RoomCount          int             `json:"room_count"`
	PricePerNight      string          `json:"price_per_night"`
	ExtraBedPrice      string          `json:"extra_bed_price"`
	CancellationPolicy json.RawMessage `json:"cancellation_policy"`
	CreatedAt          time.Time       `json:"created_at"`
}

func toRoomResponse(r *inventory.HotelRoom, policy []byte) RoomResponse {
	return RoomResponse{
		ID:                 r.ID,
		Name:               r.Name,
		RoomCount:          r.RoomCount,
		PricePerNight:      money.Format(r.PricePerNight),
		ExtraBedPrice:      money.Format(r.ExtraBedPrice),
		CancellationPolicy: policy,
		CreatedAt:          r.CreatedAt,
	}
}

// ---------- AVAILABILITY ----------

type AvailabilityResponse struct {
	RoomID    int64  `json:"room_id"`
	CheckIn   string `json:"check_in"`
	CheckOut  string `json:"check_out"`
	Nights    int    `json:"nights"`
	RoomCount int    `json:"room_count"`
	Available int    `json:"available"`
}

type CalendarDay struct {
	Date      string `json:"date"`
	Booked    int    `json:"booked"`
	Available int    `json:"available"`
}

func toCalendar(days []inventory.DayAvailability) []CalendarDay {
	out := make([]CalendarDay, 0, len(days))
	for _, d := range days {
		out = append(out, CalendarDay{Date: d.Date.Format(utils.DateLayout), Booked: d.Booked, Available: d.Available})
	}
	return out
}
