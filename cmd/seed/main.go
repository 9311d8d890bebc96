package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"innkeeper/internal/app"
	"innkeeper/internal/config"
	"innkeeper/internal/domain/booking"
	"innkeeper/internal/domain/history"
	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/policy"
	"innkeeper/internal/pkg/logger"
)

type seedRoom struct {
	name      string
	count     int
	price     int64
	extraBed  int64
	freeDays  int
	refundPct float64
}

var rooms = []seedRoom{
	{"Standard Single", 6, 6500, 0, 1, 100},
	{"Garden Double", 8, 9800, 2500, 2, 80},
	{"Family Suite", 3, 18500, 3000, 7, 50},
	{"Penthouse", 1, 42000, 5000, 14, 25},
}

func (r seedRoom) policy() policy.Policy {
	p := policy.Default
	p.FreeCancellationBeforeDays = r.freeDays
	p.RefundPercentage = r.refundPct
	return p
}

func (r seedRoom) params() inventory.CreateRoomParams {
	return inventory.CreateRoomParams{
		Name:               r.name,
		RoomCount:          r.count,
		PricePerNight:      r.price,
		ExtraBedPrice:      r.extraBed,
		CancellationPolicy: datatypes.JSON(r.policy().JSON()),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", false).WithError(err).Fatal("config load failed")
	}
	log := logger.New(cfg.LogLevel, false)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}
	defer a.Close()

	// Cleanup old data (in safe order to avoid foreign key errors)
	log.Info("cleaning old data")
	for _, table := range []string{"booking_status_histories", "payment_refunds", "payments", "booking_rooms", "bookings", "hotel_rooms"} {
		if err := a.DB.Exec("DELETE FROM " + table).Error; err != nil {
			log.WithError(err).WithField("table", table).Fatal("cleanup failed")
		}
	}

	// ================== ROOMS ==================
	created := make([]*inventory.HotelRoom, 0, len(rooms))
	for _, r := range rooms {
		room, err := a.Ledger.CreateRoom(ctx, r.params())
		if err != nil {
			log.WithError(err).WithField("room", r.name).Fatal("create room failed")
		}
		created = append(created, room)
	}
	log.WithField("count", len(created)).Info("rooms created")

	// ================== BOOKINGS ==================
	guestID := int64(100)
	today := inventory.DateOnly(time.Now().UTC())
	guests := []booking.Guest{
		{Name: "Ada Lovelace", Email: "ada@example.com"},
		{Name: "Grace Hopper", Email: "grace@example.com", Phone: "+1 555 0100"},
		{Name: "Alan Turing", Email: "alan@example.com", Notes: "late arrival"},
	}
	for i, g := range guests {
		in := today.AddDate(0, 0, 7*(i+1))
		d, err := a.Bookings.CreateBooking(ctx, booking.CreateBookingRequest{
			Rooms: []booking.RoomRequest{
				{RoomID: created[i%len(created)].ID, CheckIn: in, CheckOut: in.AddDate(0, 0, 2+i), Quantity: 1},
			},
			Guest:   g,
			ActorID: &guestID,
			Source:  history.SourceImport,
		})
		if err != nil {
			log.WithError(err).WithField("guest", g.Name).Fatal("create booking failed")
		}
		log.WithField("reference", d.Booking.BookingReference).Info("booking created")
	}

	// ================== TOKENS ==================
	adminToken, err := a.JWT.GenerateToken(1, "admin")
	if err != nil {
		log.WithError(err).Fatal("issue admin token failed")
	}
	guestToken, err := a.JWT.GenerateToken(guestID, "user")
	if err != nil {
		log.WithError(err).Fatal("issue guest token failed")
	}

	fmt.Println("Seed completed.")
	fmt.Printf("Admin token (user 1):   %s\n", adminToken)
	fmt.Printf("Guest token (user %d): %s\n", guestID, guestToken)
}
