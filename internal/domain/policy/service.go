package policy

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"innkeeper/internal/domain/inventory"
)

// Service resolves and stores per-room policies on top of the inventory ledger.
type Service struct {
	ledger *inventory.Ledger
}

func NewService(ledger *inventory.Ledger) *Service {
	return &Service{ledger: ledger}
}

func (s *Service) ForRoom(ctx context.Context, roomID int64) (Policy, error) {
	room, err := s.ledger.GetRoom(ctx, roomID)
	if err != nil {
		return Policy{}, err
	}
	return forRoom(room)
}

// ForRoomTx is ForRoom reading through an open transaction.
func (s *Service) ForRoomTx(ctx context.Context, tx *gorm.DB, roomID int64) (Policy, error) {
	room, err := s.ledger.GetRoomTx(ctx, tx, roomID)
	if err != nil {
		return Policy{}, err
	}
	return forRoom(room)
}

// Update resolves raw against Default and stores the complete result, so the
// stored document is never partial.
func (s *Service) Update(ctx context.Context, roomID int64, raw []byte) (Policy, error) {
	p, err := Resolve(raw)
	if err != nil {
		return Policy{}, err
	}
	if _, err := s.ledger.UpdatePolicy(ctx, roomID, datatypes.JSON(p.JSON())); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func forRoom(room *inventory.HotelRoom) (Policy, error) {
	p, err := Resolve(room.CancellationPolicy)
	if err != nil {
		return Policy{}, fmt.Errorf("room %d: %w", room.ID, err)
	}
	return p, nil
}
