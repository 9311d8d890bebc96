package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"innkeeper/internal/database"
	"innkeeper/internal/events"
)

type Recorder struct {
	db        *gorm.DB
	publisher events.Publisher
	log       logrus.FieldLogger
	attempts  int
	now       func() time.Time
}

func NewRecorder(db *gorm.DB, publisher events.Publisher, log logrus.FieldLogger, attempts int) *Recorder {
	return &Recorder{
		db:        db,
		publisher: publisher,
		log:       log,
		attempts:  attempts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return err
	}
	// at most one open row per booking
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_history_one_active ON booking_status_histories (booking_id) WHERE effective_to IS NULL",
	).Error
}

// Record appends a row inside tx. The currently active row for the booking is
// locked and closed at the new row's effective_from before the insert, so the
// booking never has two open rows nor a gap between them.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, p RecordParams) (*Entry, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	tx = tx.WithContext(ctx)

	var prev Entry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ? AND effective_to IS NULL", p.BookingID).
		First(&prev).Error
	hasPrev := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lock active history: %w", err)
	}

	at := r.now()
	if hasPrev && prev.EffectiveFrom.After(at) {
		at = prev.EffectiveFrom
	}

	if hasPrev {
		res := tx.Model(&Entry{}).
			Where("id = ? AND effective_to IS NULL", prev.ID).
			Update("effective_to", at)
		if res.Error != nil {
			return nil, fmt.Errorf("close history: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, database.ErrConcurrencyConflict
		}
	}

	entry := &Entry{
		BookingID:         p.BookingID,
		BookingRoomID:     p.BookingRoomID,
		Status:            strings.TrimSpace(p.Status),
		PreviousStatus:    p.PreviousStatus,
		Comments:          strings.TrimSpace(p.Comments),
		ActorID:           p.Provenance.ActorID,
		Source:            p.Provenance.Source,
		IsSystemGenerated: p.Provenance.SystemGenerated,
		EffectiveFrom:     at,
	}
	if entry.PreviousStatus == "" && hasPrev {
		entry.PreviousStatus = prev.Status
	}
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidEntry, err)
		}
		entry.Metadata = datatypes.JSON(raw)
	}

	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	return entry, nil
}

// RecordNow runs Record in its own transaction and publishes the entry.
func (r *Recorder) RecordNow(ctx context.Context, p RecordParams) (*Entry, error) {
	var out *Entry
	err := database.RunInTx(ctx, r.db, r.attempts, func(tx *gorm.DB) error {
		var err error
		out, err = r.Record(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(ctx, r.publisher, r.log, Event(out))
	return out, nil
}

func (r *Recorder) Latest(ctx context.Context, bookingID int64) (*Entry, error) {
	var e Entry
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("effective_from desc, id desc").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// History returns every row of the booking, newest first.
func (r *Recorder) History(ctx context.Context, bookingID int64) ([]Entry, error) {
	var out []Entry
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("effective_from desc, id desc").
		Find(&out).Error
	return out, err
}

// Event wraps an entry for publishing after commit.
func Event(e *Entry) events.Event {
	return events.New(events.TypeHistoryRecorded, e.BookingID, e)
}

func validate(p RecordParams) error {
	if p.BookingID <= 0 {
		return fmt.Errorf("%w: booking id is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(p.Status) == "" {
		return ErrInvalidStatus
	}
	if !p.Provenance.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, p.Provenance.Source)
	}
	return nil
}
