package history

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Source is the attributed origin of a state change. Callers always pass it
// explicitly; the recorder never guesses.
type Source string

const (
	SourceSystem  Source = "system"
	SourceAdmin   Source = "admin"
	SourceAPI     Source = "api"
	SourceUser    Source = "user"
	SourceCron    Source = "cron"
	SourceWebhook Source = "webhook"
	SourceImport  Source = "import"
	SourceOther   Source = "other"
)

var sources = map[Source]struct{}{
	SourceSystem:  {},
	SourceAdmin:   {},
	SourceAPI:     {},
	SourceUser:    {},
	SourceCron:    {},
	SourceWebhook: {},
	SourceImport:  {},
	SourceOther:   {},
}

func (s Source) Valid() bool {
	_, ok := sources[s]
	return ok
}

func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
	return s, nil
}

// Provenance says who or what caused a change.
type Provenance struct {
	Source          Source
	ActorID         *int64
	SystemGenerated bool
}

// Entry is one row of the booking status log. Rows are never updated except
// to set EffectiveTo when a newer row supersedes them.
type Entry struct {
	ID                int64          `json:"id" gorm:"primaryKey"`
	BookingID         int64          `json:"booking_id" gorm:"not null;index:idx_history_booking_from,priority:1"`
	BookingRoomID     *int64         `json:"booking_room_id,omitempty" gorm:"index"`
	Status            string         `json:"status" gorm:"size:40;not null"`
	PreviousStatus    string         `json:"previous_status,omitempty" gorm:"size:40"`
	Comments          string         `json:"comments,omitempty" gorm:"type:text"`
	Metadata          datatypes.JSON `json:"metadata,omitempty"`
	ActorID           *int64         `json:"actor_id,omitempty"`
	Source            Source         `json:"source" gorm:"type:varchar(20);not null"`
	IsSystemGenerated bool           `json:"is_system_generated" gorm:"not null;default:false"`
	EffectiveFrom     time.Time      `json:"effective_from" gorm:"not null;index:idx_history_booking_from,priority:2"`
	EffectiveTo       *time.Time     `json:"effective_to,omitempty"`
}

func (Entry) TableName() string {
	return "booking_status_histories"
}

// Active reports whether the entry is the current one for its booking.
func (e *Entry) Active() bool {
	return e.EffectiveTo == nil
}

// RecordParams describes a new history row.
type RecordParams struct {
	BookingID     int64
	BookingRoomID *int64
	Status        string
	// PreviousStatus defaults to the status of the row being closed.
	PreviousStatus string
	Comments       string
	Metadata       map[string]any
	Provenance     Provenance
}
