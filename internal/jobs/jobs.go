// Package jobs runs the periodic booking maintenance tasks.
package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize  = 200
	defaultJobTimeout = 10 * time.Minute
)

// Bookings is the part of the booking service the jobs drive.
type Bookings interface {
	SweepNoShows(ctx context.Context, asOf time.Time, limit int) (int, error)
	ArchiveExpired(ctx context.Context, retention time.Duration, limit int) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	bookings  Bookings
	log       logrus.FieldLogger
	retention time.Duration
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

func NewJobs(bookings Bookings, log logrus.FieldLogger, retention time.Duration) *Jobs {
	return &Jobs{
		bookings:  bookings,
		log:       log,
		retention: retention,
		batchSize: defaultBatchSize,
		timeout:   defaultJobTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SweepNoShows marks overdue confirmed lines as no-show, batch by batch,
// until a batch comes back short.
func (j *Jobs) SweepNoShows() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	log := j.log.WithField("job", "no_show_sweep")
	log.Info("starting no-show sweep")
	asOf := j.now()

	total := 0
	for {
		n, err := j.bookings.SweepNoShows(ctx, asOf, j.batchSize)
		if err != nil {
			log.WithError(err).Error("no-show sweep failed")
			return
		}
		total += n
		if n < j.batchSize || ctx.Err() != nil {
			break
		}
	}
	log.WithField("marked", total).Info("no-show sweep finished")
}

// ArchiveExpired archives finished bookings past the retention window.
func (j *Jobs) ArchiveExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	log := j.log.WithField("job", "archive")
	log.Info("starting booking archival")

	total := 0
	for {
		n, err := j.bookings.ArchiveExpired(ctx, j.retention, j.batchSize)
		if err != nil {
			log.WithError(err).Error("booking archival failed")
			return
		}
		total += n
		if n < j.batchSize || ctx.Err() != nil {
			break
		}
	}
	log.WithFields(logrus.Fields{"archived": total, "retention": j.retention.String()}).Info("booking archival finished")
}
