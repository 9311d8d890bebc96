package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type bookingsMock struct {
	mock.Mock
}

func (m *bookingsMock) SweepNoShows(ctx context.Context, asOf time.Time, limit int) (int, error) {
	args := m.Called(ctx, asOf, limit)
	return args.Int(0), args.Error(1)
}

func (m *bookingsMock) ArchiveExpired(ctx context.Context, retention time.Duration, limit int) (int, error) {
	args := m.Called(ctx, retention, limit)
	return args.Int(0), args.Error(1)
}

func newTestJobs(b Bookings) (*Jobs, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	j := NewJobs(b, log, 72*time.Hour)
	j.batchSize = 2
	j.now = func() time.Time { return time.Date(2024, 6, 2, 3, 15, 0, 0, time.UTC) }
	return j, hook
}

func TestSweepNoShows_DrainsFullBatches(t *testing.T) {
	b := &bookingsMock{}
	asOf := time.Date(2024, 6, 2, 3, 15, 0, 0, time.UTC)
	b.On("SweepNoShows", mock.Anything, asOf, 2).Return(2, nil).Twice()
	b.On("SweepNoShows", mock.Anything, asOf, 2).Return(1, nil).Once()

	j, hook := newTestJobs(b)
	j.SweepNoShows()

	b.AssertExpectations(t)
	b.AssertNumberOfCalls(t, "SweepNoShows", 3)
	assert.Equal(t, 5, hook.LastEntry().Data["marked"])
}

func TestSweepNoShows_StopsOnError(t *testing.T) {
	b := &bookingsMock{}
	b.On("SweepNoShows", mock.Anything, mock.Anything, 2).Return(0, errors.New("db down")).Once()

	j, hook := newTestJobs(b)
	j.SweepNoShows()

	b.AssertNumberOfCalls(t, "SweepNoShows", 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "no-show sweep failed", hook.LastEntry().Message)
}

func TestArchiveExpired_UsesRetention(t *testing.T) {
	b := &bookingsMock{}
	b.On("ArchiveExpired", mock.Anything, 72*time.Hour, 2).Return(0, nil).Once()

	j, hook := newTestJobs(b)
	j.ArchiveExpired()

	b.AssertExpectations(t)
	assert.Equal(t, 0, hook.LastEntry().Data["archived"])
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	j, _ := newTestJobs(&bookingsMock{})
	log, _ := logtest.NewNullLogger()

	s := NewScheduler(j, log, Schedules{NoShow: "not a cron line", Archive: "0 4 * * *"})
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_show_sweep")
}

func TestScheduler_StartStop(t *testing.T) {
	j, _ := newTestJobs(&bookingsMock{})
	log, hook := logtest.NewNullLogger()

	s := NewScheduler(j, log, Schedules{NoShow: "15 3 * * *", Archive: "@daily"})
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 2)
	assert.Len(t, hook.AllEntries(), 2)

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	b := &bookingsMock{}
	b.On("SweepNoShows", mock.Anything, mock.Anything, 2).Return(0, nil).Once()
	b.On("ArchiveExpired", mock.Anything, 72*time.Hour, 2).Return(1, nil).Once()

	j, _ := newTestJobs(b)
	log, _ := logtest.NewNullLogger()
	NewScheduler(j, log, Schedules{}).RunNow()

	b.AssertExpectations(t)
}
