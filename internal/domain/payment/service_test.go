package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"innkeeper/internal/database"
	"innkeeper/internal/events"
	"innkeeper/internal/pkg/logger"
	"innkeeper/internal/pkg/reference"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, evt events.Event) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_test_%s?mode=memory&cache=shared", t.Name())
	db, err := database.Connect(dsn, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	svc := NewService(db, reference.NewTableAllocator("payments", "payment_reference"), events.NewNoop(logger.Discard()), logger.Discard(), 3)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	return svc, db
}

func createPayment(t *testing.T, svc *Service, db *gorm.DB, bookingID, amount int64) *Payment {
	t.Helper()
	var p *Payment
	err := database.RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
		var err error
		p, err = svc.Create(context.Background(), tx, bookingID, amount)
		return err
	})
	require.NoError(t, err)
	return p
}

func completedPayment(t *testing.T, svc *Service, db *gorm.DB, amount int64) *Payment {
	t.Helper()
	p := createPayment(t, svc, db, 1, amount)
	p, err := svc.MarkCompleted(context.Background(), p.ID, "txn-"+p.PaymentReference, nil)
	require.NoError(t, err)
	return p
}

func amt(v int64) *int64 { return &v }

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusPending.CanTransitionTo(StatusFailed))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusCompleted.CanTransitionTo(StatusPartiallyRefunded))
	assert.True(t, StatusPartiallyRefunded.CanTransitionTo(StatusRefunded))

	assert.False(t, StatusPending.CanTransitionTo(StatusRefunded))
	assert.False(t, StatusFailed.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusRefunded.CanTransitionTo(StatusPartiallyRefunded))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusPending))
}

func TestCreate_AssignsSequentialReferences(t *testing.T) {
	svc, db := setupTestService(t)

	first := createPayment(t, svc, db, 1, 5000)
	second := createPayment(t, svc, db, 2, 7000)

	assert.Equal(t, "PAY-20240601-00001", first.PaymentReference)
	assert.Equal(t, "PAY-20240601-00002", second.PaymentReference)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, int64(1), first.Version)

	err := database.RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
		_, err := svc.Create(context.Background(), tx, 3, -1)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreate_ConcurrentReferencesAreUnique(t *testing.T) {
	svc, db := setupTestService(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- database.RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
				_, err := svc.Create(context.Background(), tx, int64(i+1), 100)
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var refs []string
	require.NoError(t, db.Model(&Payment{}).Order("payment_reference asc").Pluck("payment_reference", &refs).Error)
	require.Len(t, refs, n)
	for i, ref := range refs {
		assert.Equal(t, reference.Format("PAY", svc.now(), i+1), ref)
	}
}

func TestMarkCompleted_IsIdempotent(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	p := createPayment(t, svc, db, 1, 10000)

	completed, err := svc.MarkCompleted(ctx, p.ID, "txn-1", json.RawMessage(`{"gateway":"test"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.PaidAt)
	paidAt := *completed.PaidAt
	assert.JSONEq(t, `{"gateway":"test"}`, string(completed.GatewayDetails))

	svc.now = func() time.Time { return time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC) }
	again, err := svc.MarkCompleted(ctx, p.ID, "txn-1", nil)
	require.NoError(t, err)
	assert.True(t, again.PaidAt.Equal(paidAt), "paid_at must not be overwritten")
	assert.Equal(t, completed.Version, again.Version)

	_, err = svc.MarkCompleted(ctx, p.ID, "txn-other", nil)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestMarkFailedAndCancel_OnlyFromPending(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	p := createPayment(t, svc, db, 1, 10000)
	failed, err := svc.MarkFailed(ctx, p.ID, " card declined ")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "card declined", failed.FailureReason)

	_, err = svc.MarkCompleted(ctx, p.ID, "txn", nil)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = svc.Cancel(ctx, p.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	q := createPayment(t, svc, db, 2, 10000)
	cancelled, err := svc.Cancel(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.MarkFailed(ctx, 9999, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefund_PartialThenFullThenNotRefundable(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	p := completedPayment(t, svc, db, 10000)

	p, err := svc.Refund(ctx, RefundParams{PaymentID: p.ID, Amount: amt(4000), Reason: "partial"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyRefunded, p.Status)
	assert.Equal(t, int64(4000), p.RefundedAmount)

	p, err = svc.Refund(ctx, RefundParams{PaymentID: p.ID, Amount: amt(6000)})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(10000), p.RefundedAmount)
	assert.NotNil(t, p.RefundedAt)

	_, err = svc.Refund(ctx, RefundParams{PaymentID: p.ID, Amount: amt(100)})
	assert.ErrorIs(t, err, ErrNotRefundable)

	refunds, err := svc.ListRefunds(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, int64(4000), refunds[0].Amount)
	assert.Equal(t, "partial", refunds[0].Reason)
}

func TestRefund_Validation(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	pending := createPayment(t, svc, db, 1, 10000)
	_, err := svc.Refund(ctx, RefundParams{PaymentID: pending.ID})
	assert.ErrorIs(t, err, ErrNotRefundable)

	p := completedPayment(t, svc, db, 10000)
	_, err = svc.Refund(ctx, RefundParams{PaymentID: p.ID, Amount: amt(0)})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Refund(ctx, RefundParams{PaymentID: p.ID, Amount: amt(10001)})
	assert.ErrorIs(t, err, ErrRefundExceedsRefundable)

	// nil amount refunds the remainder
	full, err := svc.Refund(ctx, RefundParams{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, full.Status)
	assert.Equal(t, int64(10000), full.RefundedAmount)

	assert.False(t, CanRefund(full))
}

func TestRefund_ConcurrentPartialRefundsNeverExceedAmount(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	p := completedPayment(t, svc, db, 10000)

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refund(ctx, RefundParams{PaymentID: p.ID, Amount: amt(3000)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrRefundExceedsRefundable), errors.Is(err, ErrNotRefundable):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(9000), final.RefundedAmount)
	assert.LessOrEqual(t, final.RefundedAmount, final.Amount)
	assert.Equal(t, StatusPartiallyRefunded, final.Status)
}

func TestCasUpdate_StaleVersionIsAConflict(t *testing.T) {
	svc, db := setupTestService(t)
	p := completedPayment(t, svc, db, 10000)

	// another writer bumps the version after p was read
	require.NoError(t, db.Exec("UPDATE payments SET version = version + 1 WHERE id = ?", p.ID).Error)

	err := casUpdate(db, p, map[string]any{"failure_reason": "stale"})
	assert.ErrorIs(t, err, database.ErrConcurrencyConflict)

	fresh, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.FailureReason)
	assert.Equal(t, p.Version+1, fresh.Version)
}

func TestPendingHelpers(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	p := createPayment(t, svc, db, 7, 10000)

	err := database.RunInTx(ctx, db, 3, func(tx *gorm.DB) error {
		pending, err := svc.PendingForBooking(ctx, tx, 7)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, p.ID, pending.ID)

		refundable, err := svc.RefundableForBooking(ctx, tx, 7)
		require.NoError(t, err)
		assert.Nil(t, refundable)

		adjusted, err := svc.AdjustPending(ctx, tx, p.ID, 6000)
		require.NoError(t, err)
		assert.Equal(t, int64(6000), adjusted.Amount)
		assert.Equal(t, p.Version+1, adjusted.Version)
		return nil
	})
	require.NoError(t, err)

	completed, err := svc.MarkCompleted(ctx, p.ID, "txn", nil)
	require.NoError(t, err)
	err = database.RunInTx(ctx, db, 3, func(tx *gorm.DB) error {
		_, err := svc.AdjustPending(ctx, tx, completed.ID, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestMarkCompleted_PublishesOnce(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.Event) bool { return e.Type == events.TypePaymentCompleted })).Return(nil).Once()
	svc.publisher = pub

	p := createPayment(t, svc, db, 1, 10000)
	_, err := svc.MarkCompleted(ctx, p.ID, "txn", nil)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, p.ID, "txn", nil)
	require.NoError(t, err)

	pub.AssertExpectations(t)
}
