package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository/memory"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

func subscription(id, merchantID string, price int64, qty int, start string) domain.Subscription {
	s, err := domain.ParseDate(start)
	if err != nil {
		panic(err)
	}
	return domain.Subscription{
		ID:                  id,
		MerchantID:          merchantID,
		ServiceName:         "warehousing",
		Status:              domain.SubscriptionActive,
		PriceAtSubscription: decimal.NewFromInt(price),
		Quantity:            qty,
		StartDate:           s,
	}
}

var march1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// Scenario: accruing the same date twice creates one record of 500.
func TestBillingService_AccrueTwice_CreatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subs.Put(subscription("s-1", "merchant-1", 500, 1, "2024-01-01"))

	first, err := env.billing.AccrueDailyCharges(ctx, march1, []string{"merchant-1"}, "scheduler")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, decimal.NewFromInt(500).Equal(first[0].Amount))
	assert.Equal(t, domain.BillingDailyServiceFee, first[0].BillingType)
	assert.Equal(t, domain.BillingPending, first[0].Status)
	assert.True(t, march1.Equal(first[0].DueDate))

	second, err := env.billing.AccrueDailyCharges(ctx, march1, []string{"merchant-1"}, "scheduler")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	recs, err := env.billing.ListRecords(ctx, "merchant-1", march1, march1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Len(t, env.events.accrued, 1, "only the first run publishes")
	assert.Len(t, env.audit.byAction(domain.ActionBillingAccrued), 1)
}

func TestBillingService_ConcurrentAccrual_CreatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subs.Put(subscription("s-1", "merchant-1", 500, 1, "2024-01-01"))

	done := make(chan []domain.BillingRecord, 8)
	for i := 0; i < cap(done); i++ {
		go func() {
			recs, err := env.billing.AccrueDailyCharges(ctx, march1, []string{"merchant-1"}, "scheduler")
			assert.NoError(t, err)
			done <- recs
		}()
	}
	ids := map[string]struct{}{}
	for i := 0; i < cap(done); i++ {
		for _, r := range <-done {
			ids[r.ID] = struct{}{}
		}
	}
	assert.Len(t, ids, 1)
}

func TestBillingService_DiscoversMerchantsAndSkipsZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subs.Put(subscription("s-1", "m-a", 200, 2, "2024-02-01"))
	env.subs.Put(subscription("s-2", "m-a", 100, 1, "2024-02-15"))
	env.subs.Put(subscription("s-3", "m-b", 0, 3, "2024-01-01"))
	env.subs.Put(subscription("s-4", "m-c", 900, 1, "2024-03-02"))
	ended := subscription("s-5", "m-d", 300, 1, "2024-01-01")
	end := march1.AddDate(0, 0, -1)
	ended.EndDate = &end
	env.subs.Put(ended)
	paused := subscription("s-6", "m-e", 300, 1, "2024-01-01")
	paused.Status = domain.SubscriptionPaused
	env.subs.Put(paused)

	recs, err := env.billing.AccrueDailyCharges(ctx, march1, nil, "scheduler")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m-a", recs[0].MerchantID)
	assert.True(t, decimal.NewFromInt(500).Equal(recs[0].Amount))
}

func TestBillingService_AccrueDate_WestOfUTC(t *testing.T) {
	env := newTestEnv(t)
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	env.billing.loc = newYork
	env.subs.Put(subscription("s-1", "m-1", 500, 1, "2024-01-01"))

	day, err := domain.ParseDate("2024-03-01")
	require.NoError(t, err)
	recs, err := env.billing.AccrueDailyCharges(context.Background(), day, []string{"m-1"}, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, march1.Equal(recs[0].DueDate), "due date %s", recs[0].DueDate.Format(domain.DateLayout))
}

func TestBillingService_AccrueToday_UsesBillingLocation(t *testing.T) {
	tests := []struct {
		name string
		zone string
		now  time.Time
		want string
	}{
		{"new york afternoon", "America/New_York", time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), "2024-03-01"},
		{"new york before local midnight", "America/New_York", time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC), "2024-02-29"},
		{"lagos after local midnight", "Africa/Lagos", time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC), "2024-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			loc, err := time.LoadLocation(tt.zone)
			require.NoError(t, err)
			env.billing.loc = loc
			env.billing.now = func() time.Time { return tt.now }
			env.subs.Put(subscription("s-1", "m-1", 500, 1, "2024-01-01"))

			assert.Equal(t, tt.want, env.billing.Today().Format(domain.DateLayout))

			recs, err := env.billing.AccrueToday(context.Background(), []string{"m-1"}, "")
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.want, recs[0].DueDate.Format(domain.DateLayout))
		})
	}
}

type mockSubscriptionReader struct {
	mock.Mock
}

func (m *mockSubscriptionReader) ListSubscriptions(ctx context.Context, merchantID string, date time.Time) ([]domain.Subscription, error) {
	args := m.Called(ctx, merchantID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Subscription), args.Error(1)
}

func (m *mockSubscriptionReader) ListBillableMerchants(ctx context.Context, date time.Time) ([]string, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestBillingService_MerchantFailureDoesNotStopOthers(t *testing.T) {
	reader := new(mockSubscriptionReader)
	reader.On("ListSubscriptions", mock.Anything, "m-bad", march1).
		Return(nil, errors.New("subscription service timeout"))
	reader.On("ListSubscriptions", mock.Anything, "m-good", march1).
		Return([]domain.Subscription{subscription("s-1", "m-good", 700, 1, "2024-01-01")}, nil)

	events := &recordingPublisher{}
	sink := &recordingSink{}
	svc := NewBillingService(memory.NewStore(), reader, events, sink, newTestLogger(), time.UTC)

	recs, err := svc.AccrueDailyCharges(context.Background(), march1, []string{"m-bad", "m-good", "m-bad"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merchant m-bad")
	require.Len(t, recs, 1)
	assert.Equal(t, "m-good", recs[0].MerchantID)
	reader.AssertNumberOfCalls(t, "ListSubscriptions", 2)
}

func TestBillingService_MerchantDiscoveryFailure(t *testing.T) {
	reader := new(mockSubscriptionReader)
	reader.On("ListBillableMerchants", mock.Anything, march1).Return(nil, apperrors.ErrServiceUnavail)

	svc := NewBillingService(memory.NewStore(), reader, &recordingPublisher{}, &recordingSink{}, newTestLogger(), time.UTC)
	_, err := svc.AccrueDailyCharges(context.Background(), march1, nil, "")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestBillingService_MarkPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subs.Put(subscription("s-1", "m-1", 500, 1, "2024-01-01"))
	recs, err := env.billing.AccrueDailyCharges(ctx, march1, []string{"m-1"}, "")
	require.NoError(t, err)
	id := recs[0].ID
	paidAt := march1.Add(10 * time.Hour)

	_, err = env.billing.MarkPaid(ctx, id, "", paidAt)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	paid, err := env.billing.MarkPaid(ctx, id, "pay-1", paidAt)
	require.NoError(t, err)
	assert.Equal(t, domain.BillingPaid, paid.Status)
	require.NotNil(t, paid.PaymentID)
	assert.Equal(t, "pay-1", *paid.PaymentID)

	again, err := env.billing.MarkPaid(ctx, id, "pay-1", paidAt)
	require.NoError(t, err, "same payment is idempotent")
	assert.Equal(t, domain.BillingPaid, again.Status)

	_, err = env.billing.MarkPaid(ctx, id, "pay-2", paidAt)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = env.billing.MarkPaid(ctx, "missing", "pay-1", paidAt)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Len(t, env.audit.byAction(domain.ActionBillingPaid), 1)

	stored, err := env.billing.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.BillingPaid, stored.Status)
}

func TestBillingService_ListRecords_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.billing.ListRecords(context.Background(), "", march1, march1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = env.billing.ListRecords(context.Background(), "m-1", march1, march1.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
