package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

func cloneBilling(b *domain.BillingRecord) *domain.BillingRecord {
	c := *b
	if b.PaidAt != nil {
		p := *b.PaidAt
		c.PaidAt = &p
	}
	if b.PaymentID != nil {
		p := *b.PaymentID
		c.PaymentID = &p
	}
	return &c
}

func (t *txn) CreateDailyFee(_ context.Context, rec *domain.BillingRecord) (*domain.BillingRecord, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := merchantKey{merchantID: rec.MerchantID, value: rec.DueDate.Format(domain.DateLayout)}
	if id, ok := t.s.dailyFees[key]; ok {
		return cloneBilling(t.s.billing[id]), false, nil
	}
	stored := cloneBilling(rec)
	stored.BillingType = domain.BillingDailyServiceFee
	stored.Status = domain.BillingPending
	stored.UpdatedAt = stored.CreatedAt
	t.s.billing[stored.ID] = stored
	t.s.dailyFees[key] = stored.ID
	t.record(func() {
		delete(t.s.billing, stored.ID)
		delete(t.s.dailyFees, key)
	})
	return cloneBilling(stored), true, nil
}

func (t *txn) GetBillingRecord(_ context.Context, id string) (*domain.BillingRecord, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.billing[id]
	if !ok {
		return nil, apperrors.NotFound(domain.EntityBillingRecord, id)
	}
	return cloneBilling(b), nil
}

func (t *txn) LockBillingRecord(ctx context.Context, id string) (*domain.BillingRecord, error) {
	unlock, err := t.lock(ctx, billingKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.GetBillingRecord(ctx, id)
}

func (t *txn) MarkPaid(_ context.Context, id, paymentID string, paidAt time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.billing[id]
	if !ok {
		return apperrors.NotFound(domain.EntityBillingRecord, id)
	}
	prev := *b
	b.Status = domain.BillingPaid
	b.PaymentID = &paymentID
	b.PaidAt = &paidAt
	b.UpdatedAt = t.s.now()
	t.record(func() { *b = prev })
	return nil
}

func (t *txn) ListBillingRecords(_ context.Context, merchantID string, from, to time.Time) ([]domain.BillingRecord, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]domain.BillingRecord, 0)
	for _, b := range t.s.billing {
		if b.MerchantID != merchantID || b.DueDate.Before(from) || b.DueDate.After(to) {
			continue
		}
		out = append(out, *cloneBilling(b))
	}
	slices.SortFunc(out, func(a, b domain.BillingRecord) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
