package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
)

var _ repository.SubscriptionReader = (*SubscriptionReader)(nil)

// SubscriptionReader is an in-process subscription read model.
type SubscriptionReader struct {
	mu   sync.RWMutex
	subs []domain.Subscription
}

// NewSubscriptionReader creates a reader seeded with subs.
func NewSubscriptionReader(subs ...domain.Subscription) *SubscriptionReader {
	return &SubscriptionReader{subs: append([]domain.Subscription(nil), subs...)}
}

// Put adds or replaces a subscription by id.
func (r *SubscriptionReader) Put(sub domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].ID == sub.ID {
			r.subs[i] = sub
			return
		}
	}
	r.subs = append(r.subs, sub)
}

func (r *SubscriptionReader) ListSubscriptions(_ context.Context, merchantID string, date time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subscription, 0)
	for _, s := range r.subs {
		if s.MerchantID == merchantID && s.BillableOn(date) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *SubscriptionReader) ListBillableMerchants(_ context.Context, date time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var merchants []string
	for _, s := range r.subs {
		if s.BillableOn(date) && !slices.Contains(merchants, s.MerchantID) {
			merchants = append(merchants, s.MerchantID)
		}
	}
	slices.Sort(merchants)
	return merchants, nil
}
