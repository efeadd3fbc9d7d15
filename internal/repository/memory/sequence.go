package memory

import (
	"context"
	"sync"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
)

var _ repository.OrderNumberSequence = (*OrderNumberSequence)(nil)

// OrderNumberSequence is a per-day counter kept in process memory.
type OrderNumberSequence struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewOrderNumberSequence creates an empty counter.
func NewOrderNumberSequence() *OrderNumberSequence {
	return &OrderNumberSequence{counters: make(map[string]int64)}
}

// Next increments and returns the counter of day.
func (s *OrderNumberSequence) Next(_ context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := day.Format("20060102")
	s.counters[key]++
	return s.counters[key], nil
}
