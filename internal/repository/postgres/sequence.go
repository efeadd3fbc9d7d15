package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
)

// OrderNumberSequence draws order number counters from order_number_seq.
// The counter is global rather than per day; order numbers stay unique
// because the date prefix only narrows them further.
type OrderNumberSequence struct {
	pool database.DBTX
}

// NewOrderNumberSequence creates a sequence-backed order number counter.
func NewOrderNumberSequence(pool database.DBTX) *OrderNumberSequence {
	return &OrderNumberSequence{pool: pool}
}

// Next returns the next counter value. day is ignored.
func (s *OrderNumberSequence) Next(ctx context.Context, _ time.Time) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}
