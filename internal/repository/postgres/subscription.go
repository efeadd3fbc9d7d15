package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
)

// SubscriptionReader reads the subscriptions read model table.
type SubscriptionReader struct {
	pool database.DBTX
}

// NewSubscriptionReader creates a new PostgreSQL-backed subscription reader.
func NewSubscriptionReader(pool database.DBTX) *SubscriptionReader {
	return &SubscriptionReader{pool: pool}
}

// ListSubscriptions returns a merchant's subscriptions billable on date.
func (r *SubscriptionReader) ListSubscriptions(ctx context.Context, merchantID string, date time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT id, merchant_id, service_name, status, price_at_subscription, quantity, start_date, end_date
		FROM subscriptions
		WHERE merchant_id = $1
			AND status = 'ACTIVE'
			AND start_date <= $2
			AND (end_date IS NULL OR end_date >= $2)
		ORDER BY start_date, id`

	rows, err := r.pool.Query(ctx, query, merchantID, date)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		var s domain.Subscription
		var status string
		if err := rows.Scan(
			&s.ID,
			&s.MerchantID,
			&s.ServiceName,
			&status,
			&s.PriceAtSubscription,
			&s.Quantity,
			&s.StartDate,
			&s.EndDate,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		s.Status = domain.SubscriptionStatus(status)
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// ListBillableMerchants returns merchants with a subscription billable on date.
func (r *SubscriptionReader) ListBillableMerchants(ctx context.Context, date time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT merchant_id
		FROM subscriptions
		WHERE status = 'ACTIVE'
			AND start_date <= $1
			AND (end_date IS NULL OR end_date >= $1)
		ORDER BY merchant_id`

	rows, err := r.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list billable merchants: %w", err)
	}
	defer rows.Close()

	merchants := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan merchant id: %w", err)
		}
		merchants = append(merchants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merchant ids: %w", err)
	}
	return merchants, nil
}
