package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingType classifies a billing record.
type BillingType string

const (
	BillingDailyServiceFee BillingType = "DAILY_SERVICE_FEE"
	BillingSubscription    BillingType = "SUBSCRIPTION"
)

// BillingStatus is PENDING until the payment collaborator reports success.
type BillingStatus string

const (
	BillingPending BillingStatus = "PENDING"
	BillingPaid    BillingStatus = "PAID"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// BillingRecord is one charge owed by a merchant.
type BillingRecord struct {
	ID          string          `json:"id"`
	MerchantID  string          `json:"merchant_id"`
	BillingType BillingType     `json:"billing_type"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"due_date"`
	Status      BillingStatus   `json:"status"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	PaymentID   *string         `json:"payment_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SubscriptionStatus of the external read model.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPaused    SubscriptionStatus = "PAUSED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription is a merchant's service subscription as read from its owner.
// StartDate and EndDate are calendar dates at midnight UTC.
type Subscription struct {
	ID                  string             `json:"id"`
	MerchantID          string             `json:"merchant_id"`
	ServiceName         string             `json:"service_name"`
	Status              SubscriptionStatus `json:"status"`
	PriceAtSubscription decimal.Decimal    `json:"price_at_subscription"`
	Quantity            int                `json:"quantity"`
	StartDate           time.Time          `json:"start_date"`
	EndDate             *time.Time         `json:"end_date,omitempty"`
}

// BillableOn reports whether the subscription is ACTIVE and covers date.
func (s *Subscription) BillableOn(date time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	if s.StartDate.After(date) {
		return false
	}
	return s.EndDate == nil || !s.EndDate.Before(date)
}

// DailyAmount sums price × quantity over the subscriptions billable on date.
func DailyAmount(subs []Subscription, date time.Time) decimal.Decimal {
	total := decimal.Zero
	for i := range subs {
		if subs[i].BillableOn(date) {
			total = total.Add(subs[i].PriceAtSubscription.Mul(decimal.NewFromInt(int64(subs[i].Quantity))))
		}
	}
	return total
}

// CalendarDate returns the calendar date t falls on in loc, as midnight UTC.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the calendar date of t in its own location, as midnight UTC.
// Use it for values that already name a day, such as ParseDate output.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
