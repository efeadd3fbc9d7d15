package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/httpclient"
)

const serviceName = "subscription"

// HTTPDoer executes HTTP requests. httpclient.Client and
// httpclient.CircuitBreakerClient both satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client reads the subscription read model from the subscription service.
type Client struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a subscription service client rooted at baseURL.
func NewClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{http: doer, baseURL: baseURL, logger: logger}
}

type subscriptionDTO struct {
	ID                  string                    `json:"id"`
	MerchantID          string                    `json:"merchant_id"`
	ServiceName         string                    `json:"service_name"`
	Status              domain.SubscriptionStatus `json:"status"`
	PriceAtSubscription json.Number               `json:"price_at_subscription"`
	Quantity            int                       `json:"quantity"`
	StartDate           string                    `json:"start_date"`
	EndDate             *string                   `json:"end_date"`
}

func (d subscriptionDTO) toDomain() (domain.Subscription, error) {
	s := domain.Subscription{
		ID:          d.ID,
		MerchantID:  d.MerchantID,
		ServiceName: d.ServiceName,
		Status:      d.Status,
		Quantity:    d.Quantity,
	}
	price, err := parseDecimal(d.PriceAtSubscription.String())
	if err != nil {
		return s, fmt.Errorf("subscription %s price: %w", d.ID, err)
	}
	s.PriceAtSubscription = price
	if s.StartDate, err = parseDay(d.StartDate); err != nil {
		return s, fmt.Errorf("subscription %s start_date: %w", d.ID, err)
	}
	if d.EndDate != nil && *d.EndDate != "" {
		end, err := parseDay(*d.EndDate)
		if err != nil {
			return s, fmt.Errorf("subscription %s end_date: %w", d.ID, err)
		}
		s.EndDate = &end
	}
	return s, nil
}

// parseDay accepts a bare date or an RFC 3339 timestamp and keeps the date.
func parseDay(v string) (time.Time, error) {
	if t, err := domain.ParseDate(v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return domain.CalendarDate(t, time.UTC), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("create subscription request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return &apperrors.AppError{
				Code:    "SERVICE_UNAVAILABLE",
				Message: "subscription service is temporarily unavailable",
				Status:  http.StatusServiceUnavailable,
				Err:     errors.Join(apperrors.ErrServiceUnavail, err),
			}
		}
		return fmt.Errorf("call subscription service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode subscription response: %w", err)
	}
	return nil
}

// ListSubscriptions returns a merchant's subscriptions billable on date.
func (c *Client) ListSubscriptions(ctx context.Context, merchantID string, date time.Time) ([]domain.Subscription, error) {
	var body struct {
		Data []subscriptionDTO `json:"data"`
	}
	path := "/api/v1/merchants/" + url.PathEscape(merchantID) + "/subscriptions"
	q := url.Values{"date": {date.Format(domain.DateLayout)}, "status": {string(domain.SubscriptionActive)}}
	if err := c.get(ctx, path, q, &body); err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(body.Data))
	for _, d := range body.Data {
		s, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		// The remote filter is advisory; billing only trusts its own check.
		if s.BillableOn(date) {
			subs = append(subs, s)
		}
	}
	c.logger.DebugContext(ctx, "subscriptions fetched",
		slog.String("merchant_id", merchantID),
		slog.Int("count", len(subs)),
	)
	return subs, nil
}

// ListBillableMerchants returns merchants with a subscription billable on date.
func (c *Client) ListBillableMerchants(ctx context.Context, date time.Time) ([]string, error) {
	var body struct {
		Data []string `json:"data"`
	}
	q := url.Values{"date": {date.Format(domain.DateLayout)}}
	if err := c.get(ctx, "/api/v1/subscriptions/billable-merchants", q, &body); err != nil {
		return nil, err
	}
	if body.Data == nil {
		body.Data = []string{}
	}
	return body.Data, nil
}
