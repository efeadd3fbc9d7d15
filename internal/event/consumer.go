package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	pkgkafka "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"
)

// TopicPaymentBillingCompleted is published by the payment collaborator when a
// billing record has been paid.
const TopicPaymentBillingCompleted = "payment.billing.completed"

// BillingPayments is the billing operation the consumer drives.
type BillingPayments interface {
	MarkPaid(ctx context.Context, recordID, paymentID string, paidAt time.Time) (*domain.BillingRecord, error)
}

// PaymentCompletedData is the expected payload of a payment.billing.completed
// event.
type PaymentCompletedData struct {
	BillingRecordID string    `json:"billing_record_id"`
	PaymentID       string    `json:"payment_id"`
	PaidAt          time.Time `json:"paid_at"`
}

// Consumer processes incoming payment events.
type Consumer struct {
	billing BillingPayments
	logger  *slog.Logger
}

// NewConsumer creates a new payment event consumer.
func NewConsumer(billing BillingPayments, logger *slog.Logger) *Consumer {
	return &Consumer{billing: billing, logger: logger}
}

// HandlePaymentCompleted marks the referenced billing record PAID.
func (c *Consumer) HandlePaymentCompleted(ctx context.Context, event *pkgkafka.Event) error {
	var data PaymentCompletedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal payment.billing.completed data: %w", err)
	}
	if data.BillingRecordID == "" || data.PaymentID == "" {
		c.logger.WarnContext(ctx, "ignoring payment event without record or payment id",
			slog.String("event_id", event.EventID),
		)
		return nil
	}
	if data.PaidAt.IsZero() {
		data.PaidAt = event.Timestamp
	}

	c.logger.InfoContext(ctx, "processing payment.billing.completed event",
		slog.String("billing_record_id", data.BillingRecordID),
		slog.String("payment_id", data.PaymentID),
	)

	if _, err := c.billing.MarkPaid(ctx, data.BillingRecordID, data.PaymentID, data.PaidAt); err != nil {
		return fmt.Errorf("mark billing record %s paid: %w", data.BillingRecordID, err)
	}
	return nil
}
