package service

import (
	"context"
	"errors"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// EventPublisher is the subset of event.Producer the services publish
// through. Publish failures are logged and never fail the operation.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order, allocations []domain.Allocation) error
	PublishOrderStatusChanged(ctx context.Context, order *domain.Order, from domain.OrderStatus, notes string) error
	PublishBillingAccrued(ctx context.Context, rec *domain.BillingRecord) error
	PublishStockLow(ctx context.Context, item *domain.StockItem) error
}

// AuditSink receives one entry per state change.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// errorCode returns the AppError code of err, or INTERNAL_ERROR.
func errorCode(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// errorMessage returns the client-facing message of err.
func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
