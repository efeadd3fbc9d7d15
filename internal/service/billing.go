package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/tracing"
)

// BillingService accrues daily service fees from merchant subscriptions.
// Re-running an accrual for the same date creates nothing new.
type BillingService struct {
	store         repository.Store
	subscriptions repository.SubscriptionReader
	events        EventPublisher
	audit         AuditSink
	logger        *slog.Logger
	loc           *time.Location
	now           Clock
}

// NewBillingService creates a billing service computing dates in loc.
func NewBillingService(
	store repository.Store,
	subscriptions repository.SubscriptionReader,
	events EventPublisher,
	audit AuditSink,
	logger *slog.Logger,
	loc *time.Location,
) *BillingService {
	if loc == nil {
		loc = time.UTC
	}
	return &BillingService{
		store:         store,
		subscriptions: subscriptions,
		events:        events,
		audit:         audit,
		logger:        logger,
		loc:           loc,
		now:           utcNow,
	}
}

// Today returns the current calendar date in the billing location.
func (s *BillingService) Today() time.Time {
	return domain.CalendarDate(s.now(), s.loc)
}

// AccrueToday accrues for the current calendar date in the billing location.
func (s *BillingService) AccrueToday(ctx context.Context, merchantIDs []string, actorID string) ([]domain.BillingRecord, error) {
	return s.AccrueDailyCharges(ctx, s.Today(), merchantIDs, actorID)
}

// AccrueDailyCharges writes one DAILY_SERVICE_FEE per merchant with a
// positive amount on billingDate. billingDate names a day; its clock time
// is ignored and no zone conversion is applied. With no merchantIDs every merchant with a
// billable subscription is charged. The result holds every billed merchant's
// record, whether created now or earlier. Failures of single merchants are
// joined into the returned error and do not stop the others.
func (s *BillingService) AccrueDailyCharges(ctx context.Context, billingDate time.Time, merchantIDs []string, actorID string) (records []domain.BillingRecord, err error) {
	ctx, span := tracing.Start(ctx, "BillingService.AccrueDailyCharges")
	defer func() { tracing.EndSpan(span, err) }()

	date := domain.DateOf(billingDate)

	merchants := dedupe(merchantIDs)
	if len(merchants) == 0 {
		merchants, err = s.subscriptions.ListBillableMerchants(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("list billable merchants: %w", err)
		}
	}

	records = []domain.BillingRecord{}
	var errs []error
	created := 0
	for _, merchantID := range merchants {
		rec, isNew, err := s.accrue(ctx, merchantID, date, actorID)
		if err != nil {
			billingAccrualFailuresTotal.Inc()
			s.logger.ErrorContext(ctx, "daily accrual failed",
				slog.String("merchant_id", merchantID),
				slog.String("date", date.Format(domain.DateLayout)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("merchant %s: %w", merchantID, err))
			continue
		}
		if rec == nil {
			continue
		}
		if isNew {
			created++
		}
		records = append(records, *rec)
	}

	s.logger.InfoContext(ctx, "daily accrual finished",
		slog.String("date", date.Format(domain.DateLayout)),
		slog.Int("merchants", len(merchants)),
		slog.Int("records", len(records)),
		slog.Int("created", created),
		slog.Int("failed", len(errs)),
	)
	return records, errors.Join(errs...)
}

// accrue bills one merchant. It returns a nil record when nothing is owed.
func (s *BillingService) accrue(ctx context.Context, merchantID string, date time.Time, actorID string) (*domain.BillingRecord, bool, error) {
	subs, err := s.subscriptions.ListSubscriptions(ctx, merchantID, date)
	if err != nil {
		return nil, false, fmt.Errorf("list subscriptions: %w", err)
	}
	amount := domain.DailyAmount(subs, date)
	if !amount.IsPositive() {
		return nil, false, nil
	}

	now := s.now()
	rec, created, err := s.store.Billing().CreateDailyFee(ctx, &domain.BillingRecord{
		ID:          uuid.New().String(),
		MerchantID:  merchantID,
		BillingType: domain.BillingDailyServiceFee,
		Amount:      amount,
		DueDate:     date,
		Status:      domain.BillingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create daily fee: %w", err)
	}
	if !created {
		return rec, false, nil
	}

	billingRecordsCreatedTotal.Inc()
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.ActionBillingAccrued,
		EntityType: domain.EntityBillingRecord,
		EntityID:   rec.ID,
		NewValues: map[string]any{
			"merchant_id":  rec.MerchantID,
			"billing_type": rec.BillingType,
			"amount":       rec.Amount.String(),
			"due_date":     rec.DueDate.Format(domain.DateLayout),
		},
	})
	if err := s.events.PublishBillingAccrued(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish billing.accrued event",
			slog.String("billing_record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	return rec, true, nil
}

// MarkPaid settles a record. Repeating it with the same payment id returns
// the record unchanged; a different payment id for a PAID record is an
// invalid transition.
func (s *BillingService) MarkPaid(ctx context.Context, recordID, paymentID string, paidAt time.Time) (*domain.BillingRecord, error) {
	if paymentID == "" {
		return nil, apperrors.InvalidInput("payment_id is required")
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	var rec *domain.BillingRecord
	changed := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.Billing().LockBillingRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if r.Status == domain.BillingPaid {
			if r.PaymentID != nil && *r.PaymentID == paymentID {
				rec = r
				return nil
			}
			return apperrors.InvalidTransition(string(r.Status), string(domain.BillingPaid))
		}
		if err := tx.Billing().MarkPaid(ctx, recordID, paymentID, paidAt); err != nil {
			return err
		}
		r.Status = domain.BillingPaid
		r.PaymentID = &paymentID
		r.PaidAt = &paidAt
		r.UpdatedAt = s.now()
		rec = r
		changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark billing record %s paid: %w", recordID, err)
	}
	if !changed {
		return rec, nil
	}

	s.audit.Record(ctx, domain.AuditEntry{
		Action:     domain.ActionBillingPaid,
		EntityType: domain.EntityBillingRecord,
		EntityID:   rec.ID,
		OldValues:  map[string]any{"status": domain.BillingPending},
		NewValues:  map[string]any{"status": domain.BillingPaid, "payment_id": paymentID},
	})
	s.logger.InfoContext(ctx, "billing record paid",
		slog.String("billing_record_id", rec.ID),
		slog.String("payment_id", paymentID),
	)
	return rec, nil
}

// GetRecord returns one billing record.
func (s *BillingService) GetRecord(ctx context.Context, id string) (*domain.BillingRecord, error) {
	rec, err := s.store.Billing().GetBillingRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get billing record: %w", err)
	}
	return rec, nil
}

// ListRecords returns a merchant's records due within [from, to].
func (s *BillingService) ListRecords(ctx context.Context, merchantID string, from, to time.Time) ([]domain.BillingRecord, error) {
	if merchantID == "" {
		return nil, apperrors.InvalidInput("merchant_id is required")
	}
	if to.Before(from) {
		return nil, apperrors.InvalidInput("to must not be before from")
	}
	recs, err := s.store.Billing().ListBillingRecords(ctx, merchantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list billing records: %w", err)
	}
	return recs, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
