package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

const billingColumns = `id, merchant_id, billing_type, amount, due_date, status, paid_at, payment_id, created_at, updated_at`

// BillingRepository persists billing_records.
type BillingRepository struct {
	pool database.DBTX
}

// NewBillingRepository creates a new PostgreSQL-backed billing repository.
func NewBillingRepository(pool database.DBTX) *BillingRepository {
	return &BillingRepository{pool: pool}
}

func scanBillingRecord(row pgx.Row) (*domain.BillingRecord, error) {
	var b domain.BillingRecord
	var billingType, status string
	err := row.Scan(
		&b.ID,
		&b.MerchantID,
		&billingType,
		&b.Amount,
		&b.DueDate,
		&status,
		&b.PaidAt,
		&b.PaymentID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.BillingType = domain.BillingType(billingType)
	b.Status = domain.BillingStatus(status)
	return &b, nil
}

// CreateDailyFee inserts the daily service fee of a merchant unless the
// partial unique index already holds one for that due date, in which case the
// stored record is returned with created == false.
func (r *BillingRepository) CreateDailyFee(ctx context.Context, rec *domain.BillingRecord) (out *domain.BillingRecord, created bool, err error) {
	insert := `
		INSERT INTO billing_records (id, merchant_id, billing_type, amount, due_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (merchant_id, due_date) WHERE billing_type = 'DAILY_SERVICE_FEE' DO NOTHING
		RETURNING ` + billingColumns

	ctx, end := database.TraceQuery(ctx, "CreateDailyFee", insert)
	defer func() { end(err) }()

	out, err = scanBillingRecord(r.pool.QueryRow(ctx, insert,
		rec.ID,
		rec.MerchantID,
		string(domain.BillingDailyServiceFee),
		rec.Amount,
		rec.DueDate,
		string(domain.BillingPending),
		rec.CreatedAt,
	))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert daily fee: %w", database.ClassifyError(err))
	}

	query := `SELECT ` + billingColumns + ` FROM billing_records
		WHERE merchant_id = $1 AND due_date = $2 AND billing_type = 'DAILY_SERVICE_FEE'`
	out, err = scanBillingRecord(r.pool.QueryRow(ctx, query, rec.MerchantID, rec.DueDate))
	if err != nil {
		return nil, false, fmt.Errorf("get existing daily fee: %w", err)
	}
	return out, false, nil
}

func (r *BillingRepository) get(ctx context.Context, query, id string) (*domain.BillingRecord, error) {
	b, err := scanBillingRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(domain.EntityBillingRecord, id)
		}
		return nil, fmt.Errorf("get billing record: %w", database.ClassifyError(err))
	}
	return b, nil
}

// GetBillingRecord reads a billing record by id.
func (r *BillingRepository) GetBillingRecord(ctx context.Context, id string) (*domain.BillingRecord, error) {
	return r.get(ctx, `SELECT `+billingColumns+` FROM billing_records WHERE id = $1`, id)
}

// LockBillingRecord reads a billing record FOR UPDATE.
func (r *BillingRepository) LockBillingRecord(ctx context.Context, id string) (*domain.BillingRecord, error) {
	return r.get(ctx, `SELECT `+billingColumns+` FROM billing_records WHERE id = $1 FOR UPDATE`, id)
}

// MarkPaid records the payment of a billing record.
func (r *BillingRepository) MarkPaid(ctx context.Context, id, paymentID string, paidAt time.Time) error {
	query := `
		UPDATE billing_records
		SET status = 'PAID', payment_id = $2, paid_at = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, paymentID, paidAt)
	if err != nil {
		return fmt.Errorf("mark billing record paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(domain.EntityBillingRecord, id)
	}
	return nil
}

// ListBillingRecords returns a merchant's records with due dates in [from, to].
func (r *BillingRepository) ListBillingRecords(ctx context.Context, merchantID string, from, to time.Time) ([]domain.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_records
		WHERE merchant_id = $1 AND due_date BETWEEN $2 AND $3
		ORDER BY due_date, id`

	rows, err := r.pool.Query(ctx, query, merchantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list billing records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.BillingRecord, 0)
	for rows.Next() {
		b, err := scanBillingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan billing record: %w", err)
		}
		records = append(records, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate billing records: %w", err)
	}
	return records, nil
}
