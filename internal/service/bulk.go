package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/tracing"
)

type statusData struct {
	Status domain.OrderStatus `json:"status"`
	Notes  string             `json:"notes"`
}

type warehouseData struct {
	WarehouseID string `json:"warehouse_id"`
}

type priceData struct {
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// BulkExecutor applies one action to many orders or products. Items are
// independent: a failed item never stops the others.
type BulkExecutor struct {
	orders      *OrderService
	products    *ProductService
	audit       AuditSink
	logger      *slog.Logger
	maxItems    int
	concurrency int
}

// NewBulkExecutor creates a bulk executor running at most concurrency items
// at once and accepting at most maxItems ids per request.
func NewBulkExecutor(orders *OrderService, products *ProductService, audit AuditSink, logger *slog.Logger, maxItems, concurrency int) *BulkExecutor {
	return &BulkExecutor{
		orders:      orders,
		products:    products,
		audit:       audit,
		logger:      logger,
		maxItems:    maxItems,
		concurrency: max(concurrency, 1),
	}
}

// Execute validates the request, runs every item and reports per-item
// failures in input order. Only a malformed request returns an error.
func (b *BulkExecutor) Execute(ctx context.Context, req domain.BulkRequest) (res *domain.BulkResult, err error) {
	ctx, span := tracing.Start(ctx, "BulkExecutor.Execute")
	defer func() { tracing.EndSpan(span, err) }()

	ids, apply, err := b.prepare(req)
	if err != nil {
		return nil, err
	}

	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = apply(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res = &domain.BulkResult{Errors: []domain.BulkItemError{}}
	for i, id := range ids {
		outcome := "processed"
		if errs[i] != nil {
			outcome = "failed"
			res.Failed++
			res.Errors = append(res.Errors, domain.BulkItemError{
				ID:      id,
				Code:    errorCode(errs[i]),
				Message: errorMessage(errs[i]),
			})
		} else {
			res.Processed++
		}
		bulkItemsTotal.WithLabelValues(req.EntityType, req.Action, outcome).Inc()
	}

	b.audit.Record(ctx, domain.AuditEntry{
		ActorID:    req.ActorID,
		Action:     domain.ActionBulkExecuted,
		EntityType: domain.EntityBulk,
		EntityID:   uuid.New().String(),
		NewValues: map[string]any{
			"entity_type": req.EntityType,
			"action":      req.Action,
			"ids":         ids,
			"processed":   res.Processed,
			"failed":      res.Failed,
		},
	})
	b.logger.InfoContext(ctx, "bulk operation executed",
		slog.String("entity_type", req.EntityType),
		slog.String("action", req.Action),
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

type itemFunc func(ctx context.Context, id string) error

// prepare rejects malformed requests, collapses duplicate ids and binds the
// action to its decoded data.
func (b *BulkExecutor) prepare(req domain.BulkRequest) ([]string, itemFunc, error) {
	if !domain.IsBulkActionSupported(req.EntityType, req.Action) {
		return nil, nil, apperrors.InvalidInput(fmt.Sprintf("unsupported bulk action %q for entity %q", req.Action, req.EntityType))
	}
	if len(req.IDs) == 0 {
		return nil, nil, apperrors.InvalidInput("ids must not be empty")
	}
	if len(req.IDs) > b.maxItems {
		return nil, nil, apperrors.InvalidInput(fmt.Sprintf("at most %d ids are allowed per request, got %d", b.maxItems, len(req.IDs)))
	}

	seen := make(map[string]struct{}, len(req.IDs))
	ids := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		if id == "" {
			return nil, nil, apperrors.InvalidInput("ids must not contain empty values")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	actor := req.ActorID
	switch req.Action {
	case domain.BulkActionUpdateStatus:
		var d statusData
		if err := decodeData(req.Data, &d); err != nil {
			return nil, nil, err
		}
		if !d.Status.IsValid() {
			return nil, nil, apperrors.InvalidInput(fmt.Sprintf("invalid order status %q", d.Status))
		}
		return ids, func(ctx context.Context, id string) error {
			_, err := b.orders.Transition(ctx, id, d.Status, actor, d.Notes)
			return err
		}, nil

	case domain.BulkActionAssignWarehouse:
		var d warehouseData
		if err := decodeData(req.Data, &d); err != nil {
			return nil, nil, err
		}
		if d.WarehouseID == "" {
			return nil, nil, apperrors.InvalidInput("data.warehouse_id is required")
		}
		return ids, func(ctx context.Context, id string) error {
			_, err := b.orders.AssignWarehouse(ctx, id, d.WarehouseID, actor)
			return err
		}, nil

	case domain.BulkActionDelete:
		return ids, func(ctx context.Context, id string) error {
			return b.products.DeleteProduct(ctx, id, actor)
		}, nil

	case domain.BulkActionActivate, domain.BulkActionDeactivate:
		active := req.Action == domain.BulkActionActivate
		return ids, func(ctx context.Context, id string) error {
			return b.products.SetActive(ctx, id, active, actor)
		}, nil

	case domain.BulkActionUpdatePrice:
		var d priceData
		if err := decodeData(req.Data, &d); err != nil {
			return nil, nil, err
		}
		if d.UnitPrice == nil || d.UnitPrice.IsNegative() {
			return nil, nil, apperrors.InvalidInput("data.unit_price must be a non-negative amount")
		}
		price := *d.UnitPrice
		return ids, func(ctx context.Context, id string) error {
			return b.products.UpdatePrice(ctx, id, price, actor)
		}, nil
	}
	return nil, nil, apperrors.InvalidInput(fmt.Sprintf("unsupported bulk action %q", req.Action))
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return apperrors.InvalidInput("data is required for this action")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("malformed data: %v", err))
	}
	return nil
}
