package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// AllocationStatus tracks the life of one reservation held for an order.
type AllocationStatus string

const (
	AllocationActive   AllocationStatus = "ACTIVE"
	AllocationReleased AllocationStatus = "RELEASED"
	AllocationConsumed AllocationStatus = "CONSUMED"
)

// AllocationLine is one product requirement of an order.
type AllocationLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Allocation records which stock row reserves which units for an order.
type Allocation struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"order_id"`
	StockItemID string           `json:"stock_item_id"`
	ProductID   string           `json:"product_id"`
	WarehouseID string           `json:"warehouse_id"`
	Quantity    int              `json:"quantity"`
	Status      AllocationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// AllocationResult is the provenance returned to the caller.
type AllocationResult struct {
	OrderID     string       `json:"order_id"`
	Allocations []Allocation `json:"allocations"`
}

// Pick is one planned draw from a stock row.
type Pick struct {
	StockItemID string
	WarehouseID string
	Quantity    int
}

// MergeLines validates lines, sums quantities per product and returns them
// ordered by product ID. The ordering fixes the global lock order.
func MergeLines(lines []AllocationLine) ([]AllocationLine, error) {
	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("at least one allocation line is required")
	}
	totals := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, apperrors.InvalidInput("allocation line product_id is required")
		}
		if l.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("quantity for product %s must be positive", l.ProductID))
		}
		totals[l.ProductID] += l.Quantity
	}

	merged := make([]AllocationLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, AllocationLine{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(merged, func(a, b AllocationLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return merged, nil
}

// PlanAllocation walks candidates in order, taking min(remaining, available)
// from each until need is met. It returns the picks and the unmet shortfall.
// Candidates are not modified.
func PlanAllocation(candidates []StockItem, need int) ([]Pick, int) {
	var picks []Pick
	remaining := need
	for i := range candidates {
		if remaining == 0 {
			break
		}
		take := min(remaining, candidates[i].Available())
		if take <= 0 {
			continue
		}
		picks = append(picks, Pick{
			StockItemID: candidates[i].ID,
			WarehouseID: candidates[i].WarehouseID,
			Quantity:    take,
		})
		remaining -= take
	}
	return picks, remaining
}

// LinesFromItems converts order items to allocation lines.
func LinesFromItems(items []OrderItem) []AllocationLine {
	lines := make([]AllocationLine, len(items))
	for i, it := range items {
		lines[i] = AllocationLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}
