package domain

import "time"

// MovementType classifies a ledger entry.
type MovementType string

const (
	MovementStockIn    MovementType = "STOCK_IN"
	MovementStockOut   MovementType = "STOCK_OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementTransfer   MovementType = "TRANSFER"
	MovementDamage     MovementType = "DAMAGE"
	MovementReturn     MovementType = "RETURN"
)

// Reference types recorded on movements. The release reasons double as the
// reference type of RETURN movements written by a release.
const (
	RefOrder          = "ORDER"
	RefOrderCancelled = "ORDER_CANCELLED"
	RefReallocation   = "REALLOCATION"
	RefManual         = "MANUAL"
	RefReceipt        = "RECEIPT"
	RefTransfer       = "TRANSFER"
	RefShipment       = "SHIPMENT"
)

// IsReleaseReason reports whether ref may label a release.
func IsReleaseReason(ref string) bool {
	switch ref {
	case RefOrderCancelled, RefReallocation, RefManual:
		return true
	}
	return false
}

// StockMovement is an append-only ledger entry. QuantityDelta is the change
// to on-hand quantity, ReservedDelta the change to reserved quantity.
type StockMovement struct {
	ID            string       `json:"id"`
	StockItemID   string       `json:"stock_item_id"`
	MovementType  MovementType `json:"movement_type"`
	QuantityDelta int          `json:"quantity_delta"`
	ReservedDelta int          `json:"reserved_delta"`
	ReferenceType string       `json:"reference_type,omitempty"`
	ReferenceID   string       `json:"reference_id,omitempty"`
	PerformedBy   string       `json:"performed_by"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Reference identifies what caused a movement.
type Reference struct {
	Type string
	ID   string
}

// Reconciliation compares a stock item against the sum of its movements.
type Reconciliation struct {
	StockItemID      string `json:"stock_item_id"`
	Quantity         int    `json:"quantity"`
	Reserved         int    `json:"reserved"`
	MovementQuantity int    `json:"movement_quantity"`
	MovementReserved int    `json:"movement_reserved"`
	MovementCount    int    `json:"movement_count"`
	Balanced         bool   `json:"balanced"`
}

// Reconcile sums movements and compares them against item.
func Reconcile(item *StockItem, movements []StockMovement) Reconciliation {
	r := Reconciliation{
		StockItemID:   item.ID,
		Quantity:      item.Quantity,
		Reserved:      item.ReservedQuantity,
		MovementCount: len(movements),
	}
	for _, m := range movements {
		r.MovementQuantity += m.QuantityDelta
		r.MovementReserved += m.ReservedDelta
	}
	r.Balanced = r.MovementQuantity == r.Quantity && r.MovementReserved == r.Reserved
	return r
}
