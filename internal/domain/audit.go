package domain

import "time"

// Audit actions.
const (
	ActionOrderCreated       = "order.created"
	ActionOrderStatusChanged = "order.status_changed"
	ActionOrderWarehouse     = "order.warehouse_assigned"
	ActionStockReceived      = "stock.received"
	ActionStockAdjusted      = "stock.adjusted"
	ActionStockReserved      = "stock.reserved"
	ActionStockReleased      = "stock.released"
	ActionStockTransferred   = "stock.transferred"
	ActionProductCreated     = "product.created"
	ActionProductUpdated     = "product.updated"
	ActionProductDeleted     = "product.deleted"
	ActionBulkExecuted       = "bulk.executed"
	ActionBillingAccrued     = "billing.accrued"
	ActionBillingPaid        = "billing.paid"
)

// Entity types used in audit entries and NotFound errors.
const (
	EntityOrder         = "order"
	EntityProduct       = "product"
	EntityStockItem     = "stock_item"
	EntityBillingRecord = "billing_record"
	EntityBulk          = "bulk"
)

// AuditEntry describes one state change for the external audit log.
type AuditEntry struct {
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
