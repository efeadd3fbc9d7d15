package domain

import "encoding/json"

// Bulk entity types and actions.
const (
	BulkEntityOrder   = "order"
	BulkEntityProduct = "product"

	BulkActionUpdateStatus    = "update_status"
	BulkActionAssignWarehouse = "assign_warehouse"
	BulkActionDelete          = "delete"
	BulkActionActivate        = "activate"
	BulkActionDeactivate      = "deactivate"
	BulkActionUpdatePrice     = "update_price"
)

// bulkActions lists the actions each entity accepts.
var bulkActions = map[string][]string{
	BulkEntityOrder:   {BulkActionUpdateStatus, BulkActionAssignWarehouse},
	BulkEntityProduct: {BulkActionDelete, BulkActionActivate, BulkActionDeactivate, BulkActionUpdatePrice},
}

// IsBulkActionSupported reports whether entity accepts action.
func IsBulkActionSupported(entity, action string) bool {
	for _, a := range bulkActions[entity] {
		if a == action {
			return true
		}
	}
	return false
}

// BulkRequest applies one action to many entities.
type BulkRequest struct {
	EntityType string          `json:"entity_type"`
	Action     string          `json:"action"`
	IDs        []string        `json:"ids"`
	Data       json.RawMessage `json:"data,omitempty"`
	ActorID    string          `json:"-"`
}

// BulkItemError is the failure of one id.
type BulkItemError struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BulkResult summarises a batch.
type BulkResult struct {
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Errors    []BulkItemError `json:"errors"`
}
