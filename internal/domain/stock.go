package domain

import (
	"fmt"
	"time"

	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// StockItem is the ledger's unit of truth for one (product, warehouse, batch).
// A nil BatchNumber is the "no batch" bucket.
type StockItem struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	WarehouseID       string    `json:"warehouse_id"`
	BatchNumber       *string   `json:"batch_number,omitempty"`
	Quantity          int       `json:"quantity"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	ReorderLevel      int       `json:"reorder_level"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Available returns Quantity - ReservedQuantity.
func (s *StockItem) Available() int {
	return s.Quantity - s.ReservedQuantity
}

// IsLow reports whether available stock is at or below the reorder level.
func (s *StockItem) IsLow() bool {
	return s.Available() <= s.ReorderLevel
}

// Batch returns the batch number or "" for the no-batch bucket.
func (s *StockItem) Batch() string {
	if s.BatchNumber == nil {
		return ""
	}
	return *s.BatchNumber
}

func (s *StockItem) sync() {
	s.AvailableQuantity = s.Quantity - s.ReservedQuantity
}

// Validate checks 0 <= reserved <= quantity.
func (s *StockItem) Validate() error {
	if s.ReservedQuantity < 0 {
		return apperrors.InvalidInput(fmt.Sprintf("stock item %s: reserved quantity would be negative", s.ID))
	}
	if s.ReservedQuantity > s.Quantity {
		return apperrors.InvalidInput(fmt.Sprintf("stock item %s: quantity %d would fall below reserved %d", s.ID, s.Quantity, s.ReservedQuantity))
	}
	return nil
}

// Every mutator below checks before it writes, so a returned error leaves the
// item unchanged.

// Reserve moves n available units into reserved.
func (s *StockItem) Reserve(n int) error {
	if n <= 0 {
		return apperrors.InvalidInput("reserve amount must be positive")
	}
	if avail := s.Available(); n > avail {
		return apperrors.InsufficientStock(s.ProductID, n-avail)
	}
	s.ReservedQuantity += n
	s.sync()
	return nil
}

// Release returns n reserved units to available.
func (s *StockItem) Release(n int) error {
	if n <= 0 {
		return apperrors.InvalidInput("release amount must be positive")
	}
	if n > s.ReservedQuantity {
		return apperrors.InvalidInput(fmt.Sprintf("cannot release %d units from stock item %s: only %d reserved", n, s.ID, s.ReservedQuantity))
	}
	s.ReservedQuantity -= n
	s.sync()
	return nil
}

// Consume ships n reserved units, removing them from both quantity and
// reserved.
func (s *StockItem) Consume(n int) error {
	if n <= 0 {
		return apperrors.InvalidInput("consume amount must be positive")
	}
	if n > s.ReservedQuantity {
		return apperrors.InvalidInput(fmt.Sprintf("cannot consume %d units from stock item %s: only %d reserved", n, s.ID, s.ReservedQuantity))
	}
	s.Quantity -= n
	s.ReservedQuantity -= n
	s.sync()
	return nil
}

// Receive adds n physical units.
func (s *StockItem) Receive(n int) error {
	if n <= 0 {
		return apperrors.InvalidInput("receive amount must be positive")
	}
	s.Quantity += n
	s.sync()
	return nil
}

// Adjust applies a signed correction to quantity. DAMAGE must remove units and
// RETURN must add them; the result may never drop below reserved or zero.
func (s *StockItem) Adjust(delta int, reason MovementType) error {
	if err := ValidateAdjustment(delta, reason); err != nil {
		return err
	}
	next := s.Quantity + delta
	if next < 0 {
		return apperrors.InvalidInput(fmt.Sprintf("adjustment of %d would make quantity negative", delta))
	}
	if next < s.ReservedQuantity {
		return apperrors.InvalidInput(fmt.Sprintf("adjustment of %d would leave quantity %d below reserved %d", delta, next, s.ReservedQuantity))
	}
	s.Quantity = next
	s.sync()
	return nil
}

// Withdraw removes n available units for an outbound transfer.
func (s *StockItem) Withdraw(n int) error {
	if n <= 0 {
		return apperrors.InvalidInput("transfer quantity must be positive")
	}
	if avail := s.Available(); n > avail {
		return apperrors.InsufficientStock(s.ProductID, n-avail)
	}
	s.Quantity -= n
	s.sync()
	return nil
}

// ValidateAdjustment checks the reason/sign rules of a manual adjustment.
func ValidateAdjustment(delta int, reason MovementType) error {
	if delta == 0 {
		return apperrors.InvalidInput("adjustment delta must not be zero")
	}
	switch reason {
	case MovementAdjustment:
	case MovementDamage:
		if delta > 0 {
			return apperrors.InvalidInput("DAMAGE adjustments must be negative")
		}
	case MovementReturn:
		if delta < 0 {
			return apperrors.InvalidInput("RETURN adjustments must be positive")
		}
	default:
		return apperrors.InvalidInput(fmt.Sprintf("invalid adjustment reason %q", reason))
	}
	return nil
}

// LowStockFilter narrows ListLowStock to one warehouse when set.
type LowStockFilter struct {
	WarehouseID string
}
