package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry owned by a merchant.
type Product struct {
	ID         string          `json:"id"`
	MerchantID string          `json:"merchant_id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
