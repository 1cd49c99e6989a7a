package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductAvailable    ProductStatus = "available"
	ProductUnavailable  ProductStatus = "unavailable"
	ProductDiscontinued ProductStatus = "discontinued"
)

type Product struct {
	ID        string              `json:"id"`
	SKU       string              `json:"sku"`
	Name      string              `json:"name"`
	Price     decimal.NullDecimal `json:"price"`
	Stock     int                 `json:"stock"`
	Status    ProductStatus       `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Total           decimal.Decimal `json:"total"`
	DeliveryAddress string          `json:"delivery_address"`
	PaymentMethod   string          `json:"payment_method"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem carries the unit price snapshot taken at placement time.
// Qty and prices never change after the row is written.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Cart maps product id -> requested quantity.
type Cart map[string]int
