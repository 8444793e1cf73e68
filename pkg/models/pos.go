package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses, in lifecycle order.
const (
	OrderStatusPlaced                = "placed"
	OrderStatusPreparing             = "preparing"
	OrderStatusReady                 = "ready"
	OrderStatusDelivered             = "delivered"
	OrderStatusCancellationRequested = "cancellation_requested"
	OrderStatusCancelled             = "cancelled"
)

// Table statuses.
const (
	TableStatusFree     = "free"
	TableStatusOccupied = "occupied"
	TableStatusReserved = "reserved"
)

// Order represents a table order.
type Order struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	TableID   string          `json:"table_id"`
	WaiterID  string          `json:"waiter_id"`
	Status    string          `json:"status"`
	Items     []OrderItem     `json:"items,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Outstanding returns the unpaid remainder of the order.
func (o *Order) Outstanding() decimal.Decimal {
	return o.Total.Sub(o.Paid)
}

// OrderItem is a single line on an order.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Station   string          `json:"station"` // kitchen or bar preparation queue
}

// Payment records money received against an order.
type Payment struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	OrderID   string          `json:"order_id"`
	CashierID string          `json:"cashier_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"` // cash, card, transfer
	CreatedAt time.Time       `json:"created_at"`
}

// Debt is an unpaid remainder carried by a customer.
type Debt struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Settled    bool            `json:"settled"`
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

// Product is a catalog entry.
type Product struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	CategoryID string          `json:"category_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Station    string          `json:"station"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Table is a physical table in the venue.
type Table struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Label     string    `json:"label"`
	Status    string    `json:"status"`
	WaiterID  string    `json:"waiter_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Service string `json:"service,omitempty"`
	Message string `json:"message,omitempty"`
}
