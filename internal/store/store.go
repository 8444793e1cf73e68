package store

import (
	"context"
	"database/sql"
	"errors"

	"barpos/pkg/models"
)

// ErrNotFound is returned when a row does not exist within the tenant scope.
var ErrNotFound = errors.New("store: not found")

// Orders is the order persistence contract. Every call is tenant-scoped.
type Orders interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, tenantID string, statuses []string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, tenantID, orderID, status string) error
	AddOrderPayment(ctx context.Context, tenantID, orderID string, amount string) error
}

// Payments records money received.
type Payments interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	ListPayments(ctx context.Context, tenantID, orderID string) ([]models.Payment, error)
}

// Debts tracks unpaid remainders.
type Debts interface {
	CreateDebt(ctx context.Context, debt *models.Debt) error
	ListDebts(ctx context.Context, tenantID, customerID string) ([]models.Debt, error)
	SettleDebt(ctx context.Context, tenantID, debtID string) (*models.Debt, error)
}

// Tables manages the floor plan state.
type Tables interface {
	ListTables(ctx context.Context, tenantID string) ([]models.Table, error)
	UpdateTable(ctx context.Context, table *models.Table) error
}

// Products manages the catalog.
type Products interface {
	ListProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
}

// TxRunner executes fn inside a single transaction, committing on nil and
// rolling back otherwise. The store passed to fn shares the transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Store bundles every persistence concern behind one handle.
type Store interface {
	Orders
	Payments
	Debts
	Tables
	Products
	TxRunner
}

// querier is the subset of *sql.DB and *sql.Tx the queries use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
