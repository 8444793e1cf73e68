package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"barpos/pkg/logging"
	"barpos/pkg/models"
)

// PostgresStore implements Store on database/sql with the lib/pq driver.
type PostgresStore struct {
	db     *sql.DB
	q      querier
	logger logging.Logger
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, logger logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, q: db, logger: logger}
}

// InTx runs fn against a transactional copy of the store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &PostgresStore{db: s.db, q: tx, logger: s.logger}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Failed to roll back transaction")
		}
		return err
	}
	return tx.Commit()
}

// CreateOrder inserts the order and its items. Caller-supplied ids are kept;
// empty ids are generated.
func (s *PostgresStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = models.OrderStatusPlaced
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, table_id, waiter_id, status, total, paid, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.TenantID, order.TableID, order.WaiterID, order.Status,
		order.Total.String(), order.Paid.String(), order.Notes, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.OrderID = order.ID
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, quantity, unit_price, station)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.OrderID, item.ProductID, item.Name, item.Quantity, item.UnitPrice.String(), item.Station)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// GetOrder fetches one order with its items.
func (s *PostgresStore) GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	var order models.Order
	var total, paid string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, table_id, waiter_id, status, total, paid, notes, created_at, updated_at
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID).Scan(
		&order.ID, &order.TenantID, &order.TableID, &order.WaiterID, &order.Status,
		&total, &paid, &order.Notes, &order.CreatedAt, &order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	if order.Paid, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("parse order paid: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, quantity, unit_price, station
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item models.OrderItem
		var price string
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Quantity, &price, &item.Station); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse item price: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return &order, rows.Err()
}

// ListOrders returns tenant orders, optionally filtered to a status set.
func (s *PostgresStore) ListOrders(ctx context.Context, tenantID string, statuses []string) ([]models.Order, error) {
	query := `
		SELECT id, tenant_id, table_id, waiter_id, status, total, paid, notes, created_at, updated_at
		FROM orders
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(statuses))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		var total, paid string
		if err := rows.Scan(
			&order.ID, &order.TenantID, &order.TableID, &order.WaiterID, &order.Status,
			&total, &paid, &order.Notes, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if order.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse order total: %w", err)
		}
		if order.Paid, err = decimal.NewFromString(paid); err != nil {
			return nil, fmt.Errorf("parse order paid: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus moves an order to a new status.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, tenantID, orderID, status string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return checkAffected(result)
}

// AddOrderPayment increments the paid amount on an order.
func (s *PostgresStore) AddOrderPayment(ctx context.Context, tenantID, orderID string, amount string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE orders SET paid = paid + $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID, amount)
	if err != nil {
		return fmt.Errorf("update order paid: %w", err)
	}
	return checkAffected(result)
}

// CreatePayment inserts a payment row.
func (s *PostgresStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	payment.CreatedAt = time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, order_id, cashier_id, amount, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, payment.ID, payment.TenantID, payment.OrderID, payment.CashierID,
		payment.Amount.String(), payment.Method, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// ListPayments returns payments for one order.
func (s *PostgresStore) ListPayments(ctx context.Context, tenantID, orderID string) ([]models.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, order_id, cashier_id, amount, method, created_at
		FROM payments
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at
	`, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var payment models.Payment
		var amount string
		if err := rows.Scan(&payment.ID, &payment.TenantID, &payment.OrderID,
			&payment.CashierID, &amount, &payment.Method, &payment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if payment.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse payment amount: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// CreateDebt inserts a debt row.
func (s *PostgresStore) CreateDebt(ctx context.Context, debt *models.Debt) error {
	if debt.ID == "" {
		debt.ID = uuid.New().String()
	}
	debt.CreatedAt = time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO debts (id, tenant_id, order_id, customer_id, amount, settled, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`, debt.ID, debt.TenantID, debt.OrderID, debt.CustomerID, debt.Amount.String(), debt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert debt: %w", err)
	}
	return nil
}

// ListDebts returns a tenant's debts, optionally for one customer.
func (s *PostgresStore) ListDebts(ctx context.Context, tenantID, customerID string) ([]models.Debt, error) {
	query := `
		SELECT id, tenant_id, order_id, customer_id, amount, settled, created_at, settled_at
		FROM debts
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if customerID != "" {
		query += ` AND customer_id = $2`
		args = append(args, customerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select debts: %w", err)
	}
	defer rows.Close()

	var debts []models.Debt
	for rows.Next() {
		var debt models.Debt
		var amount string
		var settledAt sql.NullTime
		if err := rows.Scan(&debt.ID, &debt.TenantID, &debt.OrderID, &debt.CustomerID,
			&amount, &debt.Settled, &debt.CreatedAt, &settledAt); err != nil {
			return nil, fmt.Errorf("scan debt: %w", err)
		}
		if debt.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse debt amount: %w", err)
		}
		if settledAt.Valid {
			debt.SettledAt = &settledAt.Time
		}
		debts = append(debts, debt)
	}
	return debts, rows.Err()
}

// SettleDebt marks a debt settled and returns the updated row.
func (s *PostgresStore) SettleDebt(ctx context.Context, tenantID, debtID string) (*models.Debt, error) {
	var debt models.Debt
	var amount string
	var settledAt sql.NullTime
	err := s.q.QueryRowContext(ctx, `
		UPDATE debts SET settled = true, settled_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND settled = false
		RETURNING id, tenant_id, order_id, customer_id, amount, settled, created_at, settled_at
	`, tenantID, debtID).Scan(&debt.ID, &debt.TenantID, &debt.OrderID, &debt.CustomerID,
		&amount, &debt.Settled, &debt.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settle debt: %w", err)
	}
	if debt.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse debt amount: %w", err)
	}
	if settledAt.Valid {
		debt.SettledAt = &settledAt.Time
	}
	return &debt, nil
}

// ListTables returns the tenant floor plan.
func (s *PostgresStore) ListTables(ctx context.Context, tenantID string) ([]models.Table, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, label, status, COALESCE(waiter_id, ''), COALESCE(order_id, ''), updated_at
		FROM tables
		WHERE tenant_id = $1
		ORDER BY label
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("select tables: %w", err)
	}
	defer rows.Close()

	var tables []models.Table
	for rows.Next() {
		var table models.Table
		if err := rows.Scan(&table.ID, &table.TenantID, &table.Label, &table.Status,
			&table.WaiterID, &table.OrderID, &table.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

// UpdateTable writes the status/assignment of a table.
func (s *PostgresStore) UpdateTable(ctx context.Context, table *models.Table) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE tables SET status = $3, waiter_id = NULLIF($4, ''), order_id = NULLIF($5, ''), updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, table.TenantID, table.ID, table.Status, table.WaiterID, table.OrderID)
	if err != nil {
		return fmt.Errorf("update table: %w", err)
	}
	return checkAffected(result)
}

// ListProducts returns the active catalog for a tenant.
func (s *PostgresStore) ListProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, category_id, name, price, station, active, created_at, updated_at
		FROM products
		WHERE tenant_id = $1 AND active = true
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		var price string
		if err := rows.Scan(&product.ID, &product.TenantID, &product.CategoryID, &product.Name,
			&price, &product.Station, &product.Active, &product.CreatedAt, &product.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if product.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse product price: %w", err)
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// CreateProduct inserts a catalog entry.
func (s *PostgresStore) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Active = true
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, category_id, name, price, station, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8)
	`, product.ID, product.TenantID, product.CategoryID, product.Name,
		product.Price.String(), product.Station, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// UpdateProduct rewrites a catalog entry.
func (s *PostgresStore) UpdateProduct(ctx context.Context, product *models.Product) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE products SET category_id = $3, name = $4, price = $5, station = $6, active = $7, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, product.TenantID, product.ID, product.CategoryID, product.Name,
		product.Price.String(), product.Station, product.Active)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
