package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	maxTxAttempts = 3

	mysqlErrDeadlock     = 1213
	mysqlErrLockWaitTime = 1205
)

//go:embed schema.sql
var schemaSQL string

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	mysqlRepo
	db *sql.DB
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{mysqlRepo: mysqlRepo{q: db}, db: db}
}

// Migrate creates the tables that do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, repo port.Repository) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if !isLockConflict(err) {
			return err
		}
	}
	return err
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(ctx context.Context, repo port.Repository) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlRepo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isLockConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTime
}

type mysqlRepo struct {
	q querier
}

func (r *mysqlRepo) LockProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, sku, name, price, stock_quantity, reserved_quantity, updated_at
		FROM products WHERE id = ? FOR UPDATE`, productID,
	).Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.ReservedQuantity, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (r *mysqlRepo) ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET reserved_quantity = reserved_quantity + ?
		WHERE id = ? AND ? > 0 AND stock_quantity - reserved_quantity >= ?`,
		quantity, productID, quantity, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	return rows == 1, nil
}

func (r *mysqlRepo) ConfirmStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?, reserved_quantity = reserved_quantity - ?
		WHERE id = ? AND ? > 0 AND reserved_quantity >= ?`,
		quantity, quantity, productID, quantity, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("confirm stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm stock: %w", err)
	}
	return rows == 1, nil
}

func (r *mysqlRepo) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET reserved_quantity = GREATEST(reserved_quantity - ?, 0)
		WHERE id = ?`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

func (r *mysqlRepo) LockCart(ctx context.Context, cartID int64) (*domain.Cart, error) {
	var c domain.Cart
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, created_at
		FROM carts WHERE id = ? AND deleted_at IS NULL FOR UPDATE`, cartID,
	).Scan(&c.ID, &c.UserID, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, p.name, p.sku, ci.quantity, ci.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = ?
		ORDER BY ci.id`, cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.ProductSKU, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return &c, nil
}

func (r *mysqlRepo) RetireCart(ctx context.Context, cartID int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	result, err := r.q.ExecContext(ctx, `
		UPDATE carts SET deleted_at = NOW(6)
		WHERE id = ? AND deleted_at IS NULL`, cartID,
	)
	if err != nil {
		return fmt.Errorf("retire cart: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

const couponColumns = `id, code, type, value, minimum_amount, usage_limit, usage_limit_per_user,
	usage_count, starts_at, expires_at, is_active`

func (r *mysqlRepo) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.queryCoupon(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = ?`, code)
}

func (r *mysqlRepo) LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.queryCoupon(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = ? FOR UPDATE`, code)
}

func (r *mysqlRepo) queryCoupon(ctx context.Context, query string, code string) (*domain.Coupon, error) {
	var (
		c                        domain.Coupon
		discountType             string
		usageLimit, perUserLimit sql.NullInt64
		startsAt, expiresAt      sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &c.MinimumAmount, &usageLimit, &perUserLimit,
		&c.UsageCount, &startsAt, &expiresAt, &c.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon: %w", err)
	}

	c.Type = domain.DiscountType(discountType)
	c.UsageLimit = nullIntPtr(usageLimit)
	c.UsageLimitPerUser = nullIntPtr(perUserLimit)
	c.StartsAt = nullTimePtr(startsAt)
	c.ExpiresAt = nullTimePtr(expiresAt)
	return &c, nil
}

func (r *mysqlRepo) CountCouponUsage(ctx context.Context, couponID, userID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE coupon_id = ? AND user_id = ?`, couponID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count coupon usage: %w", err)
	}
	return n, nil
}

func (r *mysqlRepo) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE coupons
		SET usage_count = usage_count + 1
		WHERE id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)`, couponID,
	)
	if err != nil {
		return false, fmt.Errorf("increment coupon usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment coupon usage: %w", err)
	}
	return rows == 1, nil
}

func (r *mysqlRepo) InsertOrder(ctx context.Context, order *domain.Order) error {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (
			order_number, user_id, status, payment_status, payment_method,
			subtotal, tax, shipping, discount, total, coupon_id, coupon_code,
			card_intent_id, gateway_transaction_id,
			shipping_name, shipping_email, shipping_phone, shipping_address,
			shipping_city, shipping_postal_code, shipping_country,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.OrderNumber, order.UserID, order.Status, order.PaymentStatus, paymentMethodValue(order.PaymentMethod),
		order.Subtotal, order.Tax, order.Shipping, order.Discount, order.Total, order.CouponID, nullString(order.CouponCode),
		nullString(order.CardIntentID), nullString(order.GatewayTransactionID),
		order.ShipTo.Name, order.ShipTo.Email, nullString(order.ShipTo.Phone), order.ShipTo.Address,
		order.ShipTo.City, order.ShipTo.PostalCode, order.ShipTo.Country,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID = orderID

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = orderID
		result, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, product_sku, price, quantity, subtotal)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			orderID, item.ProductID, item.ProductName, item.ProductSKU, item.Price, item.Quantity, item.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		if item.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method,
	subtotal, tax, shipping, discount, total, coupon_id, coupon_code,
	card_intent_id, gateway_transaction_id,
	shipping_name, shipping_email, shipping_phone, shipping_address,
	shipping_city, shipping_postal_code, shipping_country,
	shipped_at, delivered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                            domain.Order
		status, paymentStatus        string
		method, couponCode           sql.NullString
		cardIntent, gatewayTx, phone sql.NullString
		couponID                     sql.NullInt64
		shippedAt, deliveredAt       sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &status, &paymentStatus, &method,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.Discount, &o.Total, &couponID, &couponCode,
		&cardIntent, &gatewayTx,
		&o.ShipTo.Name, &o.ShipTo.Email, &phone, &o.ShipTo.Address,
		&o.ShipTo.City, &o.ShipTo.PostalCode, &o.ShipTo.Country,
		&shippedAt, &deliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if method.Valid {
		if o.PaymentMethod, err = domain.ParsePaymentMethod(method.String); err != nil {
			return nil, fmt.Errorf("order %d: stored payment method %q: %w", o.ID, method.String, err)
		}
	}
	if couponID.Valid {
		id := couponID.Int64
		o.CouponID = &id
	}
	o.CouponCode = couponCode.String
	o.CardIntentID = cardIntent.String
	o.GatewayTransactionID = gatewayTx.String
	o.ShipTo.Phone = phone.String
	o.ShippedAt = nullTimePtr(shippedAt)
	o.DeliveredAt = nullTimePtr(deliveredAt)
	return &o, nil
}

func (r *mysqlRepo) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
}

func (r *mysqlRepo) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, orderID)
}

func (r *mysqlRepo) LockOrderByCorrelation(ctx context.Context, provider domain.PaymentMethod, transactionID string) (*domain.Order, error) {
	var column string
	switch provider {
	case domain.PaymentMethodCard:
		column = "card_intent_id"
	case domain.PaymentMethodAltGateway:
		column = "gateway_transaction_id"
	default:
		return nil, domain.ErrOrderNotFound
	}
	if transactionID == "" {
		return nil, domain.ErrOrderNotFound
	}
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = ? FOR UPDATE`, transactionID)
}

func (r *mysqlRepo) queryOrder(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	items, err := r.loadItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *mysqlRepo) ListOrders(ctx context.Context, userID int64, offset, limit int) ([]domain.Order, int, error) {
	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}

func (r *mysqlRepo) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	items := make(map[int64][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return items, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orderIDs)), ",")
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, product_sku, price, quantity, subtotal
		FROM order_items WHERE order_id IN (`+placeholders+`)
		ORDER BY id`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSKU, &it.Price, &it.Quantity, &it.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[it.OrderID] = append(items[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *mysqlRepo) UpdateOrderState(ctx context.Context, order *domain.Order) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_status = ?, payment_method = ?,
			card_intent_id = ?, gateway_transaction_id = ?,
			shipped_at = ?, delivered_at = ?, updated_at = ?
		WHERE id = ?`,
		order.Status, order.PaymentStatus, paymentMethodValue(order.PaymentMethod),
		nullString(order.CardIntentID), nullString(order.GatewayTransactionID),
		order.ShippedAt, order.DeliveredAt, order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// MySQL reports zero affected rows when nothing changed, so only a
		// missing row is an error here.
		if _, err := r.GetOrder(ctx, order.ID); err != nil {
			return err
		}
	}
	return nil
}

func paymentMethodValue(m domain.PaymentMethod) sql.NullString {
	if m == domain.PaymentMethodNone {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
