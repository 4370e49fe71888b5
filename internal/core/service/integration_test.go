package service

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type integrationEnv struct {
	mysql *sql.DB
	redis *redis.Client
	db    *storage.MySQLAdapter
	cache *storage.RedisAdapter

	userBase int64
	products []int64
}

func setupIntegrationEnv(t *testing.T) *integrationEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	env := &integrationEnv{
		mysql:    db,
		redis:    rdb,
		db:       storage.NewMySQLAdapter(db),
		cache:    storage.NewRedisAdapter(rdb),
		userBase: time.Now().UnixNano() % 1_000_000_000 * 100,
	}
	require.NoError(t, env.db.Migrate(context.Background()))
	t.Cleanup(func() {
		env.cleanup()
		rdb.Close()
		db.Close()
	})
	return env
}

func (e *integrationEnv) cleanup() {
	lo, hi := e.userBase, e.userBase+100
	e.mysql.Exec(`DELETE oi FROM order_items oi JOIN orders o ON o.id = oi.order_id WHERE o.user_id BETWEEN ? AND ?`, lo, hi)
	e.mysql.Exec(`DELETE FROM orders WHERE user_id BETWEEN ? AND ?`, lo, hi)
	e.mysql.Exec(`DELETE ci FROM cart_items ci JOIN carts c ON c.id = ci.cart_id WHERE c.user_id BETWEEN ? AND ?`, lo, hi)
	e.mysql.Exec(`DELETE FROM carts WHERE user_id BETWEEN ? AND ?`, lo, hi)
	for _, id := range e.products {
		e.mysql.Exec(`DELETE FROM products WHERE id = ?`, id)
	}
}

func (e *integrationEnv) insertProduct(t *testing.T, stock int) int64 {
	res, err := e.mysql.Exec(`INSERT INTO products (sku, name, price, stock_quantity) VALUES (?, 'Integration item', 100.00, ?)`,
		"INT-"+uuid.NewString()[:12], stock)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	e.products = append(e.products, id)
	return id
}

func (e *integrationEnv) insertCart(t *testing.T, userID, productID int64) int64 {
	res, err := e.mysql.Exec(`INSERT INTO carts (user_id) VALUES (?)`, userID)
	require.NoError(t, err)
	cartID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = e.mysql.Exec(`INSERT INTO cart_items (cart_id, product_id, quantity, price) VALUES (?, ?, 1, 100.00)`, cartID, productID)
	require.NoError(t, err)
	return cartID
}

func (e *integrationEnv) quantities(t *testing.T, productID int64) (stock, reserved int) {
	err := e.mysql.QueryRow(`SELECT stock_quantity, reserved_quantity FROM products WHERE id = ?`, productID).Scan(&stock, &reserved)
	require.NoError(t, err)
	return stock, reserved
}

func TestIntegration_ConcurrentOrdersNeverOversell(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	logger := zap.NewNop()

	const initialStock, totalRequests = 10, 20
	productID := env.insertProduct(t, initialStock)
	carts := make([]int64, totalRequests)
	for i := range carts {
		carts[i] = env.insertCart(t, env.userBase+int64(i+1), productID)
	}

	inventory := NewInventoryService(logger, nil)
	orders := NewOrderService(env.db, inventory, NewDiscountEvaluator(env.db, nil), nil, logger, nil)

	var success atomic.Int32
	var wg sync.WaitGroup
	for i, cartID := range carts {
		wg.Add(1)
		go func(userID, cartID int64) {
			defer wg.Done()
			_, err := orders.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, CartID: cartID, ShipTo: shipTo()})
			if err == nil {
				success.Add(1)
			}
		}(env.userBase+int64(i+1), cartID)
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), success.Load())
	stock, reserved := env.quantities(t, productID)
	assert.Equal(t, initialStock, stock)
	assert.Equal(t, initialStock, reserved)
}

func TestIntegration_PaidWebhookConfirmsStockOnce(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	logger := zap.NewNop()

	userID := env.userBase + 1
	productID := env.insertProduct(t, 5)
	cartID := env.insertCart(t, userID, productID)

	card := &fakeAdapter{method: domain.PaymentMethodCard, configured: true}
	gateway := &fakeAdapter{method: domain.PaymentMethodAltGateway, configured: true}
	bank := &fakeAdapter{method: domain.PaymentMethodBankTransfer, configured: true}
	events := &recordingPublisher{}

	inventory := NewInventoryService(logger, nil)
	orders := NewOrderService(env.db, inventory, NewDiscountEvaluator(env.db, nil), events, logger, nil)
	payments, err := NewPaymentService(env.db, []port.PaymentAdapter{card, gateway, bank}, events, logger, nil)
	require.NoError(t, err)
	reconciler := NewWebhookReconciler(env.db, env.cache, inventory, events, logger, nil)

	order, err := orders.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, CartID: cartID, ShipTo: shipTo()})
	require.NoError(t, err)

	paid, err := payments.InitiatePayment(ctx, userID, order.ID, domain.PaymentMethodCard)
	require.NoError(t, err)
	txID := paid.Initiation.CorrelationID
	t.Cleanup(func() {
		env.redis.Del(context.Background(), "webhook:card:"+txID+":succeeded")
	})

	cb := domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: txID, RawStatus: "succeeded", Outcome: domain.OutcomeSucceeded}
	result, err := reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	replay, err := reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)

	stock, reserved := env.quantities(t, productID)
	assert.Equal(t, 4, stock)
	assert.Equal(t, 0, reserved)

	stored, err := orders.GetOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, stored.Status)
}

func TestIntegration_FailedAssemblyLeavesNoReservation(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	logger := zap.NewNop()

	userID := env.userBase + 1
	productID := env.insertProduct(t, 3)
	cartID := env.insertCart(t, userID, productID)

	orders := NewOrderService(env.db, NewInventoryService(logger, nil), NewDiscountEvaluator(env.db, nil), nil, logger, nil)
	_, err := orders.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, CartID: cartID, CouponCode: "DOES-NOT-EXIST-" + uuid.NewString()[:8], ShipTo: shipTo()})
	require.ErrorIs(t, err, domain.ErrCouponInvalid)

	stock, reserved := env.quantities(t, productID)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 0, reserved)
}
