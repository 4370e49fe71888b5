package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/adapter/events"
	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

const (
	defaultDSN    = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	initialStock  = 20
	totalRequests = 50
	unitPrice     = "19.99"
)

func main() {
	ctx := context.Background()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(totalRequests)

	store := storage.NewMySQLAdapter(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	productID, carts, err := seed(ctx, db)
	if err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	logger := zap.NewNop()
	inventory := service.NewInventoryService(logger, nil)
	discounts := service.NewDiscountEvaluator(store, nil)
	orders := service.NewOrderService(store, inventory, discounts, events.NopPublisher{}, logger, nil)

	var successCount, stockoutCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i, cartID := range carts {
		wg.Add(1)
		go func(userID, cartID int64) {
			defer wg.Done()

			_, err := orders.PlaceOrder(ctx, service.PlaceOrderInput{
				UserID: userID,
				CartID: cartID,
				ShipTo: domain.ShippingAddress{
					Name:       fmt.Sprintf("Stress User %d", userID),
					Email:      fmt.Sprintf("stress-%d@example.com", userID),
					Address:    "1 Load St",
					City:       "Krakow",
					PostalCode: "30-001",
					Country:    "PL",
				},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.Classify(err) == domain.KindConflict:
				stockoutCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("user %d: %v", userID, err)
			}
		}(int64(i+1), cartID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	stockout := stockoutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Placed:           %d\n", success)
	fmt.Printf("Out of stock:     %d\n", stockout)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && stockout == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d orders placed, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d placed/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, stockout)
	}

	var stock, reserved int
	err = db.QueryRowContext(ctx, "SELECT stock_quantity, reserved_quantity FROM products WHERE id = ?", productID).Scan(&stock, &reserved)
	if err != nil {
		log.Fatalf("failed to read product: %v", err)
	}
	fmt.Printf("Final stock/reserved: %d/%d\n", stock, reserved)

	if stock == initialStock && reserved == initialStock {
		fmt.Println("PASS: every unit is reserved, none oversold")
	} else {
		fmt.Printf("FAIL: expected %d/%d, got %d/%d\n", initialStock, initialStock, stock, reserved)
	}
}

// seed creates a fresh product and one single-line cart per request.
func seed(ctx context.Context, db *sql.DB) (int64, []int64, error) {
	sku := fmt.Sprintf("STRESS-%d", time.Now().UnixNano())
	res, err := db.ExecContext(ctx,
		"INSERT INTO products (sku, name, price, stock_quantity) VALUES (?, ?, ?, ?)",
		sku, "Stress item", unitPrice, initialStock)
	if err != nil {
		return 0, nil, fmt.Errorf("insert product: %w", err)
	}
	productID, err := res.LastInsertId()
	if err != nil {
		return 0, nil, err
	}

	carts := make([]int64, 0, totalRequests)
	for i := 1; i <= totalRequests; i++ {
		res, err := db.ExecContext(ctx, "INSERT INTO carts (user_id) VALUES (?)", i)
		if err != nil {
			return 0, nil, fmt.Errorf("insert cart: %w", err)
		}
		cartID, err := res.LastInsertId()
		if err != nil {
			return 0, nil, err
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO cart_items (cart_id, product_id, quantity, price) VALUES (?, ?, 1, ?)",
			cartID, productID, unitPrice); err != nil {
			return 0, nil, fmt.Errorf("insert cart item: %w", err)
		}
		carts = append(carts, cartID)
	}
	return productID, carts, nil
}
