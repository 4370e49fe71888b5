package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type fakeAdapter struct {
	method     domain.PaymentMethod
	configured bool
	err        error
	calls      atomic.Int32
}

func (f *fakeAdapter) Method() domain.PaymentMethod { return f.method }

func (f *fakeAdapter) Configured() bool { return f.configured }

func (f *fakeAdapter) Initiate(_ context.Context, o *domain.Order) (*domain.PaymentInitiation, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	init := &domain.PaymentInitiation{Method: f.method}
	switch f.method {
	case domain.PaymentMethodCard:
		init.CorrelationID = fmt.Sprintf("pi_%d_%d", o.ID, n)
		init.ClientSecret = init.CorrelationID + "_secret"
	case domain.PaymentMethodAltGateway:
		init.CorrelationID = fmt.Sprintf("TR-%d-%d", o.ID, n)
		init.RedirectURL = "https://gateway.test/pay/" + init.CorrelationID
	case domain.PaymentMethodBankTransfer:
		init.BankDetails = f.BankDetails(o)
	}
	return init, nil
}

func (f *fakeAdapter) BankDetails(o *domain.Order) *domain.BankDetails {
	return &domain.BankDetails{
		BankName:      "Test Bank",
		AccountNumber: "PL00 0000",
		Recipient:     "Storefront",
		Title:         "Order no. " + o.OrderNumber,
		Amount:        o.Total,
		OrderNumber:   o.OrderNumber,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// memoryCache mirrors the claim semantics of the redis adapter.
type memoryCache struct {
	mu    sync.Mutex
	state map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{state: make(map[string]string)}
}

func (c *memoryCache) ClaimDelivery(_ context.Context, key string) (port.ClaimResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state[key] {
	case "":
		c.state[key] = "processing"
		return port.ClaimAcquired, nil
	case "done":
		return port.ClaimDuplicate, nil
	default:
		return port.ClaimInFlight, nil
	}
}

func (c *memoryCache) CompleteDelivery(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = "done"
	return nil
}

func (c *memoryCache) ReleaseDelivery(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, key)
	return nil
}

type fixture struct {
	store      *storage.MemoryAdapter
	events     *recordingPublisher
	card       *fakeAdapter
	gateway    *fakeAdapter
	bank       *fakeAdapter
	orders     *OrderService
	payments   *PaymentService
	reconciler *WebhookReconciler
	discounts  *DiscountEvaluator
}

func newFixture(t *testing.T, cache port.CacheRepository) *fixture {
	t.Helper()

	f := &fixture{
		store:   storage.NewMemoryAdapter(),
		events:  &recordingPublisher{},
		card:    &fakeAdapter{method: domain.PaymentMethodCard, configured: true},
		gateway: &fakeAdapter{method: domain.PaymentMethodAltGateway, configured: true},
		bank:    &fakeAdapter{method: domain.PaymentMethodBankTransfer, configured: true},
	}
	logger := zap.NewNop()

	inventory := NewInventoryService(logger, nil)
	f.discounts = NewDiscountEvaluator(f.store, nil)
	f.orders = NewOrderService(f.store, inventory, f.discounts, f.events, logger, nil)

	payments, err := NewPaymentService(f.store, []port.PaymentAdapter{f.card, f.gateway, f.bank}, f.events, logger, nil)
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	f.payments = payments
	f.reconciler = NewWebhookReconciler(f.store, cache, inventory, f.events, logger, nil)
	return f
}

func (f *fixture) addProduct(price string, stock int) int64 {
	return f.store.AddProduct(domain.Product{
		SKU:           fmt.Sprintf("SKU-%d", stock),
		Name:          "Widget",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
}

func (f *fixture) addCart(userID int64, lines ...domain.CartItem) int64 {
	return f.store.AddCart(domain.Cart{UserID: userID, Items: lines})
}

func line(productID int64, price string, qty int) domain.CartItem {
	return domain.CartItem{
		ProductID:   productID,
		ProductName: fmt.Sprintf("Product %d", productID),
		ProductSKU:  fmt.Sprintf("SKU-%d", productID),
		Quantity:    qty,
		Price:       decimal.RequireFromString(price),
	}
}

func shipTo() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
		Phone:      "+48 600 000 000",
		Address:    "1 Main St",
		City:       "Krakow",
		PostalCode: "30-001",
		Country:    "PL",
	}
}

// placeOrder places an order for one unit of a fresh product priced 100.00.
func (f *fixture) placeOrder(t *testing.T, userID int64, stock int) (*domain.Order, int64) {
	t.Helper()
	productID := f.addProduct("100.00", stock)
	cartID := f.addCart(userID, line(productID, "100.00", 1))
	order, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{UserID: userID, CartID: cartID, ShipTo: shipTo()})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return order, productID
}

func (f *fixture) product(t *testing.T, id int64) domain.Product {
	t.Helper()
	p, ok := f.store.Product(id)
	if !ok {
		t.Fatalf("product %d missing", id)
	}
	return p
}
