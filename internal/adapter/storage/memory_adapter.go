package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type memoryCart struct {
	cart    domain.Cart
	retired bool
}

type memoryState struct {
	products     map[int64]domain.Product
	carts        map[int64]memoryCart
	coupons      map[int64]domain.Coupon
	couponByCode map[string]int64
	orders       map[int64]domain.Order
	nextID       int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		products:     make(map[int64]domain.Product),
		carts:        make(map[int64]memoryCart),
		coupons:      make(map[int64]domain.Coupon),
		couponByCode: make(map[string]int64),
		orders:       make(map[int64]domain.Order),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = s.nextID
	for id, p := range s.products {
		c.products[id] = p
	}
	for id, mc := range s.carts {
		mc.cart.Items = append([]domain.CartItem(nil), mc.cart.Items...)
		c.carts[id] = mc
	}
	for id, cp := range s.coupons {
		c.coupons[id] = cp
	}
	for code, id := range s.couponByCode {
		c.couponByCode[code] = id
	}
	for id, o := range s.orders {
		o.Items = append([]domain.OrderItem(nil), o.Items...)
		c.orders[id] = o
	}
	return c
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

// MemoryAdapter keeps the store in process memory. Transactions run one at a
// time on a copy of the state that replaces the original on commit.
type MemoryAdapter struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memoryState
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: newMemoryState()}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, repo port.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(ctx, &memoryRepo{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) view(fn func(r *memoryRepo) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryRepo{state: m.state})
}

func (m *MemoryAdapter) update(ctx context.Context, fn func(r *memoryRepo) error) error {
	return m.WithinTx(ctx, func(_ context.Context, repo port.Repository) error {
		return fn(repo.(*memoryRepo))
	})
}

// AddProduct stores p, assigning an id when p.ID is zero.
func (m *MemoryAdapter) AddProduct(p domain.Product) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.state.id()
	}
	m.state.products[p.ID] = p
	return p.ID
}

// AddCart stores c, assigning ids to the cart and its items when missing.
func (m *MemoryAdapter) AddCart(c domain.Cart) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.state.id()
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	for i := range c.Items {
		if c.Items[i].ID == 0 {
			c.Items[i].ID = m.state.id()
		}
	}
	m.state.carts[c.ID] = memoryCart{cart: c}
	return c.ID
}

func (m *MemoryAdapter) AddCoupon(c domain.Coupon) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.state.id()
	}
	m.state.coupons[c.ID] = c
	m.state.couponByCode[c.Code] = c.ID
	return c.ID
}

func (m *MemoryAdapter) Product(id int64) (domain.Product, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.state.products[id]
	return p, ok
}

func (m *MemoryAdapter) Coupon(code string) (domain.Coupon, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.state.coupons[m.state.couponByCode[code]]
	return c, ok
}

// CartRetired reports whether the cart exists and was converted to an order.
func (m *MemoryAdapter) CartRetired(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.carts[id].retired
}

func (m *MemoryAdapter) OrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.orders)
}

func (m *MemoryAdapter) LockProduct(ctx context.Context, productID int64) (p *domain.Product, err error) {
	err = m.view(func(r *memoryRepo) error {
		p, err = r.LockProduct(ctx, productID)
		return err
	})
	return p, err
}

func (m *MemoryAdapter) ReserveStock(ctx context.Context, productID int64, quantity int) (ok bool, err error) {
	err = m.update(ctx, func(r *memoryRepo) error {
		ok, err = r.ReserveStock(ctx, productID, quantity)
		return err
	})
	return ok, err
}

func (m *MemoryAdapter) ConfirmStock(ctx context.Context, productID int64, quantity int) (ok bool, err error) {
	err = m.update(ctx, func(r *memoryRepo) error {
		ok, err = r.ConfirmStock(ctx, productID, quantity)
		return err
	})
	return ok, err
}

func (m *MemoryAdapter) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	return m.update(ctx, func(r *memoryRepo) error {
		return r.ReleaseStock(ctx, productID, quantity)
	})
}

func (m *MemoryAdapter) LockCart(ctx context.Context, cartID int64) (c *domain.Cart, err error) {
	err = m.view(func(r *memoryRepo) error {
		c, err = r.LockCart(ctx, cartID)
		return err
	})
	return c, err
}

func (m *MemoryAdapter) RetireCart(ctx context.Context, cartID int64) error {
	return m.update(ctx, func(r *memoryRepo) error {
		return r.RetireCart(ctx, cartID)
	})
}

func (m *MemoryAdapter) GetCouponByCode(ctx context.Context, code string) (c *domain.Coupon, err error) {
	err = m.view(func(r *memoryRepo) error {
		c, err = r.GetCouponByCode(ctx, code)
		return err
	})
	return c, err
}

func (m *MemoryAdapter) LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return m.GetCouponByCode(ctx, code)
}

func (m *MemoryAdapter) CountCouponUsage(ctx context.Context, couponID, userID int64) (n int, err error) {
	err = m.view(func(r *memoryRepo) error {
		n, err = r.CountCouponUsage(ctx, couponID, userID)
		return err
	})
	return n, err
}

func (m *MemoryAdapter) IncrementCouponUsage(ctx context.Context, couponID int64) (ok bool, err error) {
	err = m.update(ctx, func(r *memoryRepo) error {
		ok, err = r.IncrementCouponUsage(ctx, couponID)
		return err
	})
	return ok, err
}

func (m *MemoryAdapter) InsertOrder(ctx context.Context, order *domain.Order) error {
	return m.update(ctx, func(r *memoryRepo) error {
		return r.InsertOrder(ctx, order)
	})
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID int64) (o *domain.Order, err error) {
	err = m.view(func(r *memoryRepo) error {
		o, err = r.GetOrder(ctx, orderID)
		return err
	})
	return o, err
}

func (m *MemoryAdapter) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return m.GetOrder(ctx, orderID)
}

func (m *MemoryAdapter) LockOrderByCorrelation(ctx context.Context, provider domain.PaymentMethod, transactionID string) (o *domain.Order, err error) {
	err = m.view(func(r *memoryRepo) error {
		o, err = r.LockOrderByCorrelation(ctx, provider, transactionID)
		return err
	})
	return o, err
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, userID int64, offset, limit int) (orders []domain.Order, total int, err error) {
	err = m.view(func(r *memoryRepo) error {
		orders, total, err = r.ListOrders(ctx, userID, offset, limit)
		return err
	})
	return orders, total, err
}

func (m *MemoryAdapter) UpdateOrderState(ctx context.Context, order *domain.Order) error {
	return m.update(ctx, func(r *memoryRepo) error {
		return r.UpdateOrderState(ctx, order)
	})
}

// memoryRepo works on one state snapshot without locking. The owning
// MemoryAdapter serializes access.
type memoryRepo struct {
	state *memoryState
}

func (r *memoryRepo) LockProduct(_ context.Context, productID int64) (*domain.Product, error) {
	p, ok := r.state.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrProductNotFound)
	}
	return &p, nil
}

func (r *memoryRepo) ReserveStock(_ context.Context, productID int64, quantity int) (bool, error) {
	p, ok := r.state.products[productID]
	if !ok || !p.CanReserve(quantity) {
		return false, nil
	}
	p.ReservedQuantity += quantity
	r.state.products[productID] = p
	return true, nil
}

func (r *memoryRepo) ConfirmStock(_ context.Context, productID int64, quantity int) (bool, error) {
	p, ok := r.state.products[productID]
	if !ok || quantity <= 0 || p.ReservedQuantity < quantity {
		return false, nil
	}
	p.StockQuantity -= quantity
	p.ReservedQuantity -= quantity
	r.state.products[productID] = p
	return true, nil
}

func (r *memoryRepo) ReleaseStock(_ context.Context, productID int64, quantity int) error {
	p, ok := r.state.products[productID]
	if !ok {
		return nil
	}
	p.ReservedQuantity = max(p.ReservedQuantity-quantity, 0)
	r.state.products[productID] = p
	return nil
}

func (r *memoryRepo) LockCart(_ context.Context, cartID int64) (*domain.Cart, error) {
	mc, ok := r.state.carts[cartID]
	if !ok || mc.retired {
		return nil, domain.ErrCartNotFound
	}
	c := mc.cart
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return &c, nil
}

func (r *memoryRepo) RetireCart(_ context.Context, cartID int64) error {
	mc, ok := r.state.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	mc.cart.Items = nil
	mc.retired = true
	r.state.carts[cartID] = mc
	return nil
}

func (r *memoryRepo) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	id, ok := r.state.couponByCode[code]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	c := r.state.coupons[id]
	return &c, nil
}

func (r *memoryRepo) LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.GetCouponByCode(ctx, code)
}

func (r *memoryRepo) CountCouponUsage(_ context.Context, couponID, userID int64) (int, error) {
	n := 0
	for _, o := range r.state.orders {
		if o.UserID == userID && o.CouponID != nil && *o.CouponID == couponID {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) IncrementCouponUsage(_ context.Context, couponID int64) (bool, error) {
	c, ok := r.state.coupons[couponID]
	if !ok {
		return false, domain.ErrCouponNotFound
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsageCount++
	r.state.coupons[couponID] = c
	return true, nil
}

func (r *memoryRepo) InsertOrder(_ context.Context, order *domain.Order) error {
	for _, existing := range r.state.orders {
		if existing.OrderNumber == order.OrderNumber {
			return fmt.Errorf("insert order: duplicate order number %s", order.OrderNumber)
		}
	}
	order.ID = r.state.id()
	for i := range order.Items {
		order.Items[i].ID = r.state.id()
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	r.state.orders[order.ID] = stored
	return nil
}

func (r *memoryRepo) GetOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	o, ok := r.state.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return &o, nil
}

func (r *memoryRepo) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return r.GetOrder(ctx, orderID)
}

func (r *memoryRepo) LockOrderByCorrelation(ctx context.Context, provider domain.PaymentMethod, transactionID string) (*domain.Order, error) {
	if transactionID == "" {
		return nil, domain.ErrOrderNotFound
	}
	for id, o := range r.state.orders {
		if o.CorrelationID(provider) == transactionID {
			return r.GetOrder(ctx, id)
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *memoryRepo) ListOrders(_ context.Context, userID int64, offset, limit int) ([]domain.Order, int, error) {
	var owned []domain.Order
	for _, o := range r.state.orders {
		if o.UserID == userID {
			o.Items = append([]domain.OrderItem(nil), o.Items...)
			owned = append(owned, o)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := len(owned)
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	end := min(offset+limit, total)
	return owned[offset:end], total, nil
}

func (r *memoryRepo) UpdateOrderState(_ context.Context, order *domain.Order) error {
	stored, ok := r.state.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	stored.Status = order.Status
	stored.PaymentStatus = order.PaymentStatus
	stored.PaymentMethod = order.PaymentMethod
	stored.CardIntentID = order.CardIntentID
	stored.GatewayTransactionID = order.GatewayTransactionID
	stored.ShippedAt = order.ShippedAt
	stored.DeliveredAt = order.DeliveredAt
	stored.UpdatedAt = order.UpdatedAt
	r.state.orders[order.ID] = stored
	return nil
}
