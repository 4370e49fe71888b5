package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

func TestMemoryAdapter_RollbackDiscardsWrites(t *testing.T) {
	store := NewMemoryAdapter()
	ctx := context.Background()
	id := store.AddProduct(domain.Product{SKU: "A", StockQuantity: 5})
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, repo port.Repository) error {
		ok, err := repo.ReserveStock(ctx, id, 3)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, _ := store.Product(id)
	assert.Equal(t, 0, p.ReservedQuantity)
}

func TestMemoryAdapter_StockPrimitives(t *testing.T) {
	store := NewMemoryAdapter()
	ctx := context.Background()
	id := store.AddProduct(domain.Product{SKU: "A", StockQuantity: 10})

	ok, err := store.ReserveStock(ctx, id, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.ReserveStock(ctx, id, 1)
	assert.False(t, ok)

	ok, _ = store.ReserveStock(ctx, id, 0)
	assert.False(t, ok, "zero quantity is never reserved")

	ok, _ = store.ConfirmStock(ctx, id, 4)
	assert.True(t, ok)

	require.NoError(t, store.ReleaseStock(ctx, id, 100))
	p, _ := store.Product(id)
	assert.Equal(t, 6, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)
}

func TestMemoryAdapter_ConcurrentReservations(t *testing.T) {
	store := NewMemoryAdapter()
	ctx := context.Background()
	id := store.AddProduct(domain.Product{SKU: "A", StockQuantity: 20})

	var success atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.ReserveStock(ctx, id, 1); ok {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), success.Load())
	p, _ := store.Product(id)
	assert.Equal(t, 20, p.ReservedQuantity)
}

func TestMemoryAdapter_ListOrdersNewestFirst(t *testing.T) {
	store := NewMemoryAdapter()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cart := &domain.Cart{Items: []domain.CartItem{{ProductID: 1, Quantity: 1, Price: decimal.NewFromInt(10)}}}

	for i := 0; i < 3; i++ {
		order := domain.NewOrder(7, cart, domain.ShippingAddress{}, nil, decimal.Zero, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.InsertOrder(ctx, order))
	}
	other := domain.NewOrder(8, cart, domain.ShippingAddress{}, nil, decimal.Zero, base)
	require.NoError(t, store.InsertOrder(ctx, other))

	page, total, err := store.ListOrders(ctx, 7, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, _, err := store.ListOrders(ctx, 7, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	empty, _, err := store.ListOrders(ctx, 7, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
