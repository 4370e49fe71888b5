package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	inventoryReserve = "reserve"
	inventoryConfirm = "confirm"
	inventoryRelease = "release"
)

// InventoryService applies the reserve, confirm and release primitives to
// whichever repository it is handed, usually the one of an open transaction.
type InventoryService struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewInventoryService(logger *zap.Logger, metrics *observability.Metrics) *InventoryService {
	return &InventoryService{logger: logger, metrics: metrics}
}

// CheckAvailability reads the product under lock and tells whether quantity
// can still be reserved.
func (s *InventoryService) CheckAvailability(ctx context.Context, repo port.InventoryRepository, productID int64, quantity int) (bool, error) {
	p, err := repo.LockProduct(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.CanReserve(quantity), nil
}

func (s *InventoryService) ReserveStock(ctx context.Context, repo port.InventoryRepository, productID int64, quantity int) (bool, error) {
	ok, err := repo.ReserveStock(ctx, productID, quantity)
	s.count(inventoryReserve, ok, err)
	return ok, err
}

// ConfirmOrder turns a held reservation into a sale. It reports false when
// the product holds less reserved quantity than asked for.
func (s *InventoryService) ConfirmOrder(ctx context.Context, repo port.InventoryRepository, productID int64, quantity int) (bool, error) {
	ok, err := repo.ConfirmStock(ctx, productID, quantity)
	s.count(inventoryConfirm, ok, err)
	return ok, err
}

func (s *InventoryService) ReleaseReservedStock(ctx context.Context, repo port.InventoryRepository, productID int64, quantity int) error {
	err := repo.ReleaseStock(ctx, productID, quantity)
	s.count(inventoryRelease, err == nil, err)
	return err
}

// ReserveItems reserves every cart line in ascending product id order. On
// failure everything reserved so far is released before returning.
func (s *InventoryService) ReserveItems(ctx context.Context, repo port.InventoryRepository, items []domain.CartItem) (*Reservation, error) {
	lines := append([]domain.CartItem(nil), items...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	r := &Reservation{inventory: s}
	for _, line := range lines {
		if err := r.hold(ctx, repo, line); err != nil {
			if releaseErr := r.Release(ctx, repo); releaseErr != nil {
				err = errors.Join(err, releaseErr)
			}
			return nil, err
		}
	}
	return r, nil
}

// ConfirmItems confirms the reservation behind every order line.
func (s *InventoryService) ConfirmItems(ctx context.Context, repo port.InventoryRepository, orderID int64, items []domain.OrderItem) error {
	for _, item := range items {
		ok, err := s.ConfirmOrder(ctx, repo, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			observability.LoggerFromContext(ctx, s.logger).Warn("stock_confirm_without_reservation",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
		}
	}
	return nil
}

// ReleaseItems returns the reservation behind every order line.
func (s *InventoryService) ReleaseItems(ctx context.Context, repo port.InventoryRepository, items []domain.OrderItem) error {
	for _, item := range items {
		if err := s.ReleaseReservedStock(ctx, repo, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *InventoryService) count(op string, ok bool, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "rejected"
	}
	s.metrics.IncInventory(op, result)
}

type heldStock struct {
	productID int64
	quantity  int
}

// Reservation is the set of lines reserved for one order attempt.
type Reservation struct {
	inventory *InventoryService
	held      []heldStock
}

func (r *Reservation) hold(ctx context.Context, repo port.InventoryRepository, line domain.CartItem) error {
	available, err := r.inventory.CheckAvailability(ctx, repo, line.ProductID, line.Quantity)
	if err != nil {
		return err
	}
	if !available {
		return outOfStock(line)
	}

	ok, err := r.inventory.ReserveStock(ctx, repo, line.ProductID, line.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return outOfStock(line)
	}
	r.held = append(r.held, heldStock{productID: line.ProductID, quantity: line.Quantity})
	return nil
}

// Release gives back every held line, most recent first.
func (r *Reservation) Release(ctx context.Context, repo port.InventoryRepository) error {
	var errs []error
	for i := len(r.held) - 1; i >= 0; i-- {
		h := r.held[i]
		if err := r.inventory.ReleaseReservedStock(ctx, repo, h.productID, h.quantity); err != nil {
			errs = append(errs, err)
		}
	}
	r.held = nil
	return errors.Join(errs...)
}

func outOfStock(line domain.CartItem) error {
	name := line.ProductName
	if name == "" {
		name = fmt.Sprintf("#%d", line.ProductID)
	}
	return fmt.Errorf("%w: product %s is out of stock", domain.ErrInsufficientStock, name)
}
