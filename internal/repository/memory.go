package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// MemoryStore keeps orders, payments and carts in process memory. Every
// operation holds one lock, so the check-and-write steps that Postgres does
// with conditional updates are atomic here too.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	byIntent map[string]string
	payments map[string]*models.PaymentRecord
	carts    map[string][]models.CartLine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		byIntent: make(map[string]string),
		payments: make(map[string]*models.PaymentRecord),
		carts:    make(map[string][]models.CartLine),
	}
}

// PutCart replaces the user's cart.
func (m *MemoryStore) PutCart(userID string, lines []models.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = append([]models.CartLine(nil), lines...)
}

func (m *MemoryStore) GetCartLines(_ context.Context, userID string) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CartLine{}, m.carts[userID]...), nil
}

func (m *MemoryStore) Create(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyOrder(order), nil
}

func (m *MemoryStore) GetByPaymentIntent(_ context.Context, ref string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byIntent[ref]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyOrder(m.orders[id]), nil
}

func (m *MemoryStore) SetPaymentIntent(_ context.Context, orderID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if order.PaymentIntentID != "" {
		return nil
	}
	if other, taken := m.byIntent[ref]; taken && other != orderID {
		return fmt.Errorf("payment intent %s already belongs to order %s", ref, other)
	}
	order.PaymentIntentID = ref
	order.UpdatedAt = time.Now().UTC()
	m.byIntent[ref] = orderID
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, to models.OrderStatus) (bool, error) {
	if !models.CanTransition(models.OrderStatusCreated, to) {
		return false, fmt.Errorf("transition to %q not allowed", to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	return m.transitionLocked(order, to), nil
}

func (m *MemoryStore) transitionLocked(order *models.Order, to models.OrderStatus) bool {
	if order.Status != models.OrderStatusCreated {
		return false
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	return true
}

func (m *MemoryStore) ListByUser(_ context.Context, filter models.OrderListFilter) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]*models.Order, 0)
	for _, o := range m.orders {
		if o.UserID == filter.UserID {
			c := copyOrder(o)
			c.Items = nil
			orders = append(orders, c)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	if filter.Offset >= len(orders) {
		return []*models.Order{}, nil
	}
	orders = orders[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(orders) {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (m *MemoryStore) GetByTransactionID(_ context.Context, transactionID string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.payments[transactionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *MemoryStore) RecordSuccess(_ context.Context, rec *models.PaymentRecord) (RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res RecordResult
	if _, dup := m.payments[rec.TransactionID]; dup {
		return res, nil
	}
	order, ok := m.orders[rec.OrderID]
	if !ok {
		return res, apperrors.ErrNotFound
	}

	c := *rec
	m.payments[rec.TransactionID] = &c
	res.Recorded = true
	res.OrderPaid = m.transitionLocked(order, models.OrderStatusPaid)
	return res, nil
}

func (m *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*models.PaymentRecord, 0)
	for _, rec := range m.payments {
		if rec.OrderID == orderID {
			c := *rec
			records = append(records, &c)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderLineItem(nil), o.Items...)
	return &c
}
