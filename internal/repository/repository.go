package repository

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

var (
	_ OrderStore   = (*PostgresOrderStore)(nil)
	_ PaymentStore = (*PostgresPaymentStore)(nil)
	_ CartReader   = (*PostgresCartReader)(nil)
	_ OrderStore   = (*MemoryStore)(nil)
	_ PaymentStore = (*MemoryStore)(nil)
	_ CartReader   = (*MemoryStore)(nil)
	_ OrderCache   = (*RedisOrderCache)(nil)
)

// OrderStore persists orders and applies status transitions.
type OrderStore interface {
	// Create inserts the order with its line items in one unit.
	Create(ctx context.Context, order *models.Order) error

	GetByID(ctx context.Context, id string) (*models.Order, error)

	// GetByPaymentIntent finds the order holding the gateway intent ref.
	GetByPaymentIntent(ctx context.Context, ref string) (*models.Order, error)

	// SetPaymentIntent stores the gateway ref once. It never changes status.
	SetPaymentIntent(ctx context.Context, orderID, ref string) error

	// Transition moves an order out of created. It reports false without
	// error when the order is already terminal.
	Transition(ctx context.Context, id string, to models.OrderStatus) (bool, error)

	ListByUser(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error)
}

// RecordResult describes what RecordSuccess changed.
type RecordResult struct {
	// Recorded is false when the transaction id was already present.
	Recorded bool
	// OrderPaid is true when the order moved created -> paid.
	OrderPaid bool
}

// PaymentStore persists reconciled gateway outcomes.
type PaymentStore interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)

	// RecordSuccess inserts the record and marks its order paid atomically.
	// The transaction id uniqueness is enforced by the store.
	RecordSuccess(ctx context.Context, record *models.PaymentRecord) (RecordResult, error)

	ListByOrder(ctx context.Context, orderID string) ([]*models.PaymentRecord, error)
}

// CartReader returns the user's current cart with trusted unit prices.
type CartReader interface {
	GetCartLines(ctx context.Context, userID string) ([]models.CartLine, error)
}

// OrderCache defines caching operations for orders.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
}
