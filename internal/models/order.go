package models

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated: {OrderStatusPaid, OrderStatusFailed},
	OrderStatusPaid:    {},
	OrderStatusFailed:  {},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a forward edge of the state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is one checkout attempt. Total is a snapshot taken at creation and
// is never recomputed.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []OrderLineItem `json:"items"`
	TotalAmount     int64           `json:"total_amount"`
	Currency        string          `json:"currency"`
	Status          OrderStatus     `json:"status"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderLineItem is a frozen copy of one cart line.
type OrderLineItem struct {
	ItemRef   string `json:"item_ref"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// LineTotal returns unit price times quantity.
func (li OrderLineItem) LineTotal() int64 {
	return li.UnitPrice * li.Quantity
}

// CartLine is one line of the user's cart as supplied by the cart reader.
type CartLine struct {
	ItemRef   string `json:"item_ref"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CreateOrderResult is returned to the checkout caller.
type CreateOrderResult struct {
	OrderID      string `json:"order_id"`
	ClientSecret string `json:"client_secret"`
}

// OrderListFilter selects a user's orders.
type OrderListFilter struct {
	UserID string
	Limit  int
	Offset int
}
