package service

import (
	"math"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// IdempotencyKey derives the gateway idempotency key for an order.
func IdempotencyKey(orderID string) string {
	return "pi_" + orderID
}

// PriceCart freezes cart lines into order line items and sums the total in
// minor units. Any line with a non-positive quantity or price, or a total
// that does not fit in int64, rejects the whole cart.
func PriceCart(lines []models.CartLine) ([]models.OrderLineItem, int64, error) {
	if len(lines) == 0 {
		return nil, 0, apperrors.EmptyCart()
	}

	items := make([]models.OrderLineItem, 0, len(lines))
	var total int64
	for i, line := range lines {
		switch {
		case line.ItemRef == "":
			return nil, 0, apperrors.InvalidLineItem(i, line.ItemRef, "item reference is required")
		case line.Quantity <= 0:
			return nil, 0, apperrors.InvalidLineItem(i, line.ItemRef, "quantity must be positive")
		case line.UnitPrice <= 0:
			return nil, 0, apperrors.InvalidLineItem(i, line.ItemRef, "unit price must be positive")
		case line.Quantity > math.MaxInt64/line.UnitPrice:
			return nil, 0, apperrors.InvalidLineItem(i, line.ItemRef, "line total overflows")
		}

		item := models.OrderLineItem{
			ItemRef:   line.ItemRef,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		lineTotal := item.LineTotal()
		if total > math.MaxInt64-lineTotal {
			return nil, 0, apperrors.InvalidLineItem(i, line.ItemRef, "order total overflows")
		}
		total += lineTotal
		items = append(items, item)
	}
	return items, total, nil
}
