package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// CreateOrder handles POST /api/v1/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	userID := c.GetHeader(UserIDHeader)

	result, err := h.orderService.CreateOrder(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	h.logger.Info("Checkout started", logging.Fields{
		"order_id": result.OrderID,
		"user_id":  userID,
	})
	c.JSON(http.StatusCreated, result)
}

// GetOrder handles GET /api/v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.GetHeader(UserIDHeader), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	filter := models.OrderListFilter{UserID: c.GetHeader(UserIDHeader)}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		handleError(c, err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		handleError(c, err)
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// ListOrderPayments handles GET /api/v1/orders/:id/payments
func (h *Handlers) ListOrderPayments(c *gin.Context) {
	orderID := c.Param("id")

	payments, err := h.orderService.ListPayments(c.Request.Context(), c.GetHeader(UserIDHeader), orderID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"payments": payments,
	})
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError(name, "must be an integer")
	}
	return n, nil
}
