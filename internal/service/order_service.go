package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// PaymentGateway creates payment intents on the external gateway.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req *models.PaymentIntentRequest) (*models.PaymentIntent, error)
}

// OrderEventPublisher announces order lifecycle changes.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderPaid(ctx context.Context, order *models.Order, payment *models.PaymentRecord) error
	PublishOrderFailed(ctx context.Context, order *models.Order, reason string) error
}

// OrderService handles checkout and order reads.
type OrderService struct {
	orders         repository.OrderStore
	payments       repository.PaymentStore
	carts          repository.CartReader
	orderCache     repository.OrderCache
	gateway        PaymentGateway
	eventPublisher OrderEventPublisher
	config         *config.Config
	logger         *logging.LoggerV2

	newID func() string
	now   func() time.Time
}

// NewOrderService creates a new order service. orderCache and
// eventPublisher may be nil when the matching feature is off.
func NewOrderService(
	orders repository.OrderStore,
	payments repository.PaymentStore,
	carts repository.CartReader,
	orderCache repository.OrderCache,
	gateway PaymentGateway,
	eventPublisher OrderEventPublisher,
	cfg *config.Config,
) *OrderService {
	return &OrderService{
		orders:         orders,
		payments:       payments,
		carts:          carts,
		orderCache:     orderCache,
		gateway:        gateway,
		eventPublisher: eventPublisher,
		config:         cfg,
		logger:         logging.NewLoggerV2("order-service"),
		newID:          uuid.NewString,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder turns the user's cart into an order and a payment intent.
// A gateway failure leaves the order in failed and returns a GatewayError.
func (s *OrderService) CreateOrder(ctx context.Context, userID string) (*models.CreateOrderResult, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	lines, err := s.carts.GetCartLines(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to read cart", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("read cart: %w", err)
	}

	items, total, err := PriceCart(lines)
	if err != nil {
		s.logger.Info("Checkout rejected", logging.Fields{
			"user_id": userID,
			"reason":  apperrors.Kind(err),
		})
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:          s.newID(),
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Currency:    s.config.Payment.Currency,
		Status:      models.OrderStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	ordersCreated.Inc()

	s.logger.Info("Order created", logging.Fields{
		"order_id":   order.ID,
		"user_id":    userID,
		"item_count": len(items),
		"total":      total,
		"currency":   order.Currency,
	})

	s.publish(ctx, order, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderCreated(ctx, order)
	})

	intent, err := s.requestIntent(ctx, order)
	if err != nil {
		s.failOrder(ctx, order, err)
		return nil, &apperrors.GatewayError{OrderID: order.ID, Err: err}
	}

	if err := s.orders.SetPaymentIntent(ctx, order.ID, intent.GatewayRef); err != nil {
		// The intent carries the order id in metadata, so reconciliation
		// still resolves the order without the stored ref.
		s.logger.Error("Failed to store payment intent", logging.Fields{
			"order_id":          order.ID,
			"payment_intent_id": intent.GatewayRef,
			"error":             err.Error(),
		})
	}

	return &models.CreateOrderResult{
		OrderID:      order.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (s *OrderService) requestIntent(ctx context.Context, order *models.Order) (*models.PaymentIntent, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.config.Payment.Timeout)
	defer cancel()

	start := time.Now()
	intent, err := s.gateway.CreatePaymentIntent(gwCtx, &models.PaymentIntentRequest{
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		IdempotencyKey: IdempotencyKey(order.ID),
		OrderID:        order.ID,
		UserID:         order.UserID,
	})
	gatewayDuration.Observe(float64(time.Since(start).Milliseconds()))

	if err == nil && (intent == nil || intent.GatewayRef == "") {
		err = errors.New("gateway returned no payment intent")
	}
	if err != nil && gwCtx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %v", gwCtx.Err(), err)
	}
	return intent, err
}

// failOrder moves the order to failed even when the request context is gone.
func (s *OrderService) failOrder(ctx context.Context, order *models.Order, cause error) {
	reason := apperrors.Kind(cause)
	if reason == "internal" {
		reason = "rejected"
	}
	gatewayFailures.WithLabelValues(reason).Inc()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Payment.Timeout)
	defer cancel()

	applied, err := s.orders.Transition(ctx, order.ID, models.OrderStatusFailed)
	if err != nil {
		s.logger.Error("Failed to mark order failed", logging.Fields{
			"order_id": order.ID,
			"cause":    cause.Error(),
			"error":    err.Error(),
		})
		return
	}

	s.logger.Warn("Payment intent failed", logging.Fields{
		"order_id": order.ID,
		"reason":   reason,
		"error":    cause.Error(),
		"applied":  applied,
	})

	if applied {
		order.Status = models.OrderStatusFailed
		s.invalidate(ctx, order.ID)
		s.publish(ctx, order, func(ctx context.Context) error {
			return s.eventPublisher.PublishOrderFailed(ctx, order, reason)
		})
	}
}

// GetOrder returns the caller's order. Orders owned by someone else are
// reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return order, nil
}

func (s *OrderService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	caching := s.config.Features.EnableOrderCaching && s.orderCache != nil

	if caching {
		if order, err := s.orderCache.Get(ctx, orderID); err == nil && order != nil {
			s.logger.Debug("Order found in cache", logging.Fields{"order_id": orderID})
			return order, nil
		}
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Only terminal orders are cached; a created order can still change.
	if caching && order.Status.IsTerminal() {
		if err := s.orderCache.Set(ctx, order); err != nil {
			s.logger.Warn("Failed to cache order", logging.Fields{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error) {
	if err := ValidateListFilter(&filter); err != nil {
		return nil, err
	}
	return s.orders.ListByUser(ctx, filter)
}

// ListPayments returns the payment records of the caller's order.
func (s *OrderService) ListPayments(ctx context.Context, userID, orderID string) ([]*models.PaymentRecord, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.payments.ListByOrder(ctx, orderID)
}

func (s *OrderService) invalidate(ctx context.Context, orderID string) {
	if s.orderCache == nil {
		return
	}
	if err := s.orderCache.Delete(ctx, orderID); err != nil {
		s.logger.Warn("Failed to invalidate cached order", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

func (s *OrderService) publish(ctx context.Context, order *models.Order, fn func(context.Context) error) {
	if !s.config.Features.EnableOrderEvents || s.eventPublisher == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.Error("Failed to publish order event", logging.Fields{
			"order_id": order.ID,
			"status":   order.Status,
			"error":    err.Error(),
		})
	}
}
