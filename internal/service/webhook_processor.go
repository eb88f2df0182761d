package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// EventVerifier authenticates a raw webhook delivery and decodes it.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*models.PaymentEvent, error)
}

const defaultReconcileTimeout = 30 * time.Second

// Outcome is the terminal result of one reconciliation.
type Outcome string

const (
	OutcomePaid       Outcome = "paid"
	OutcomeFailed     Outcome = "failed"
	OutcomeRecorded   Outcome = "recorded"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeNoop       Outcome = "noop"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeError      Outcome = "error"
)

// WebhookProcessor applies gateway payment outcomes to orders.
type WebhookProcessor struct {
	verifier       EventVerifier
	orders         repository.OrderStore
	payments       repository.PaymentStore
	orderCache     repository.OrderCache
	eventPublisher OrderEventPublisher
	config         *config.Config
	logger         *logging.LoggerV2

	wg    sync.WaitGroup
	newID func() string
	now   func() time.Time
}

// NewWebhookProcessor creates a processor. orderCache and eventPublisher may
// be nil.
func NewWebhookProcessor(
	verifier EventVerifier,
	orders repository.OrderStore,
	payments repository.PaymentStore,
	orderCache repository.OrderCache,
	eventPublisher OrderEventPublisher,
	cfg *config.Config,
) *WebhookProcessor {
	return &WebhookProcessor{
		verifier:       verifier,
		orders:         orders,
		payments:       payments,
		orderCache:     orderCache,
		eventPublisher: eventPublisher,
		config:         cfg,
		logger:         logging.NewLoggerV2("webhook-processor"),
		newID:          uuid.NewString,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent verifies the delivery and acknowledges it. Reconciliation runs
// in the background; the only error returned is an authenticity failure.
func (p *WebhookProcessor) HandleEvent(payload []byte, signature string) error {
	event, err := p.verifier.VerifyEvent(payload, signature)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			webhookRejected.Inc()
			p.logger.Warn("Webhook rejected", logging.Fields{
				"payload_size": len(payload),
				"error":        err.Error(),
			})
			return err
		}
		// Authentic but undecodable: acknowledge so the gateway stops retrying.
		reconcileFailures.Inc()
		webhookEvents.WithLabelValues("unknown", string(OutcomeError)).Inc()
		p.logger.Error("Webhook payload could not be decoded", logging.Fields{
			"payload_size": len(payload),
			"error":        err.Error(),
		})
		return nil
	}

	p.Dispatch(event)
	return nil
}

// Dispatch reconciles event on its own goroutine.
func (p *WebhookProcessor) Dispatch(event *models.PaymentEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(event)
	}()
}

// Wait blocks until every dispatched reconciliation has finished.
func (p *WebhookProcessor) Wait() {
	p.wg.Wait()
}

func (p *WebhookProcessor) run(event *models.PaymentEvent) {
	fields := logging.Fields{
		"event_id":       event.ID,
		"event_type":     event.RawKind,
		"transaction_id": event.TransactionID,
		"order_id":       event.OrderID,
	}

	defer func() {
		if r := recover(); r != nil {
			reconcileFailures.Inc()
			webhookEvents.WithLabelValues(kindLabel(event), string(OutcomeError)).Inc()
			p.logger.Error("Reconciliation panicked", fields, logging.Fields{"panic": fmt.Sprint(r)})
		}
	}()

	timeout := p.config.Webhook.ReconcileTimeout
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	outcome, err := p.Reconcile(ctx, event)
	webhookEvents.WithLabelValues(kindLabel(event), string(outcome)).Inc()
	if err != nil {
		reconcileFailures.Inc()
		p.logger.Error("Reconciliation failed", fields, logging.Fields{"error": err.Error()})
		return
	}
	p.logger.Info("Reconciliation finished", fields, logging.Fields{"outcome": outcome})
}

func kindLabel(event *models.PaymentEvent) string {
	if event.Kind == "" {
		return "unknown"
	}
	return string(event.Kind)
}

// Reconcile applies one verified event synchronously.
func (p *WebhookProcessor) Reconcile(ctx context.Context, event *models.PaymentEvent) (Outcome, error) {
	switch event.Kind {
	case models.PaymentEventSucceeded:
		return p.reconcileSucceeded(ctx, event)
	case models.PaymentEventFailed:
		return p.reconcileFailed(ctx, event)
	default:
		p.logger.Info("Ignoring webhook event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.RawKind,
		})
		return OutcomeIgnored, nil
	}
}

func (p *WebhookProcessor) reconcileSucceeded(ctx context.Context, event *models.PaymentEvent) (Outcome, error) {
	if event.TransactionID == "" {
		return OutcomeError, fmt.Errorf("event %s has no transaction id", event.ID)
	}

	if _, err := p.payments.GetByTransactionID(ctx, event.TransactionID); err == nil {
		return OutcomeDuplicate, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return OutcomeError, fmt.Errorf("dedup lookup: %w", err)
	}

	order, outcome, err := p.resolveOrder(ctx, event)
	if order == nil {
		return outcome, err
	}

	if event.Amount != 0 && event.Amount != order.TotalAmount {
		p.logger.Warn("Payment amount differs from order total", logging.Fields{
			"order_id":       order.ID,
			"transaction_id": event.TransactionID,
			"amount":         event.Amount,
			"total":          order.TotalAmount,
		})
	}

	currency := strings.ToLower(event.Currency)
	if currency == "" {
		currency = order.Currency
	}
	amount := event.Amount
	if amount == 0 {
		amount = order.TotalAmount
	}

	record := &models.PaymentRecord{
		ID:            p.newID(),
		OrderID:       order.ID,
		TransactionID: event.TransactionID,
		Amount:        amount,
		Currency:      currency,
		Status:        models.PaymentStatusSucceeded,
		CreatedAt:     p.now(),
	}

	res, err := p.payments.RecordSuccess(ctx, record)
	if err != nil {
		return OutcomeError, fmt.Errorf("record payment: %w", err)
	}
	if !res.Recorded {
		return OutcomeDuplicate, nil
	}
	if !res.OrderPaid {
		p.logger.Warn("Payment recorded for order that is not awaiting payment", logging.Fields{
			"order_id":       order.ID,
			"status":         order.Status,
			"transaction_id": event.TransactionID,
		})
		return OutcomeRecorded, nil
	}

	order.Status = models.OrderStatusPaid
	p.invalidate(ctx, order.ID)
	p.publish(ctx, order, func(ctx context.Context) error {
		return p.eventPublisher.PublishOrderPaid(ctx, order, record)
	})
	return OutcomePaid, nil
}

func (p *WebhookProcessor) reconcileFailed(ctx context.Context, event *models.PaymentEvent) (Outcome, error) {
	order, outcome, err := p.resolveOrder(ctx, event)
	if order == nil {
		return outcome, err
	}

	applied, err := p.orders.Transition(ctx, order.ID, models.OrderStatusFailed)
	if err != nil {
		return OutcomeError, fmt.Errorf("mark failed: %w", err)
	}
	if !applied {
		return OutcomeNoop, nil
	}

	order.Status = models.OrderStatusFailed
	p.invalidate(ctx, order.ID)
	p.publish(ctx, order, func(ctx context.Context) error {
		return p.eventPublisher.PublishOrderFailed(ctx, order, event.RawKind)
	})
	return OutcomeFailed, nil
}

// resolveOrder prefers the order id from event metadata and falls back to
// the stored payment intent ref. The fallback misses when the event beats
// CreateOrder's SetPaymentIntent write.
func (p *WebhookProcessor) resolveOrder(ctx context.Context, event *models.PaymentEvent) (*models.Order, Outcome, error) {
	var (
		order *models.Order
		err   error
	)

	switch {
	case event.OrderID != "":
		order, err = p.orders.GetByID(ctx, event.OrderID)
	case event.IntentRef != "" || event.TransactionID != "":
		ref := event.IntentRef
		if ref == "" {
			ref = event.TransactionID
		}
		order, err = p.orders.GetByPaymentIntent(ctx, ref)
	default:
		err = apperrors.ErrNotFound
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		p.logger.Warn("No order matches payment event", logging.Fields{
			"event_id":       event.ID,
			"order_id":       event.OrderID,
			"intent_ref":     event.IntentRef,
			"transaction_id": event.TransactionID,
		})
		return nil, OutcomeUnresolved, nil
	}
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("resolve order: %w", err)
	}
	return order, "", nil
}

func (p *WebhookProcessor) invalidate(ctx context.Context, orderID string) {
	if p.orderCache == nil {
		return
	}
	if err := p.orderCache.Delete(ctx, orderID); err != nil {
		p.logger.Warn("Failed to invalidate cached order", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

func (p *WebhookProcessor) publish(ctx context.Context, order *models.Order, fn func(context.Context) error) {
	if !p.config.Features.EnableOrderEvents || p.eventPublisher == nil {
		return
	}
	if err := fn(ctx); err != nil {
		p.logger.Error("Failed to publish order event", logging.Fields{
			"order_id": order.ID,
			"status":   order.Status,
			"error":    err.Error(),
		})
	}
}
