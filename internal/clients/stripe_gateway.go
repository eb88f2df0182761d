package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	stripeEventSucceeded = "payment_intent.succeeded"
	stripeEventFailed    = "payment_intent.payment_failed"
)

// StripeGateway creates payment intents and verifies webhooks with Stripe.
type StripeGateway struct {
	api    *client.API
	hook   config.WebhookConfig
	logger *logging.LoggerV2
}

// NewStripeGateway builds a gateway. backends may be nil to use Stripe's
// default endpoints.
func NewStripeGateway(cfg config.PaymentConfig, hook config.WebhookConfig, backends *stripe.Backends, logger *logging.LoggerV2) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.StripeKey, backends)
	return &StripeGateway{
		api:    api,
		hook:   hook,
		logger: logger,
	}
}

// CreatePaymentIntent creates a Stripe PaymentIntent carrying the order and
// user ids in metadata. Stripe dedups on the Idempotency-Key header.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req *models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.AddMetadata(MetadataUserID, req.UserID)
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Error("Stripe payment intent failed", logging.Fields{
			"order_id": req.OrderID,
			"error":    err.Error(),
		})
		return nil, err
	}

	g.logger.Info("Stripe payment intent created", logging.Fields{
		"order_id":          req.OrderID,
		"payment_intent_id": pi.ID,
	})
	return &models.PaymentIntent{GatewayRef: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// VerifyEvent checks the Stripe-Signature header and maps payment intent
// events. Other event types come back with an empty Kind.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*models.PaymentEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, g.hook.Secret, g.hook.Tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSignature, err)
	}

	// Authentic from here on; decode failures are not signature failures.
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}

	out := &models.PaymentEvent{
		ID:      event.ID,
		RawKind: string(event.Type),
	}

	switch string(event.Type) {
	case stripeEventSucceeded:
		out.Kind = models.PaymentEventSucceeded
	case stripeEventFailed:
		out.Kind = models.PaymentEventFailed
	default:
		return out, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	out.TransactionID = pi.ID
	out.IntentRef = pi.ID
	out.Amount = pi.Amount
	out.Currency = string(pi.Currency)
	out.OrderID = pi.Metadata[MetadataOrderID]
	return out, nil
}
