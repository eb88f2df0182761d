package models

import "time"

// PaymentStatus is the outcome recorded for a gateway transaction.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is one reconciled gateway outcome. TransactionID is unique
// across all records.
type PaymentRecord struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	TransactionID string        `json:"transaction_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PaymentIntentRequest asks the gateway to prepare a payment.
type PaymentIntentRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	OrderID        string
	UserID         string
}

// PaymentIntent is the gateway's answer to a PaymentIntentRequest.
type PaymentIntent struct {
	GatewayRef   string `json:"gateway_ref"`
	ClientSecret string `json:"client_secret"`
}

// PaymentEventKind identifies a gateway notification.
type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "payment.succeeded"
	PaymentEventFailed    PaymentEventKind = "payment.failed"
)

// PaymentEvent is a verified gateway notification normalised across gateways.
type PaymentEvent struct {
	ID            string           `json:"id"`
	Kind          PaymentEventKind `json:"type"`
	TransactionID string           `json:"transaction_id"`
	Amount        int64            `json:"amount"`
	Currency      string           `json:"currency"`
	OrderID       string           `json:"order_id,omitempty"`
	// IntentRef is the gateway payment reference stored on the order.
	IntentRef string `json:"intent_ref,omitempty"`
	// RawKind keeps the gateway's own event name for logging.
	RawKind string `json:"raw_type,omitempty"`
}
