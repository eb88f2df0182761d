package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrEmptyCart and ErrInvalidLineItem are checkout validation failures.
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidLineItem = errors.New("invalid line item")

	// ErrInvalidSignature rejects a webhook before any processing.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	ErrGateway = errors.New("payment gateway failure")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string            `json:"field"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	cause   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// EmptyCart returns a validation error that matches ErrEmptyCart.
func EmptyCart() *ValidationError {
	return &ValidationError{Field: "cart", Message: "cart is empty", cause: ErrEmptyCart}
}

// InvalidLineItem returns a validation error that matches ErrInvalidLineItem.
func InvalidLineItem(index int, itemRef, reason string) *ValidationError {
	return &ValidationError{
		Field:   "items",
		Message: reason,
		Details: map[string]string{
			"index":    fmt.Sprintf("%d", index),
			"item_ref": itemRef,
		},
		cause: ErrInvalidLineItem,
	}
}

// GatewayError wraps a failed payment-intent request. OrderID names the
// order that was moved to failed because of it.
type GatewayError struct {
	OrderID string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway failure for order %s: %v", e.OrderID, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Err} }

// Kind returns a short machine-readable classification of err.
func Kind(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidLineItem):
		return "invalid_line_item"
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, ErrInvalidSignature):
		return "authenticity"
	case errors.Is(err, ErrGateway):
		return "gateway"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	var ve *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve), errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
