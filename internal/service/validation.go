package service

import (
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ValidateUserID rejects blank caller identities.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewValidationError("user_id", "user ID is required")
	}
	return nil
}

// ValidateListFilter checks and normalises paging for order listings.
func ValidateListFilter(filter *models.OrderListFilter) error {
	if err := ValidateUserID(filter.UserID); err != nil {
		return err
	}
	if filter.Limit < 0 {
		return apperrors.NewValidationError("limit", "limit must not be negative")
	}
	if filter.Offset < 0 {
		return apperrors.NewValidationError("offset", "offset must not be negative")
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return nil
}
