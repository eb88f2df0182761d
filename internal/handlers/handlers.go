package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// UserIDHeader is set by the upstream auth gateway.
const UserIDHeader = "X-User-ID"

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers for the checkout service.
type Handlers struct {
	orderService *service.OrderService
	processor    *service.WebhookProcessor
	config       *config.Config
	checks       map[string]ReadinessCheck
	logger       *logging.LoggerV2
}

// NewHandlers creates a new handlers instance. checks are run by /ready.
func NewHandlers(
	orderService *service.OrderService,
	processor *service.WebhookProcessor,
	cfg *config.Config,
	checks map[string]ReadinessCheck,
) *Handlers {
	return &Handlers{
		orderService: orderService,
		processor:    processor,
		config:       cfg,
		checks:       checks,
		logger:       logging.NewLoggerV2("handlers"),
	}
}

var errorLogger = logging.NewLoggerV2("handlers")

// handleError writes err as a JSON body. Internal errors are logged here
// and never echoed to the client.
func handleError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{"error": apperrors.Kind(err)}

	var ve *apperrors.ValidationError
	var ge *apperrors.GatewayError
	switch {
	case errors.As(err, &ve):
		body["message"] = ve.Message
		if len(ve.Details) > 0 {
			body["details"] = ve.Details
		}
	case errors.As(err, &ge):
		body["order_id"] = ge.OrderID
	case status == http.StatusInternalServerError:
		errorLogger.Error("Request failed", logging.Fields{
			"request_id": middleware.RequestIDFromContext(c.Request.Context()),
			"path":       c.FullPath(),
			"error":      err.Error(),
		})
	}

	_ = c.Error(err)
	c.JSON(status, body)
}
