package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

// maxWebhookBody caps the payload read from the gateway.
const maxWebhookBody = 1 << 20

// PaymentWebhook handles POST /api/v1/payments/webhook. The raw body is
// verified as received; it must not be re-encoded before verification.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
			return
		}
		h.logger.Error("Failed to read webhook body", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	signature := c.GetHeader(h.config.Webhook.SignatureHeader)
	if err := h.processor.HandleEvent(payload, signature); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
