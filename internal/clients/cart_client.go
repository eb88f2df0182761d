package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// HTTPCartClient reads carts from the cart service.
type HTTPCartClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.LoggerV2
}

// NewHTTPCartClient creates a new HTTP-based cart client.
func NewHTTPCartClient(cfg config.CartConfig, logger *logging.LoggerV2) *HTTPCartClient {
	return &HTTPCartClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

type cartResponse struct {
	Items []models.CartLine `json:"items"`
}

// GetCartLines returns the user's cart. A missing cart is an empty cart.
func (c *HTTPCartClient) GetCartLines(ctx context.Context, userID string) ([]models.CartLine, error) {
	c.logger.Debug("Fetching cart", logging.Fields{"user_id": userID})

	u := fmt.Sprintf("%s/api/v1/carts/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch cart", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []models.CartLine{}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cart service returned status %d", resp.StatusCode)
	}

	var cart cartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cart); err != nil {
		return nil, err
	}

	c.logger.Debug("Cart fetched", logging.Fields{
		"user_id": userID,
		"lines":   len(cart.Items),
	})
	return cart.Items, nil
}
