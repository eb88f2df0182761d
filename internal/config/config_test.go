package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

func TestLoad_DefaultsWithRequiredSecrets(t *testing.T) {
	t.Setenv("CHECKOUT_PAYMENT__STRIPE_KEY", "sk_test_123")
	t.Setenv("CHECKOUT_WEBHOOK__SECRET", "whsec_123")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, GatewayStripe, cfg.Payment.Driver)
	assert.Equal(t, "usd", cfg.Payment.Currency)
	assert.Equal(t, 10*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "Stripe-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "sk_test_123", cfg.Payment.StripeKey)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHECKOUT_SERVER__PORT", "9090")
	t.Setenv("CHECKOUT_PAYMENT__DRIVER", "http")
	t.Setenv("CHECKOUT_PAYMENT__BASE_URL", "http://gateway:8080")
	t.Setenv("CHECKOUT_PAYMENT__TIMEOUT", "3s")
	t.Setenv("CHECKOUT_PAYMENT__CURRENCY", "eur")
	t.Setenv("CHECKOUT_WEBHOOK__SECRET", "shh")
	t.Setenv("CHECKOUT_KAFKA__BROKERS", "k1:9092,k2:9092")
	t.Setenv("CHECKOUT_FEATURES__ENABLE_ORDER_EVENTS", "true")
	t.Setenv("CHECKOUT_DATABASE__DRIVER", "memory")
	t.Setenv("CHECKOUT_CART__DRIVER", "memory")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, GatewayHTTP, cfg.Payment.Driver)
	assert.Equal(t, 3*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "eur", cfg.Payment.Currency)
	assert.Equal(t, "X-Payment-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Features.EnableOrderEvents)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.yaml")
	content := `
server:
  port: 7070
payment:
  driver: http
  base_url: http://pay.local
  currency: gbp
webhook:
  secret: file-secret
  signature_header: X-Signature
features:
  enable_order_caching: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CHECKOUT_SERVER__PORT", "7171")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, 7171, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "gbp", cfg.Payment.Currency)
	assert.Equal(t, "X-Signature", cfg.Webhook.SignatureHeader)
	assert.True(t, cfg.Features.EnableOrderCaching)
	assert.Equal(t, "localhost", cfg.Database.Host, "untouched defaults survive")
}

func TestLoad_CartSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	content := `
cart:
  driver: memory
  seed:
    user-1:
      - item_ref: margherita
        quantity: 2
        unit_price: 1200
      - item_ref: cola
        quantity: 1
        unit_price: 300
payment:
  driver: http
  base_url: http://pay.local
webhook:
  secret: file-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(path)
	require.NoError(t, err)

	carts := cfg.Cart.SeedCarts()
	require.Len(t, carts["user-1"], 2)
	assert.Equal(t, models.CartLine{ItemRef: "margherita", Quantity: 2, UnitPrice: 1200}, carts["user-1"][0])
	assert.Equal(t, models.CartLine{ItemRef: "cola", Quantity: 1, UnitPrice: 300}, carts["user-1"][1])
	assert.Empty(t, Default().Cart.SeedCarts())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Payment.StripeKey = "sk_test"
		c.Webhook.Secret = "whsec"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing webhook secret", func(c *Config) { c.Webhook.Secret = "" }, true},
		{"missing stripe key", func(c *Config) { c.Payment.StripeKey = "" }, true},
		{"unknown gateway", func(c *Config) { c.Payment.Driver = "paypal" }, true},
		{"http gateway without url", func(c *Config) {
			c.Payment.Driver = GatewayHTTP
			c.Payment.BaseURL = ""
		}, true},
		{"zero timeout", func(c *Config) { c.Payment.Timeout = 0 }, true},
		{"postgres cart on memory store", func(c *Config) { c.Database.Driver = DriverMemory }, true},
		{"memory everything", func(c *Config) {
			c.Database.Driver = DriverMemory
			c.Cart.Driver = DriverMemory
		}, false},
		{"events without brokers", func(c *Config) {
			c.Features.EnableOrderEvents = true
			c.Kafka.Brokers = nil
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := Default().Database
	assert.Equal(t, "host=localhost port=5432 user=acme password=acme dbname=acme_checkout sslmode=disable", d.ConnectionString())
}
