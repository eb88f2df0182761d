package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const envPrefix = "CHECKOUT_"

// Gateway drivers.
const (
	GatewayStripe = "stripe"
	GatewayHTTP   = "http"
)

// Store and cart drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverHTTP     = "http"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Payment  PaymentConfig  `koanf:"payment"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Cart     CartConfig     `koanf:"cart"`
	Logging  LoggingConfig  `koanf:"logging"`
	Features FeatureFlags   `koanf:"features"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string        `koanf:"driver"`
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	User         string        `koanf:"user"`
	Password     string        `koanf:"password"`
	Name         string        `koanf:"name"`
	SSLMode      string        `koanf:"sslmode"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	MaxLifetime  time.Duration `koanf:"max_lifetime"`
	AutoMigrate  bool          `koanf:"auto_migrate"`
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type KafkaConfig struct {
	Brokers       []string `koanf:"brokers"`
	OrdersTopic   string   `koanf:"orders_topic"`
	PaymentsTopic string   `koanf:"payments_topic"`
	ConsumerGroup string   `koanf:"consumer_group"`
}

// PaymentConfig selects and configures the payment gateway.
type PaymentConfig struct {
	Driver    string        `koanf:"driver"`
	Currency  string        `koanf:"currency"`
	Timeout   time.Duration `koanf:"timeout"`
	StripeKey string        `koanf:"stripe_key"`
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
}

type WebhookConfig struct {
	Secret          string        `koanf:"secret"`
	SignatureHeader string        `koanf:"signature_header"`
	Tolerance       time.Duration `koanf:"tolerance"`
	// ReconcileTimeout bounds the store work of one reconciliation.
	ReconcileTimeout time.Duration `koanf:"reconcile_timeout"`
}

type CartConfig struct {
	Driver  string        `koanf:"driver"`
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`

	// Seed preloads carts by user ID when Driver is memory.
	Seed map[string][]CartSeedLine `koanf:"seed"`
}

type CartSeedLine struct {
	ItemRef   string `koanf:"item_ref"`
	Quantity  int64  `koanf:"quantity"`
	UnitPrice int64  `koanf:"unit_price"`
}

// SeedCarts converts the configured seed into cart lines keyed by user ID.
func (c CartConfig) SeedCarts() map[string][]models.CartLine {
	carts := make(map[string][]models.CartLine, len(c.Seed))
	for userID, seed := range c.Seed {
		lines := make([]models.CartLine, 0, len(seed))
		for _, l := range seed {
			lines = append(lines, models.CartLine{
				ItemRef:   l.ItemRef,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
			})
		}
		carts[userID] = lines
	}
	return carts
}

type LoggingConfig struct {
	Level    string `koanf:"level"`
	FilePath string `koanf:"file_path"`
}

type FeatureFlags struct {
	EnableOrderCaching bool `koanf:"enable_order_caching"`
	EnableOrderEvents  bool `koanf:"enable_order_events"`
	EnablePaymentRelay bool `koanf:"enable_payment_relay"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8082,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       DriverPostgres,
			Host:         "localhost",
			Port:         5432,
			User:         "acme",
			Password:     "acme",
			Name:         "acme_checkout",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			TTL:  5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			OrdersTopic:   "checkout.orders",
			PaymentsTopic: "checkout.payments",
			ConsumerGroup: "checkout-service",
		},
		Payment: PaymentConfig{
			Driver:   GatewayStripe,
			Currency: "usd",
			Timeout:  10 * time.Second,
			BaseURL:  "http://localhost:8083",
		},
		Webhook: WebhookConfig{
			Tolerance:        5 * time.Minute,
			ReconcileTimeout: 30 * time.Second,
		},
		Cart: CartConfig{
			Driver:  DriverPostgres,
			BaseURL: "http://localhost:8084",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the config from defaults, an optional YAML file named by
// CHECKOUT_CONFIG_FILE, and CHECKOUT_* environment variables. Nested keys
// use a double underscore: CHECKOUT_PAYMENT__STRIPE_KEY.
func Load() (*Config, error) {
	return load(os.Getenv(envPrefix + "CONFIG_FILE"))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "__", "."))
		if key == "config_file" {
			return "", nil
		}
		if key == "kafka.brokers" {
			return key, strings.Split(value, ",")
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	cfg := Default()
	// Slices decode element-wise over existing values, so start empty.
	cfg.Kafka.Brokers = nil
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = Default().Kafka.Brokers
	}

	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = defaultSignatureHeader(cfg.Payment.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultSignatureHeader(driver string) string {
	if driver == GatewayHTTP {
		return "X-Payment-Signature"
	}
	return "Stripe-Signature"
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	switch c.Cart.Driver {
	case DriverPostgres:
		if c.Database.Driver != DriverPostgres {
			return fmt.Errorf("cart.driver postgres requires database.driver postgres")
		}
	case DriverHTTP, DriverMemory:
	default:
		return fmt.Errorf("cart.driver %q not supported", c.Cart.Driver)
	}
	switch c.Payment.Driver {
	case GatewayStripe:
		if c.Payment.StripeKey == "" {
			return fmt.Errorf("payment.stripe_key required for stripe driver")
		}
	case GatewayHTTP:
		if c.Payment.BaseURL == "" {
			return fmt.Errorf("payment.base_url required for http driver")
		}
	default:
		return fmt.Errorf("payment.driver %q not supported", c.Payment.Driver)
	}
	if c.Payment.Currency == "" {
		return fmt.Errorf("payment.currency required")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("payment.timeout must be positive")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret required")
	}
	if (c.Features.EnableOrderEvents || c.Features.EnablePaymentRelay) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when order events or payment relay are enabled")
	}
	return nil
}
