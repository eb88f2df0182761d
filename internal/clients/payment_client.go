package clients

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// Metadata keys attached to every intent.
const (
	MetadataOrderID = "orderId"
	MetadataUserID  = "userId"
)

const headerIdempotencyKey = "Idempotency-Key"

// HTTPPaymentClient talks to a payment gateway exposing a plain JSON API.
// Webhooks are signed as "t=<unix>,v1=<hex hmac-sha256 of t.payload>".
type HTTPPaymentClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	secret     []byte
	tolerance  time.Duration
	logger     *logging.LoggerV2
	now        func() time.Time
}

// NewHTTPPaymentClient creates a new HTTP-based payment client.
func NewHTTPPaymentClient(cfg config.PaymentConfig, hook config.WebhookConfig, logger *logging.LoggerV2) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:    cfg.APIKey,
		secret:    []byte(hook.Secret),
		tolerance: hook.Tolerance,
		logger:    logger,
		now:       time.Now,
	}
}

type intentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreatePaymentIntent asks the gateway to prepare a payment. The idempotency
// key travels in the Idempotency-Key header.
func (c *HTTPPaymentClient) CreatePaymentIntent(ctx context.Context, req *models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	c.logger.Debug("Creating payment intent", logging.Fields{
		"order_id": req.OrderID,
		"amount":   req.Amount,
		"currency": req.Currency,
	})

	body, err := json.Marshal(intentRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: map[string]string{
			MetadataOrderID: req.OrderID,
			MetadataUserID:  req.UserID,
		},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/payment-intents", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set(headerIdempotencyKey, req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Payment intent request failed", logging.Fields{
			"order_id": req.OrderID,
			"error":    err.Error(),
		})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("Payment intent request returned error", logging.Fields{
			"order_id":    req.OrderID,
			"status_code": resp.StatusCode,
		})
		return nil, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	var result intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.ID == "" || result.ClientSecret == "" {
		return nil, fmt.Errorf("payment gateway returned incomplete intent")
	}

	c.logger.Info("Payment intent created", logging.Fields{
		"order_id":          req.OrderID,
		"payment_intent_id": result.ID,
	})

	return &models.PaymentIntent{GatewayRef: result.ID, ClientSecret: result.ClientSecret}, nil
}

type gatewayEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentIntentID string            `json:"payment_intent_id"`
		TransactionID   string            `json:"transaction_id"`
		Amount          int64             `json:"amount"`
		Currency        string            `json:"currency"`
		Metadata        map[string]string `json:"metadata"`
	} `json:"data"`
}

// VerifyEvent checks the webhook signature and normalises the payload.
// Unknown event types come back with an empty Kind.
func (c *HTTPPaymentClient) VerifyEvent(payload []byte, signature string) (*models.PaymentEvent, error) {
	ts, sigs, err := parseSignatureHeader(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSignature, err)
	}

	if c.tolerance > 0 && c.now().Sub(time.Unix(ts, 0)).Abs() > c.tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", apperrors.ErrInvalidSignature)
	}

	expected := computeSignature(c.secret, ts, payload)
	valid := false
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			valid = true
			break
		}
	}
	if !valid {
		c.logger.Warn("Webhook signature mismatch", logging.Fields{"payload_size": len(payload)})
		return nil, apperrors.ErrInvalidSignature
	}

	var ev gatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	out := &models.PaymentEvent{
		ID:            ev.ID,
		RawKind:       ev.Type,
		TransactionID: ev.Data.TransactionID,
		IntentRef:     ev.Data.PaymentIntentID,
		Amount:        ev.Data.Amount,
		Currency:      ev.Data.Currency,
		OrderID:       ev.Data.Metadata[MetadataOrderID],
	}
	if out.TransactionID == "" {
		out.TransactionID = out.IntentRef
	}
	switch models.PaymentEventKind(ev.Type) {
	case models.PaymentEventSucceeded, models.PaymentEventFailed:
		out.Kind = models.PaymentEventKind(ev.Type)
	}
	return out, nil
}

func (c *HTTPPaymentClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// SignPayload produces the signature header value for payload at ts.
func SignPayload(secret string, payload []byte, ts time.Time) string {
	sig := computeSignature([]byte(secret), ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func computeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature")
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("bad timestamp")
			}
			ts = n
		case "v1":
			b, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			sigs = append(sigs, b)
		}
	}
	if ts == 0 {
		return 0, nil, fmt.Errorf("missing timestamp")
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("missing v1 signature")
	}
	return ts, sigs, nil
}
