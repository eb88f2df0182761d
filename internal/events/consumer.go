package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// PaymentEventHandler reconciles one already-authenticated payment event.
type PaymentEventHandler interface {
	Reconcile(ctx context.Context, event *models.PaymentEvent) (service.Outcome, error)
}

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer relays payment outcomes published by other services (for
// example a gateway-facing edge that already verified signatures) into the
// reconciliation path.
type KafkaConsumer struct {
	reader   MessageReader
	handler  PaymentEventHandler
	timeout  time.Duration
	logger   *logging.LoggerV2
	stopCh   chan struct{}
	stopOnce sync.Once

	// retryDelay and maxRetryDelay bound the backoff between attempts on
	// a message whose reconciliation failed.
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// NewKafkaConsumer creates a new Kafka-based event consumer.
func NewKafkaConsumer(cfg config.KafkaConfig, handler PaymentEventHandler, timeout time.Duration, logger *logging.LoggerV2) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.PaymentsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return NewConsumerWithReader(reader, handler, timeout, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r MessageReader, handler PaymentEventHandler, timeout time.Duration, logger *logging.LoggerV2) *KafkaConsumer {
	return &KafkaConsumer{
		reader:  r,
		handler: handler,
		timeout: timeout,
		logger:  logger,
		stopCh:  make(chan struct{}),

		retryDelay:    200 * time.Millisecond,
		maxRetryDelay: 30 * time.Second,
	}
}

// Start consumes until ctx is done or Stop is called.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting payment relay consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Payment relay consumer stopped")
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.stopCh:
				c.logger.Info("Payment relay consumer stopped")
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("Payment relay reader closed")
				return nil
			}
			c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
			continue
		}

		if !c.processWithRetry(ctx, msg) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Info("Payment relay consumer stopped", logging.Fields{"uncommitted_offset": msg.Offset})
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message", logging.Fields{
				"offset": msg.Offset,
				"error":  err.Error(),
			})
		}
	}
}

// processWithRetry handles msg until it may be committed. Commits are
// per-partition offsets, so a later message must never be committed while
// this one is unreconciled. It returns false when the consumer is stopped
// first.
func (c *KafkaConsumer) processWithRetry(ctx context.Context, msg kafka.Message) bool {
	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		if c.handleMessage(ctx, msg) {
			return true
		}

		c.logger.Warn("Retrying relayed payment event", logging.Fields{
			"offset":  msg.Offset,
			"attempt": attempt,
			"delay":   delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-c.stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}

		delay *= 2
		if delay > c.maxRetryDelay {
			delay = c.maxRetryDelay
		}
	}
}

// Stop stops the consumer. It is safe to call more than once.
func (c *KafkaConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.reader.Close()
	})
}

// handleMessage reports whether the message may be committed.
func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) bool {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event models.PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{
			"offset": msg.Offset,
			"error":  err.Error(),
		})
		return true
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome, err := c.handler.Reconcile(rctx, &event)
	if err != nil {
		c.logger.Error("Relayed payment event failed", logging.Fields{
			"event_id":       event.ID,
			"transaction_id": event.TransactionID,
			"error":          err.Error(),
		})
		return false
	}

	c.logger.Info("Relayed payment event reconciled", logging.Fields{
		"event_id":       event.ID,
		"transaction_id": event.TransactionID,
		"outcome":        outcome,
	})
	return true
}
