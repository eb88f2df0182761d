package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const orderColumns = `id, user_id, status, total_amount, currency, payment_intent_id, created_at, updated_at`

// PostgresOrderStore implements OrderStore using PostgreSQL.
type PostgresOrderStore struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

// NewPostgresOrderStore creates a new PostgreSQL order store.
func NewPostgresOrderStore(db *sql.DB, logger *logging.LoggerV2) *PostgresOrderStore {
	return &PostgresOrderStore{
		db:     db,
		logger: logger,
	}
}

// Create inserts the order row and its items in a single transaction.
func (r *PostgresOrderStore) Create(ctx context.Context, order *models.Order) error {
	r.logger.Debug("Creating order", logging.Fields{"order_id": order.ID, "user_id": order.UserID})

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total_amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.UserID, order.Status, order.TotalAmount, order.Currency, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert order", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return err
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, item_ref, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, i, item.ItemRef, item.Quantity, item.UnitPrice)
		if err != nil {
			r.logger.Error("Failed to insert order item", logging.Fields{
				"order_id": order.ID,
				"position": i,
				"error":    err.Error(),
			})
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Info("Order created", logging.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.TotalAmount,
	})
	return nil
}

// GetByID retrieves an order and its items.
func (r *PostgresOrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return r.load(ctx, row)
}

// GetByPaymentIntent retrieves the order carrying the gateway intent ref.
func (r *PostgresOrderStore) GetByPaymentIntent(ctx context.Context, ref string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, ref)
	return r.load(ctx, row)
}

func (r *PostgresOrderStore) load(ctx context.Context, row *sql.Row) (*models.Order, error) {
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to fetch order", logging.Fields{"error": err.Error()})
		return nil, err
	}

	items, err := r.items(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (r *PostgresOrderStore) items(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_ref, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.OrderLineItem, 0)
	for rows.Next() {
		var item models.OrderLineItem
		if err := rows.Scan(&item.ItemRef, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetPaymentIntent records the gateway ref. A ref already set is left alone,
// and the status column is never touched here so a webhook that won the race
// keeps its transition.
func (r *PostgresOrderStore) SetPaymentIntent(ctx context.Context, orderID, ref string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_intent_id = $2, updated_at = $3
		WHERE id = $1 AND payment_intent_id IS NULL
	`, orderID, ref, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to set payment intent", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		if err := r.exists(ctx, orderID); err != nil {
			return err
		}
		r.logger.Warn("Payment intent already set", logging.Fields{"order_id": orderID})
		return nil
	}

	r.logger.Info("Payment intent set", logging.Fields{
		"order_id":          orderID,
		"payment_intent_id": ref,
	})
	return nil
}

// Transition applies created -> to with a conditional update so concurrent
// callers cannot both win.
func (r *PostgresOrderStore) Transition(ctx context.Context, id string, to models.OrderStatus) (bool, error) {
	if !models.CanTransition(models.OrderStatusCreated, to) {
		return false, fmt.Errorf("transition to %q not allowed", to)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, to, time.Now().UTC(), models.OrderStatusCreated)
	if err != nil {
		r.logger.Error("Failed to transition order", logging.Fields{
			"order_id": id,
			"to":       to,
			"error":    err.Error(),
		})
		return false, err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return false, r.exists(ctx, id)
	}

	r.logger.Info("Order status updated", logging.Fields{
		"order_id":   id,
		"new_status": to,
	})
	return true, nil
}

func (r *PostgresOrderStore) exists(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return apperrors.ErrNotFound
	}
	return err
}

// ListByUser returns the user's orders, newest first, without items.
func (r *PostgresOrderStore) ListByUser(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error) {
	r.logger.Debug("Listing orders", logging.Fields{
		"user_id": filter.UserID,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, filter.UserID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*models.Order, error) {
	var order models.Order
	var intentID sql.NullString

	err := s.Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.Currency,
		&intentID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if intentID.Valid {
		order.PaymentIntentID = intentID.String
	}
	return &order, nil
}
