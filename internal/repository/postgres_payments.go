package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// PostgresPaymentStore implements PaymentStore using PostgreSQL. The unique
// index on payments.transaction_id is the deduplication guard.
type PostgresPaymentStore struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

func NewPostgresPaymentStore(db *sql.DB, logger *logging.LoggerV2) *PostgresPaymentStore {
	return &PostgresPaymentStore{
		db:     db,
		logger: logger,
	}
}

func (r *PostgresPaymentStore) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, transaction_id, amount, currency, status, created_at
		FROM payments
		WHERE transaction_id = $1
	`, transactionID).Scan(
		&rec.ID,
		&rec.OrderID,
		&rec.TransactionID,
		&rec.Amount,
		&rec.Currency,
		&rec.Status,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordSuccess inserts the payment and moves the order created -> paid in
// one transaction. A duplicate transaction id rolls back and changes nothing.
func (r *PostgresPaymentStore) RecordSuccess(ctx context.Context, rec *models.PaymentRecord) (RecordResult, error) {
	var res RecordResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback() //nolint:errcheck

	inserted, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, transaction_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`, rec.ID, rec.OrderID, rec.TransactionID, rec.Amount, rec.Currency, rec.Status, rec.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert payment", logging.Fields{
			"order_id":       rec.OrderID,
			"transaction_id": rec.TransactionID,
			"error":          err.Error(),
		})
		return res, err
	}
	if n, _ := inserted.RowsAffected(); n == 0 {
		r.logger.Info("Duplicate payment ignored", logging.Fields{
			"transaction_id": rec.TransactionID,
		})
		return res, nil
	}
	res.Recorded = true

	updated, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, rec.OrderID, models.OrderStatusPaid, time.Now().UTC(), models.OrderStatusCreated)
	if err != nil {
		return RecordResult{}, err
	}
	if n, _ := updated.RowsAffected(); n > 0 {
		res.OrderPaid = true
	}

	if err := tx.Commit(); err != nil {
		return RecordResult{}, err
	}

	r.logger.Info("Payment recorded", logging.Fields{
		"order_id":       rec.OrderID,
		"transaction_id": rec.TransactionID,
		"order_paid":     res.OrderPaid,
	})
	return res, nil
}

func (r *PostgresPaymentStore) ListByOrder(ctx context.Context, orderID string) ([]*models.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, transaction_id, amount, currency, status, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.PaymentRecord, 0)
	for rows.Next() {
		var rec models.PaymentRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.TransactionID,
			&rec.Amount,
			&rec.Currency,
			&rec.Status,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
