package repository

import (
	"context"
	"database/sql"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// PostgresCartReader reads the cart from the shared database. Unit prices
// come from the catalog, never from the cart row.
type PostgresCartReader struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

func NewPostgresCartReader(db *sql.DB, logger *logging.LoggerV2) *PostgresCartReader {
	return &PostgresCartReader{db: db, logger: logger}
}

func (r *PostgresCartReader) GetCartLines(ctx context.Context, userID string) ([]models.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, ci.quantity, p.price_cents
		FROM cart_items ci
		JOIN pizzas p ON p.id = ci.pizza_id
		WHERE ci.user_id = $1
		ORDER BY ci.id
	`, userID)
	if err != nil {
		r.logger.Error("Failed to read cart", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}
	defer rows.Close()

	lines := make([]models.CartLine, 0)
	for rows.Next() {
		var line models.CartLine
		if err := rows.Scan(&line.ItemRef, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug("Cart read", logging.Fields{"user_id": userID, "lines": len(lines)})
	return lines, nil
}
