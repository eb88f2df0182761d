package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testOrder() *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		ID:     "ord-1",
		UserID: "user-1",
		Items: []models.OrderLineItem{
			{ItemRef: "margherita", Quantity: 2, UnitPrice: 1200},
			{ItemRef: "pepperoni", Quantity: 1, UnitPrice: 1500},
		},
		TotalAmount: 3900,
		Currency:    "usd",
		Status:      models.OrderStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPostgresOrderStore_Create(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))
	order := testOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(order.ID, order.UserID, models.OrderStatusCreated, int64(3900), "usd", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(order.ID, 0, "margherita", int64(2), int64(1200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(order.ID, 1, "pepperoni", int64(1), int64(1500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), order))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_Create_RollsBackOnItemFailure(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))
	order := testOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := store.Create(context.Background(), order)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_GetByID(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, user_id, status").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total_amount", "currency", "payment_intent_id", "created_at", "updated_at"}).
			AddRow("ord-1", "user-1", "created", int64(2400), "usd", nil, now, now))
	mock.ExpectQuery("SELECT item_ref, quantity, unit_price").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"item_ref", "quantity", "unit_price"}).
			AddRow("margherita", int64(2), int64(1200)))

	order, err := store.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, int64(2400), order.TotalAmount)
	assert.Empty(t, order.PaymentIntentID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "margherita", order.Items[0].ItemRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))

	mock.ExpectQuery("SELECT id, user_id, status").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresOrderStore_GetByPaymentIntent(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE payment_intent_id = ").
		WithArgs("pi_abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total_amount", "currency", "payment_intent_id", "created_at", "updated_at"}).
			AddRow("ord-1", "user-1", "created", int64(2400), "usd", "pi_abc", now, now))
	mock.ExpectQuery("SELECT item_ref").
		WillReturnRows(sqlmock.NewRows([]string{"item_ref", "quantity", "unit_price"}))

	order, err := store.GetByPaymentIntent(context.Background(), "pi_abc")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, "pi_abc", order.PaymentIntentID)
}

func TestPostgresOrderStore_SetPaymentIntent(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   bool
		wantErr  error
	}{
		{"first write", 1, true, nil},
		{"already set", 0, true, nil},
		{"missing order", 0, false, apperrors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))

			mock.ExpectExec("UPDATE orders\\s+SET payment_intent_id").
				WithArgs("ord-1", "pi_abc", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				rows := sqlmock.NewRows([]string{"one"})
				if tt.exists {
					rows.AddRow(1)
				}
				mock.ExpectQuery("SELECT 1 FROM orders").WithArgs("ord-1").WillReturnRows(rows)
			}

			err := store.SetPaymentIntent(context.Background(), "ord-1", "pi_abc")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresOrderStore_Transition(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		exists      bool
		wantApplied bool
		wantErr     error
	}{
		{"created to paid", 1, true, true, nil},
		{"already terminal", 0, true, false, nil},
		{"missing order", 0, false, false, apperrors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))

			mock.ExpectExec("UPDATE orders\\s+SET status").
				WithArgs("ord-1", models.OrderStatusPaid, sqlmock.AnyArg(), models.OrderStatusCreated).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				rows := sqlmock.NewRows([]string{"one"})
				if tt.exists {
					rows.AddRow(1)
				}
				mock.ExpectQuery("SELECT 1 FROM orders").WithArgs("ord-1").WillReturnRows(rows)
			}

			applied, err := store.Transition(context.Background(), "ord-1", models.OrderStatusPaid)
			assert.Equal(t, tt.wantApplied, applied)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresOrderStore_Transition_RejectsBackwardEdge(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))

	applied, err := store.Transition(context.Background(), "ord-1", models.OrderStatusCreated)
	assert.False(t, applied)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_ListByUser(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresOrderStore(db, logging.NewLoggerV2("test"))
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE user_id = \\$1").
		WithArgs("user-1", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total_amount", "currency", "payment_intent_id", "created_at", "updated_at"}).
			AddRow("ord-2", "user-1", "paid", int64(1500), "usd", "pi_2", now, now).
			AddRow("ord-1", "user-1", "failed", int64(2400), "usd", nil, now.Add(-time.Hour), now))

	orders, err := store.ListByUser(context.Background(), models.OrderListFilter{UserID: "user-1", Limit: 20})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, models.OrderStatusPaid, orders[0].Status)
	assert.Equal(t, models.OrderStatusFailed, orders[1].Status)
}

func TestPostgresPaymentStore_RecordSuccess(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresPaymentStore(db, logging.NewLoggerV2("test"))
	rec := &models.PaymentRecord{
		ID:            "pay-1",
		OrderID:       "ord-1",
		TransactionID: "pi_abc",
		Amount:        2400,
		Currency:      "usd",
		Status:        models.PaymentStatusSucceeded,
		CreatedAt:     time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments .* ON CONFLICT \\(transaction_id\\) DO NOTHING").
		WithArgs("pay-1", "ord-1", "pi_abc", int64(2400), "usd", models.PaymentStatusSucceeded, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-1", models.OrderStatusPaid, sqlmock.AnyArg(), models.OrderStatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.RecordSuccess(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.True(t, res.OrderPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPaymentStore_RecordSuccess_Duplicate(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresPaymentStore(db, logging.NewLoggerV2("test"))
	rec := &models.PaymentRecord{ID: "pay-2", OrderID: "ord-1", TransactionID: "pi_abc", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	res, err := store.RecordSuccess(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.False(t, res.OrderPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPaymentStore_RecordSuccess_OrderAlreadyTerminal(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresPaymentStore(db, logging.NewLoggerV2("test"))
	rec := &models.PaymentRecord{ID: "pay-3", OrderID: "ord-1", TransactionID: "pi_late", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := store.RecordSuccess(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.False(t, res.OrderPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPaymentStore_GetByTransactionID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresPaymentStore(db, logging.NewLoggerV2("test"))

	mock.ExpectQuery("FROM payments").WithArgs("pi_none").WillReturnError(sql.ErrNoRows)

	_, err := store.GetByTransactionID(context.Background(), "pi_none")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresCartReader_GetCartLines(t *testing.T) {
	db, mock := newMock(t)
	reader := NewPostgresCartReader(db, logging.NewLoggerV2("test"))

	mock.ExpectQuery("FROM cart_items ci\\s+JOIN pizzas p").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "price_cents"}).
			AddRow("margherita", int64(2), int64(1200)).
			AddRow("pepperoni", int64(1), int64(1500)))

	lines, err := reader.GetCartLines(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{
		{ItemRef: "margherita", Quantity: 2, UnitPrice: 1200},
		{ItemRef: "pepperoni", Quantity: 1, UnitPrice: 1500},
	}, lines)
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
