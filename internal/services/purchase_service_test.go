package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kantinpay/backend/internal/cache"
	"github.com/stretchr/testify/assert"
)

const (
	testAccountID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	testItemX     = "11e6b1a0-2f3d-4c5b-8a9e-0d1c2b3a4f5e" // sorts before testItemY
	testItemY     = "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d"
)

func newPurchaseService(t *testing.T) (*PurchaseService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	service := NewPurchaseService(ledger, cache.NewInvalidator(nil))
	return service, mock, func() { db.Close() }
}

func expectAccountLock(mock sqlmock.Sqlmock, accountID string, balance int64, version int) {
	mock.ExpectQuery("SELECT id, external_ref, display_name, balance, group_tag, version FROM accounts WHERE id = \\$1 FOR UPDATE").
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_ref", "display_name", "balance", "group_tag", "version"}).
			AddRow(accountID, "1001", "Alice", balance, "3A", version))
}

func expectItemLock(mock sqlmock.Sqlmock, itemID, name string, price int64, stock, version int) {
	mock.ExpectQuery("SELECT id, name, price, stock, version FROM items WHERE id = \\$1 FOR UPDATE").
		WithArgs(itemID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "stock", "version"}).
			AddRow(itemID, name, price, stock, version))
}

func TestPurchaseService_Submit(t *testing.T) {
	service, mock, closeDB := newPurchaseService(t)
	defer closeDB()

	req := &PurchaseRequest{
		AccountID: testAccountID,
		Items: []PurchaseLine{
			{ItemID: testItemX, Quantity: 2},
			{ItemID: testItemY, Quantity: 1},
		},
	}

	t.Run("successful purchase", func(t *testing.T) {
		mock.ExpectBegin()
		expectAccountLock(mock, testAccountID, 50000, 1)
		expectItemLock(mock, testItemX, "Nasi Goreng", 20000, 5, 1)
		expectItemLock(mock, testItemY, "Es Teh", 5000, 3, 1)

		// Stock decrements, one per line
		mock.ExpectExec("UPDATE items SET stock = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(3, sqlmock.AnyArg(), testItemX, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE items SET stock = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(2, sqlmock.AnyArg(), testItemY, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Balance debit: 50000 - (2*20000 + 1*5000)
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(5000), sqlmock.AnyArg(), testAccountID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), testAccountID, int64(45000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_items").
			WithArgs(sqlmock.AnyArg(), testItemX, 2, int64(20000), 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_items").
			WithArgs(sqlmock.AnyArg(), testItemY, 1, int64(5000), 2).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), testAccountID, "PURCHASE", int64(45000), int64(50000), int64(5000), "Purchase", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		transactionID, err := service.Submit(req)
		assert.NoError(t, err)
		assert.NotEmpty(t, transactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero-priced items commit a zero-amount entry", func(t *testing.T) {
		free := &PurchaseRequest{
			AccountID: testAccountID,
			Items:     []PurchaseLine{{ItemID: testItemX, Quantity: 1}},
		}

		mock.ExpectBegin()
		expectAccountLock(mock, testAccountID, 5000, 1)
		expectItemLock(mock, testItemX, "Air Putih", 0, 5, 1)

		mock.ExpectExec("UPDATE items SET stock = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(4, sqlmock.AnyArg(), testItemX, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(5000), sqlmock.AnyArg(), testAccountID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), testAccountID, int64(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_items").
			WithArgs(sqlmock.AnyArg(), testItemX, 1, int64(0), 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), testAccountID, "PURCHASE", int64(0), int64(5000), int64(5000), "Purchase", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		transactionID, err := service.Submit(free)
		assert.NoError(t, err)
		assert.NotEmpty(t, transactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds leaves everything unchanged", func(t *testing.T) {
		mock.ExpectBegin()
		expectAccountLock(mock, testAccountID, 10000, 1)
		expectItemLock(mock, testItemX, "Nasi Goreng", 20000, 5, 1)
		expectItemLock(mock, testItemY, "Es Teh", 5000, 3, 1)
		mock.ExpectRollback()

		_, err := service.Submit(req)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		var fundsErr *InsufficientFundsError
		assert.ErrorAs(t, err, &fundsErr)
		assert.Equal(t, int64(10000), fundsErr.Balance)
		assert.Equal(t, int64(45000), fundsErr.Required)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stock is checked on every line before funds", func(t *testing.T) {
		// Y's stock falls short; the balance would cover the total, and X's
		// stock would cover its line, yet nothing is decremented.
		shortStock := &PurchaseRequest{
			AccountID: testAccountID,
			Items: []PurchaseLine{
				{ItemID: testItemX, Quantity: 2},
				{ItemID: testItemY, Quantity: 2},
			},
		}

		mock.ExpectBegin()
		expectAccountLock(mock, testAccountID, 50000, 1)
		expectItemLock(mock, testItemX, "Nasi Goreng", 20000, 5, 1)
		expectItemLock(mock, testItemY, "Es Teh", 5000, 1, 1)
		mock.ExpectRollback()

		_, err := service.Submit(shortStock)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		var stockErr *InsufficientStockError
		assert.ErrorAs(t, err, &stockErr)
		assert.Equal(t, "Es Teh", stockErr.ItemName)
		assert.Equal(t, 2, stockErr.Requested)
		assert.Equal(t, 1, stockErr.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, external_ref, display_name, balance, group_tag, version FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(testAccountID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.Submit(req)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict is retried then surfaced", func(t *testing.T) {
		single := &PurchaseRequest{
			AccountID: testAccountID,
			Items:     []PurchaseLine{{ItemID: testItemX, Quantity: 1}},
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			mock.ExpectBegin()
			expectAccountLock(mock, testAccountID, 50000, 1)
			expectItemLock(mock, testItemX, "Nasi Goreng", 20000, 5, 1)
			mock.ExpectExec("UPDATE items SET stock = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
				WithArgs(4, sqlmock.AnyArg(), testItemX, 1).
				WillReturnResult(sqlmock.NewResult(0, 0)) // stale version
			mock.ExpectRollback()
		}

		_, err := service.Submit(single)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate item in request is rejected", func(t *testing.T) {
		dup := &PurchaseRequest{
			AccountID: testAccountID,
			Items: []PurchaseLine{
				{ItemID: testItemX, Quantity: 1},
				{ItemID: testItemX, Quantity: 2},
			},
		}

		_, err := service.Submit(dup)

		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty item list is rejected", func(t *testing.T) {
		_, err := service.Submit(&PurchaseRequest{AccountID: testAccountID})

		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
