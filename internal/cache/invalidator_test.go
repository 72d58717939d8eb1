package cache

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestInvalidator_Invalidate(t *testing.T) {
	t.Run("publishes one event per key", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		invalidator := NewInvalidator(rdb)

		mock.ExpectPublish(InvalidationChannel, "accounts:abc").SetVal(1)
		mock.ExpectPublish(InvalidationChannel, "ledger").SetVal(1)

		invalidator.Invalidate(context.Background(), AccountKey("abc"), LedgerKey())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a failed publish is swallowed", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		invalidator := NewInvalidator(rdb)

		mock.ExpectPublish(InvalidationChannel, "items:x").SetErr(assert.AnError)
		mock.ExpectPublish(InvalidationChannel, "ledger").SetVal(1)

		invalidator.Invalidate(context.Background(), ItemKey("x"), LedgerKey())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil client is a no-op", func(t *testing.T) {
		invalidator := NewInvalidator(nil)
		invalidator.Invalidate(context.Background(), LedgerKey())
	})
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "accounts:abc", AccountKey("abc"))
	assert.Equal(t, "items:xyz", ItemKey("xyz"))
	assert.Equal(t, "ledger", LedgerKey())
	assert.Equal(t, "audit_log", AuditLogKey())
}
