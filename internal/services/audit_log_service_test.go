package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestAuditLogService(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditLogService(db)
	snapshot := []byte(`{"transaction":{"id":"` + testTransactionID + `","total":45000}}`)

	t.Run("lists entries newest-first", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, occurred_at, actor, reason, original_ref, snapshot FROM audit_log ORDER BY occurred_at DESC LIMIT \\$1").
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "actor", "reason", "original_ref", "snapshot"}).
				AddRow(1, time.Now(), "kasir@sekolah.id", "Wrong student charged", testTransactionID, snapshot))

		entries, err := service.List(0)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, testTransactionID, entries[0].OriginalRef)
		assert.JSONEq(t, string(snapshot), string(entries[0].Snapshot))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fetches one entry by original reference", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, occurred_at, actor, reason, original_ref, snapshot FROM audit_log WHERE original_ref = \\$1 ORDER BY occurred_at DESC LIMIT 1").
			WithArgs(testTransactionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "actor", "reason", "original_ref", "snapshot"}).
				AddRow(1, time.Now(), "kasir@sekolah.id", "Wrong student charged", testTransactionID, snapshot))

		entry, err := service.Get(testTransactionID)
		assert.NoError(t, err)
		assert.Equal(t, "kasir@sekolah.id", entry.Actor)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown reference", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, occurred_at, actor, reason, original_ref, snapshot FROM audit_log WHERE original_ref = \\$1 ORDER BY occurred_at DESC LIMIT 1").
			WithArgs(testEntryID).
			WillReturnError(sql.ErrNoRows)

		_, err := service.Get(testEntryID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
