package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"salesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "sales.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord(id string) *models.PendingSaleRecord {
	return &models.PendingSaleRecord{
		IDGlobal: id,
		TenantID: "shop-1",
		Items: []models.SaleItem{
			{ProductCode: "A", Quantity: 2, UnitPriceUSD: 5},
			{ProductCode: "B", Quantity: 1, UnitPriceUSD: 10},
		},
		ExchangeRate:  40,
		PaymentMethod: "cash",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger, WithBusyTimeout(1000))
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestDB_HealthCheck(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestEnqueue_ListPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ids := []string{"V-20260301-aaaaaaaaaaaa", "V-20260301-bbbbbbbbbbbb", "V-20260301-cccccccccccc"}
	for _, id := range ids {
		require.NoError(t, db.Enqueue(ctx, sampleRecord(id)))
	}

	pending, err := db.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, rec := range pending {
		assert.Equal(t, ids[i], rec.IDGlobal, "insertion order")
		assert.False(t, rec.Sync)
		assert.Len(t, rec.Items, 2)
	}

	count, err := db.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestEnqueue_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := sampleRecord("V-20260301-dddddddddddd")
	require.NoError(t, db.Enqueue(ctx, first))

	second := sampleRecord("V-20260301-dddddddddddd")
	second.PaymentMethod = "card"
	err := db.Enqueue(ctx, second)
	require.ErrorIs(t, err, ErrDuplicateKey)

	pending, err := db.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "cash", pending[0].PaymentMethod, "original record must not be overwritten")
}

func TestEnqueue_MissingID(t *testing.T) {
	db := newTestDB(t)
	err := db.Enqueue(context.Background(), &models.PendingSaleRecord{})
	assert.Error(t, err)
}

func TestMarkSynced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := "V-20260301-eeeeeeeeeeee"
	require.NoError(t, db.Enqueue(ctx, sampleRecord(id)))

	require.NoError(t, db.MarkSynced(ctx, id))
	// idempotent
	require.NoError(t, db.MarkSynced(ctx, id))
	// absent id is a no-op
	require.NoError(t, db.MarkSynced(ctx, "V-missing"))

	pending, err := db.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	sale, err := db.GetSale(ctx, id)
	require.NoError(t, err)
	assert.True(t, sale.Record.Sync)
	assert.Equal(t, models.SaleStatusSynced, sale.Status)
	require.NotNil(t, sale.SyncedAt)

	history, err := db.ListHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].IDGlobal)
	assert.True(t, history[0].Sync)
}

func TestRecordAttempt_Unreconciled(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mirrorOnly := "V-20260301-111111111111"
	both := "V-20260301-222222222222"
	require.NoError(t, db.Enqueue(ctx, sampleRecord(mirrorOnly)))
	require.NoError(t, db.Enqueue(ctx, sampleRecord(both)))

	require.NoError(t, db.RecordAttempt(ctx, mirrorOnly, false, true, "authoritative: status 500"))
	require.NoError(t, db.MarkSynced(ctx, mirrorOnly))

	require.NoError(t, db.RecordAttempt(ctx, both, false, false, "offline"))
	require.NoError(t, db.RecordAttempt(ctx, both, true, true, ""))
	require.NoError(t, db.MarkSynced(ctx, both))

	sale, err := db.GetSale(ctx, both)
	require.NoError(t, err)
	assert.Equal(t, 2, sale.Attempts)
	assert.True(t, sale.AuthoritativeAcked)
	assert.Nil(t, sale.LastError)

	unreconciled, err := db.ListUnreconciled(ctx)
	require.NoError(t, err)
	require.Len(t, unreconciled, 1)
	assert.Equal(t, mirrorOnly, unreconciled[0].Record.IDGlobal)
	assert.True(t, unreconciled[0].MirrorAcked)
	require.NotNil(t, unreconciled[0].LastError)
	assert.Contains(t, *unreconciled[0].LastError, "500")
}

func TestGetSale_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetSale(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueue_StoreUnavailable(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"), &logger)
	require.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()
	err = db.Enqueue(ctx, sampleRecord("V-20260301-333333333333"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrDuplicateKey)

	_, err = db.ListPending(ctx)
	assert.Error(t, err)
	_, err = db.CountPending(ctx)
	assert.Error(t, err)
	assert.Error(t, db.MarkSynced(ctx, "x"))
	assert.ErrorIs(t, db.HealthCheck(ctx), ErrStoreUnavailable)
}
