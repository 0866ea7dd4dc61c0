package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salesync/internal/models"
)

// Enqueue durably stores a new sale. It must succeed before the sale is
// reported as confirmed. A second enqueue with the same id_global returns
// ErrDuplicateKey and leaves the stored record untouched.
func (db *DB) Enqueue(ctx context.Context, rec *models.PendingSaleRecord) error {
	if rec == nil || rec.IDGlobal == "" {
		return errors.New("sale record without id_global")
	}

	rec.Sync = false
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode sale %s: %w", rec.IDGlobal, err)
	}

	query := `INSERT INTO sales (id_global, tenant_id, payload, status, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query, rec.IDGlobal, rec.TenantID, string(payload), models.SaleStatusPending, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, rec.IDGlobal)
		}
		return fmt.Errorf("%w: enqueue %s: %w", ErrStoreUnavailable, rec.IDGlobal, err)
	}

	db.logger.Debug().Str("id_global", rec.IDGlobal).Msg("sale enqueued")
	return nil
}

// ListPending returns every record not yet synced, oldest first.
func (db *DB) ListPending(ctx context.Context) ([]models.PendingSaleRecord, error) {
	query := `SELECT payload FROM sales WHERE status = ? ORDER BY seq ASC`
	rows, err := db.QueryContext(ctx, query, models.SaleStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sales: %w", err)
	}
	defer rows.Close()

	var records []models.PendingSaleRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending sale: %w", err)
		}
		var rec models.PendingSaleRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode pending sale: %w", err)
		}
		rec.Sync = false
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending sales: %w", err)
	}
	return records, nil
}

// CountPending returns the number of records waiting for delivery.
func (db *DB) CountPending(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE status = ?`, models.SaleStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending sales: %w", err)
	}
	return count, nil
}

// MarkSynced flips a record to synced and copies it into sales_history.
// Calling it for an unknown or already synced id is a no-op.
func (db *DB) MarkSynced(ctx context.Context, idGlobal string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mark synced: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE sales SET status = ?, synced_at = ? WHERE id_global = ? AND status = ?`,
		models.SaleStatusSynced, now, idGlobal, models.SaleStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark sale %s synced: %w", idGlobal, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark sale %s synced: %w", idGlobal, err)
	}
	if affected == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sales_history (id_global, tenant_id, payload, synced_at)
         SELECT id_global, tenant_id, payload, synced_at FROM sales WHERE id_global = ?`,
		idGlobal,
	)
	if err != nil {
		return fmt.Errorf("failed to copy sale %s to history: %w", idGlobal, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark synced: %w", err)
	}

	db.logger.Debug().Str("id_global", idGlobal).Msg("sale marked synced")
	return nil
}

// RecordAttempt stores the per-channel outcome of one delivery attempt.
// Acknowledgement flags only ever go from 0 to 1.
func (db *DB) RecordAttempt(ctx context.Context, idGlobal string, authoritativeOK, mirrorOK bool, errMsg string) error {
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}
	query := `UPDATE sales
              SET authoritative_acked = MAX(authoritative_acked, ?),
                  mirror_acked = MAX(mirror_acked, ?),
                  attempts = attempts + 1,
                  last_error = ?
              WHERE id_global = ?`
	_, err := db.ExecContext(ctx, query, boolToInt(authoritativeOK), boolToInt(mirrorOK), lastErr, idGlobal)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", idGlobal, err)
	}
	return nil
}

// GetSale returns a record with its bookkeeping columns.
func (db *DB) GetSale(ctx context.Context, idGlobal string) (*models.StoredSale, error) {
	row := db.QueryRowContext(ctx, selectStored+` WHERE id_global = ?`, idGlobal)
	sale, err := scanStored(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale %s: %w", idGlobal, err)
	}
	return sale, nil
}

// ListUnreconciled returns synced records the authoritative channel never
// acknowledged; they reached the mirror only.
func (db *DB) ListUnreconciled(ctx context.Context) ([]models.StoredSale, error) {
	rows, err := db.QueryContext(ctx,
		selectStored+` WHERE status = ? AND authoritative_acked = 0 ORDER BY seq ASC`,
		models.SaleStatusSynced,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled sales: %w", err)
	}
	defer rows.Close()

	var sales []models.StoredSale
	for rows.Next() {
		sale, err := scanStored(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unreconciled sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

// ListHistory returns the most recently synced records from sales_history.
func (db *DB) ListHistory(ctx context.Context, limit int) ([]models.PendingSaleRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT payload FROM sales_history ORDER BY synced_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales history: %w", err)
	}
	defer rows.Close()

	var records []models.PendingSaleRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var rec models.PendingSaleRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode history row: %w", err)
		}
		rec.Sync = true
		records = append(records, rec)
	}
	return records, rows.Err()
}

const selectStored = `SELECT seq, payload, status, authoritative_acked, mirror_acked, attempts, last_error, synced_at FROM sales`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStored(s scanner) (*models.StoredSale, error) {
	var (
		sale     models.StoredSale
		payload  string
		auth     int
		mirror   int
		syncedAt sql.NullTime
	)
	if err := s.Scan(&sale.Seq, &payload, &sale.Status, &auth, &mirror, &sale.Attempts, &sale.LastError, &syncedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &sale.Record); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	sale.AuthoritativeAcked = auth == 1
	sale.MirrorAcked = mirror == 1
	sale.Record.Sync = sale.Status == models.SaleStatusSynced
	if syncedAt.Valid {
		t := syncedAt.Time
		sale.SyncedAt = &t
	}
	return &sale, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
