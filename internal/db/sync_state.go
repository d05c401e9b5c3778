package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/till/internal/models"
)

// GetSyncState returns the singleton sync record with the pending set in
// insertion order.
func (db *DB) GetSyncState() (*models.SyncState, error) {
	var s models.SyncState
	var lastSync sql.NullString
	var online int

	err := db.conn.QueryRow(`SELECT last_sync_at, online_hint FROM sync_state WHERE id = 1`).Scan(&lastSync, &online)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	if lastSync.Valid && lastSync.String != "" {
		if t, err := parseTimestamp(lastSync.String); err == nil {
			s.LastSyncAt = &t
		}
	}
	s.OnlineHint = online != 0

	ids, err := db.PendingTransactionIDs()
	if err != nil {
		return nil, err
	}
	s.PendingTransactionIDs = ids
	return &s, nil
}

// UpdateSyncState overwrites the singleton record. The pending set becomes
// exactly s.PendingTransactionIDs; ids already pending keep their position.
func (db *DB) UpdateSyncState(s *models.SyncState) error {
	return db.withTx(func(tx *sql.Tx) error {
		var lastSync any
		if s.LastSyncAt != nil {
			lastSync = formatTimestamp(*s.LastSyncAt)
		}
		if _, err := tx.Exec(`
			INSERT INTO sync_state (id, last_sync_at, online_hint) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET last_sync_at = excluded.last_sync_at, online_hint = excluded.online_hint
		`, lastSync, boolToInt(s.OnlineHint)); err != nil {
			return fmt.Errorf("write sync state: %w", err)
		}

		keep := make(map[string]bool, len(s.PendingTransactionIDs))
		for _, id := range s.PendingTransactionIDs {
			keep[id] = true
		}
		current, err := pendingIDs(tx)
		if err != nil {
			return err
		}
		for _, id := range current {
			if !keep[id] {
				if _, err := tx.Exec(`DELETE FROM pending_transactions WHERE transaction_id = ?`, id); err != nil {
					return err
				}
			}
		}
		for _, id := range s.PendingTransactionIDs {
			if err := addPending(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetLastSyncAt stamps the last successful sync time
func (db *DB) SetLastSyncAt(t time.Time) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET last_sync_at = ? WHERE id = 1`, formatTimestamp(t))
		return err
	})
}

// SetOnlineHint records the most recently observed connectivity state
func (db *DB) SetOnlineHint(online bool) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET online_hint = ? WHERE id = 1`, boolToInt(online))
		return err
	})
}

// AddPendingTransaction adds id to the pending set. Adding an id that is
// already pending keeps its original position.
func (db *DB) AddPendingTransaction(id string) error {
	return db.withWriteLock(func() error {
		return addPending(db.conn, id)
	})
}

// RemovePendingTransaction drops id from the pending set along with any
// delivery failure recorded for it.
func (db *DB) RemovePendingTransaction(id string) error {
	return db.MarkDelivered(id, nil)
}

// MarkDelivered removes id from the pending set, clears its failure record
// and, when at is non-nil, stamps the last sync time, all in one transaction.
func (db *DB) MarkDelivered(id string, at *time.Time) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM pending_transactions WHERE transaction_id = ?`, id); err != nil {
			return fmt.Errorf("remove pending %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM delivery_failures WHERE transaction_id = ?`, id); err != nil {
			return fmt.Errorf("clear failure %s: %w", id, err)
		}
		if at != nil {
			if _, err := tx.Exec(`UPDATE sync_state SET last_sync_at = ? WHERE id = 1`, formatTimestamp(*at)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingTransactionIDs returns the pending set in insertion order
func (db *DB) PendingTransactionIDs() ([]string, error) {
	return pendingIDs(db.conn)
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func pendingIDs(q querier) ([]string, error) {
	rows, err := q.Query(`SELECT transaction_id FROM pending_transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsPending reports whether id is in the pending set
func (db *DB) IsPending(id string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM pending_transactions WHERE transaction_id = ?`, id).Scan(&n)
	return n > 0, err
}

// CountPending returns the size of the pending set
func (db *DB) CountPending() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM pending_transactions`).Scan(&n)
	return n, err
}

// RecordDeliveryFailure stores the outcome of the latest failed delivery pass for a transaction
func (db *DB) RecordDeliveryFailure(f *models.DeliveryFailure) error {
	updated := f.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO delivery_failures (transaction_id, attempts, kind, last_error, exhausted, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(transaction_id) DO UPDATE SET
				attempts = excluded.attempts,
				kind = excluded.kind,
				last_error = excluded.last_error,
				exhausted = excluded.exhausted,
				updated_at = excluded.updated_at
		`, f.TransactionID, f.Attempts, string(f.Kind), f.LastError, boolToInt(f.Exhausted), formatTimestamp(updated))
		if err != nil {
			return fmt.Errorf("record delivery failure %s: %w", f.TransactionID, err)
		}
		return nil
	})
}

// GetDeliveryFailure returns the failure record for id, or ErrNotFound
func (db *DB) GetDeliveryFailure(id string) (*models.DeliveryFailure, error) {
	var f models.DeliveryFailure
	var kind, updated string
	var exhausted int
	err := db.conn.QueryRow(`
		SELECT transaction_id, attempts, kind, last_error, exhausted, updated_at
		FROM delivery_failures WHERE transaction_id = ?
	`, id).Scan(&f.TransactionID, &f.Attempts, &kind, &f.LastError, &exhausted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delivery failure %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	f.Kind = models.FailureKind(kind)
	f.Exhausted = exhausted != 0
	if t, err := parseTimestamp(updated); err == nil {
		f.UpdatedAt = t
	}
	return &f, nil
}

// ClearDeliveryFailure removes the failure record for id
func (db *DB) ClearDeliveryFailure(id string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM delivery_failures WHERE transaction_id = ?`, id)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
