package db

import (
	"database/sql"
	"fmt"
	"time"
)

// maxSyncHistoryRows bounds the sync_history table
const maxSyncHistoryRows = 1000

// SyncHistoryEntry is one delivery or catalog refresh outcome.
type SyncHistoryEntry struct {
	ID         int64
	Direction  string // "push" or "pull"
	EntityType string // "transactions" or "products"
	EntityID   string
	Outcome    string // "ok", "failed", "exhausted", "skipped"
	Detail     string
	Timestamp  time.Time
}

// RecordSyncHistory appends entries and prunes the table to its bound
func (db *DB) RecordSyncHistory(entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.withTx(func(tx *sql.Tx) error {
		if err := recordSyncHistoryTx(tx, entries); err != nil {
			return err
		}
		return pruneSyncHistory(tx, maxSyncHistoryRows)
	})
}

func recordSyncHistoryTx(tx *sql.Tx, entries []SyncHistoryEntry) error {
	stmt, err := tx.Prepare(`
		INSERT INTO sync_history (direction, entity_type, entity_id, outcome, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(e.Direction, e.EntityType, e.EntityID, e.Outcome, e.Detail, formatTimestamp(ts)); err != nil {
			return fmt.Errorf("record sync history: %w", err)
		}
	}
	return nil
}

// GetSyncHistoryTail returns the last limit entries, oldest first.
func (db *DB) GetSyncHistoryTail(limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, direction, entity_type, entity_id, outcome, detail, timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Direction, &e.EntityType, &e.EntityID, &e.Outcome, &e.Detail, &ts); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func pruneSyncHistory(tx *sql.Tx, maxRows int) error {
	_, err := tx.Exec(`
		DELETE FROM sync_history WHERE id NOT IN (
			SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
		)
	`, maxRows)
	return err
}
