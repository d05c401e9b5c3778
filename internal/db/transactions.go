package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, date, subtotal, tax, total, status, items`

func scanTransaction(s rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var date, subtotal, tax, total, status, items string
	if err := s.Scan(&tx.ID, &date, &subtotal, &tax, &total, &status, &items); err != nil {
		return nil, err
	}

	var err error
	if tx.Date, err = parseTimestamp(date); err != nil {
		return nil, fmt.Errorf("transaction %s: bad date: %w", tx.ID, err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&tx.Subtotal, subtotal}, {&tx.Tax, tax}, {&tx.Total, total}} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, f.raw, err)
		}
	}
	tx.Status = models.TxStatus(status)
	if err := json.Unmarshal([]byte(items), &tx.Items); err != nil {
		return nil, fmt.Errorf("transaction %s: decode items: %w", tx.ID, err)
	}
	return &tx, nil
}

func upsertTransaction(e execer, tx *models.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	items := tx.Items
	if items == nil {
		items = []models.TransactionItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	status := tx.Status
	if status == "" {
		status = models.TxCompleted
	}
	_, err = e.Exec(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			subtotal = excluded.subtotal,
			tax = excluded.tax,
			total = excluded.total,
			status = excluded.status,
			items = excluded.items
	`, tx.ID, formatTimestamp(tx.Date), tx.Subtotal.String(), tx.Tax.String(), tx.Total.String(),
		string(status), string(itemsJSON))
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func addPending(e execer, id string) error {
	if _, err := e.Exec(`INSERT OR IGNORE INTO pending_transactions (transaction_id, added_at) VALUES (?, CURRENT_TIMESTAMP)`, id); err != nil {
		return fmt.Errorf("mark %s pending: %w", id, err)
	}
	return nil
}

// SaveTransaction writes the transaction record
func (db *DB) SaveTransaction(tx *models.Transaction) error {
	return db.withWriteLock(func() error {
		return upsertTransaction(db.conn, tx)
	})
}

// SaveTransactionPending writes the transaction and adds it to the pending
// set in one SQL transaction, so a stored sale is never outside the queue
// before it has been confirmed remotely.
func (db *DB) SaveTransactionPending(tx *models.Transaction) error {
	return db.withTx(func(sqlTx *sql.Tx) error {
		if err := upsertTransaction(sqlTx, tx); err != nil {
			return err
		}
		return addPending(sqlTx, tx.ID)
	})
}

// GetTransaction returns the stored transaction with the given id
func (db *DB) GetTransaction(id string) (*models.Transaction, error) {
	row := db.conn.QueryRow(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// GetAllTransactions returns every stored transaction, oldest first
func (db *DB) GetAllTransactions() ([]models.Transaction, error) {
	return db.ListTransactions(0)
}

// ListTransactions returns up to limit transactions, oldest first.
// A limit of zero returns all of them.
func (db *DB) ListTransactions(limit int) ([]models.Transaction, error) {
	return db.listTransactions(`date, created_at, id`, limit)
}

// RecentTransactions returns up to limit transactions, newest first.
func (db *DB) RecentTransactions(limit int) ([]models.Transaction, error) {
	return db.listTransactions(`date DESC, created_at DESC, id DESC`, limit)
}

func (db *DB) listTransactions(order string, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY ` + order
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}
