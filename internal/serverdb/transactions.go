package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Transaction is a delivered sale.
type Transaction struct {
	ID        string          `db:"id"`
	UserID    string          `db:"user_id"`
	Date      time.Time       `db:"date"`
	Subtotal  decimal.Decimal `db:"subtotal"`
	Tax       decimal.Decimal `db:"tax"`
	Total     decimal.Decimal `db:"total"`
	Status    string          `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// TransactionItem is one line of a delivered sale, keyed by
// (transaction_id, line_no).
type TransactionItem struct {
	TransactionID string          `db:"transaction_id"`
	LineNo        int             `db:"line_no"`
	ProductID     string          `db:"product_id"`
	Name          string          `db:"name"`
	UnitPrice     decimal.Decimal `db:"unit_price"`
	Quantity      int             `db:"quantity"`
}

const transactionColumns = `id, user_id, date, subtotal, tax, total, status, created_at, updated_at`

// UpsertTransaction writes the transaction row keyed by id. A row already
// owned by another user is not touched and ErrForbidden is returned.
func (db *ServerDB) UpsertTransaction(t *Transaction) error {
	if t.ID == "" || t.UserID == "" {
		return fmt.Errorf("transaction id and user id are required")
	}

	return db.withTx(func(tx *sqlx.Tx) error {
		var owner string
		err := tx.Get(&owner, `SELECT user_id FROM transactions WHERE id = ?`, t.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("check owner: %w", err)
		case owner != t.UserID:
			return fmt.Errorf("transaction %s belongs to another user: %w", t.ID, ErrForbidden)
		}

		now := time.Now().UTC()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		_, err = tx.NamedExec(`INSERT INTO transactions (`+transactionColumns+`)
			VALUES (:id, :user_id, :date, :subtotal, :tax, :total, :status, :created_at, :updated_at)
			ON CONFLICT(id) DO UPDATE SET
				date = excluded.date,
				subtotal = excluded.subtotal,
				tax = excluded.tax,
				total = excluded.total,
				status = excluded.status,
				updated_at = excluded.updated_at`, t)
		if err != nil {
			return fmt.Errorf("upsert transaction: %w", err)
		}
		return nil
	})
}

// UpsertTransactionItems writes the lines of an existing transaction owned
// by userID. Lines not in the submitted set are removed so that
// resubmitting the same items leaves the same rows.
func (db *ServerDB) UpsertTransactionItems(userID, txID string, items []TransactionItem) error {
	return db.withTx(func(tx *sqlx.Tx) error {
		var owner string
		err := tx.Get(&owner, `SELECT user_id FROM transactions WHERE id = ?`, txID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check transaction: %w", err)
		}
		if owner != userID {
			return fmt.Errorf("transaction %s belongs to another user: %w", txID, ErrForbidden)
		}

		lines := make([]int, 0, len(items))
		for i := range items {
			items[i].TransactionID = txID
			if items[i].LineNo <= 0 {
				return fmt.Errorf("item %d: line_no must be positive", i)
			}
			lines = append(lines, items[i].LineNo)
			_, err := tx.NamedExec(`INSERT INTO transaction_items
				(transaction_id, line_no, product_id, name, unit_price, quantity)
				VALUES (:transaction_id, :line_no, :product_id, :name, :unit_price, :quantity)
				ON CONFLICT(transaction_id, line_no) DO UPDATE SET
					product_id = excluded.product_id,
					name = excluded.name,
					unit_price = excluded.unit_price,
					quantity = excluded.quantity`, &items[i])
			if err != nil {
				return fmt.Errorf("upsert item %d: %w", items[i].LineNo, err)
			}
		}

		trim, args := `DELETE FROM transaction_items WHERE transaction_id = ?`, []any{txID}
		if len(lines) > 0 {
			trim, args, err = sqlx.In(trim+` AND line_no NOT IN (?)`, txID, lines)
			if err != nil {
				return fmt.Errorf("build trim: %w", err)
			}
		}
		if _, err := tx.Exec(tx.Rebind(trim), args...); err != nil {
			return fmt.Errorf("trim items: %w", err)
		}
		return nil
	})
}

// GetTransaction returns a transaction and its items ordered by line.
func (db *ServerDB) GetTransaction(id string) (*Transaction, []TransactionItem, error) {
	var t Transaction
	err := db.conn.Get(&t, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get transaction: %w", err)
	}

	items := []TransactionItem{}
	err = db.conn.Select(&items, `SELECT transaction_id, line_no, product_id, name, unit_price, quantity
		FROM transaction_items WHERE transaction_id = ? ORDER BY line_no`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get transaction items: %w", err)
	}
	return &t, items, nil
}

// CountTransactions returns how many transactions userID owns.
func (db *ServerDB) CountTransactions(userID string) (int, error) {
	var n int
	if err := db.conn.Get(&n, `SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}
