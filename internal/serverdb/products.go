package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Product is a catalog row.
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	Category    string          `db:"category" json:"category"`
	ImageRef    string          `db:"image_ref" json:"image_ref"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Validate checks the invariants of a catalog write.
func (p *Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("product id is required")
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("product name is required")
	case p.Price.IsNegative():
		return fmt.Errorf("product price must not be negative")
	case p.Stock < 0:
		return fmt.Errorf("product stock must not be negative")
	}
	return nil
}

const productColumns = `id, name, description, price, stock, category, image_ref, updated_at`

const upsertProductSQL = `INSERT INTO products (` + productColumns + `)
	VALUES (:id, :name, :description, :price, :stock, :category, :image_ref, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		price = excluded.price,
		stock = excluded.stock,
		category = excluded.category,
		image_ref = excluded.image_ref,
		updated_at = excluded.updated_at`

// ListProducts returns the whole catalog ordered by name.
func (db *ServerDB) ListProducts() ([]Product, error) {
	products := []Product{}
	if err := db.conn.Select(&products, `SELECT `+productColumns+` FROM products ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// GetProduct returns one catalog row.
func (db *ServerDB) GetProduct(id string) (*Product, error) {
	var p Product
	err := db.conn.Get(&p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// UpsertProduct inserts or replaces a catalog row.
func (db *ServerDB) UpsertProduct(p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	if _, err := db.conn.NamedExec(upsertProductSQL, p); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// ImportProducts upserts a batch of catalog rows in one transaction.
func (db *ServerDB) ImportProducts(products []Product) (int, error) {
	for i := range products {
		if err := products[i].Validate(); err != nil {
			return 0, fmt.Errorf("product %d: %w", i, err)
		}
	}

	err := db.withTx(func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for i := range products {
			products[i].UpdatedAt = now
			if _, err := tx.NamedExec(upsertProductSQL, &products[i]); err != nil {
				return fmt.Errorf("upsert product %s: %w", products[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

// DeleteProduct removes a catalog row.
func (db *ServerDB) DeleteProduct(id string) error {
	res, err := db.conn.Exec(`DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

// withTx runs fn inside a transaction.
func (db *ServerDB) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
