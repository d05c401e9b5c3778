package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, price, stock, category, image_ref, updated_at`

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(s rowScanner) (*models.Product, error) {
	var p models.Product
	var price, updated string
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.Category, &p.ImageRef, &updated); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("product %s: bad price %q: %w", p.ID, price, err)
	}
	p.Price = d
	if t, err := parseTimestamp(updated); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func upsertProduct(e execer, p *models.Product) error {
	if p.ID == "" {
		return fmt.Errorf("product id is required")
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := e.Exec(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			price = excluded.price,
			stock = excluded.stock,
			category = excluded.category,
			image_ref = excluded.image_ref,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.Category, p.ImageRef, formatTimestamp(updated))
	if err != nil {
		return fmt.Errorf("save product %s: %w", p.ID, err)
	}
	return nil
}

// GetProduct returns the cached product with the given id
func (db *DB) GetProduct(id string) (*models.Product, error) {
	row := db.conn.QueryRow(`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns the cached catalog ordered by name
func (db *DB) ListProducts() ([]models.Product, error) {
	rows, err := db.conn.Query(`SELECT ` + productColumns + ` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// SaveProduct upserts a single product (incremental sync)
func (db *DB) SaveProduct(p *models.Product) error {
	return db.withWriteLock(func() error {
		return upsertProduct(db.conn, p)
	})
}

// SaveProducts upserts products in a single transaction
func (db *DB) SaveProducts(products []models.Product) error {
	return db.withTx(func(tx *sql.Tx) error {
		for i := range products {
			if err := upsertProduct(tx, &products[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearProducts empties the product cache
func (db *DB) ClearProducts() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM products`)
		return err
	})
}

// ReplaceProducts swaps the whole cache for products. Either the new set is
// fully in place or the old cache is left untouched.
func (db *DB) ReplaceProducts(products []models.Product) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM products`); err != nil {
			return fmt.Errorf("clear products: %w", err)
		}
		for i := range products {
			if err := upsertProduct(tx, &products[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountProducts returns the number of cached products
func (db *DB) CountProducts() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}
