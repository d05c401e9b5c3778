package sync

import (
	"time"

	"github.com/google/uuid"
	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

// NewTransactionID returns a fresh globally unique transaction id
func NewTransactionID() string {
	return uuid.NewString()
}

// NewTransaction builds a completed sale from items, computing the subtotal
// from the line totals and the tax at taxRate rounded to cents.
func NewTransaction(items []models.TransactionItem, taxRate decimal.Decimal, at time.Time) *models.Transaction {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	tax := subtotal.Mul(taxRate).Round(2)
	return &models.Transaction{
		ID:       NewTransactionID(),
		Date:     at,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
		Status:   models.TxCompleted,
		Items:    items,
	}
}
