package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus represents the business status of a sale
type TxStatus string

const (
	TxCompleted TxStatus = "completed"
	TxVoided    TxStatus = "voided"
)

// SyncStatus describes whether a transaction has reached the remote store
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error" // still pending, last pass exhausted its retries
)

// FailureKind classifies a failed delivery attempt
type FailureKind string

const (
	FailureConnectivity FailureKind = "connectivity"
	FailureRejected     FailureKind = "rejected"
	FailurePrecondition FailureKind = "precondition"
)

// Product is a catalog entry. The local copy is a disposable cache of the
// remote catalog and is only ever written by sync.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category,omitempty"`
	ImageRef    string          `json:"image_ref,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TransactionItem is a line item snapshot taken at sale time. Name and price
// are denormalized so receipts stay stable when the product changes.
type TransactionItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns unitPrice * quantity
func (it TransactionItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Transaction is a recorded sale.
// Callers keep Total = Subtotal + Tax and Subtotal = sum of line totals.
type Transaction struct {
	ID       string            `json:"id"`
	Date     time.Time         `json:"date"`
	Subtotal decimal.Decimal   `json:"subtotal"`
	Tax      decimal.Decimal   `json:"tax"`
	Total    decimal.Decimal   `json:"total"`
	Status   TxStatus          `json:"status"`
	Items    []TransactionItem `json:"items"`
}

// SyncState is the terminal's singleton sync record.
// PendingTransactionIDs is in insertion order.
type SyncState struct {
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	PendingTransactionIDs []string   `json:"pending_transaction_ids"`
	OnlineHint            bool       `json:"online_hint"`
}

// IsPending reports whether id is in the pending set
func (s *SyncState) IsPending(id string) bool {
	for _, p := range s.PendingTransactionIDs {
		if p == id {
			return true
		}
	}
	return false
}

// DeliveryFailure tracks the most recent failed delivery of a pending transaction
type DeliveryFailure struct {
	TransactionID string      `json:"transaction_id"`
	Attempts      int         `json:"attempts"`
	Kind          FailureKind `json:"kind"`
	LastError     string      `json:"last_error"`
	Exhausted     bool        `json:"exhausted"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// WebhookConfig holds alert webhook settings
type WebhookConfig struct {
	URL    string `json:"url,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// Config is the per-terminal configuration stored in .till/config.json
type Config struct {
	TerminalName string         `json:"terminal_name,omitempty"`
	TaxRate      string         `json:"tax_rate,omitempty"` // decimal string, e.g. "0.05"
	Webhook      *WebhookConfig `json:"webhook,omitempty"`
}
