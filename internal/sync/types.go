package sync

import (
	"context"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/models"
)

// Remote is the authoritative store the engine delivers to.
// Both upserts must be idempotent by their keys.
type Remote interface {
	FetchAllProducts(ctx context.Context) ([]models.Product, error)
	// UpsertTransaction writes the transaction row without its items
	UpsertTransaction(ctx context.Context, userID string, tx *models.Transaction) error
	UpsertTransactionItems(ctx context.Context, txID string, items []models.TransactionItem) error
	// CurrentUserIdentity returns "" when nobody is signed in
	CurrentUserIdentity(ctx context.Context) (string, error)
}

// Store is the local durable state the engine reads and writes.
// *db.DB implements it.
type Store interface {
	SaveTransactionPending(tx *models.Transaction) error
	GetTransaction(id string) (*models.Transaction, error)
	ReplaceProducts(products []models.Product) error
	PendingTransactionIDs() ([]string, error)
	IsPending(id string) (bool, error)
	MarkDelivered(id string, at *time.Time) error
	SetLastSyncAt(t time.Time) error
	SetOnlineHint(online bool) error
	GetSyncState() (*models.SyncState, error)
	RecordDeliveryFailure(f *models.DeliveryFailure) error
	GetDeliveryFailure(id string) (*models.DeliveryFailure, error)
	RecordSyncHistory(entries []db.SyncHistoryEntry) error
}

// Monitor reports reachability and transitions.
// *connectivity.Monitor implements it.
type Monitor interface {
	IsOnline() bool
	Subscribe(fn func(connectivity.Event)) func()
}

// ReconcileResult summarises one pass.
type ReconcileResult struct {
	Skipped    bool
	SkipReason string

	ProductsRefreshed int
	CatalogErr        error // non-nil when the refresh was attempted and failed

	Delivered []string
	Pending   []string // still pending after the pass, including exhausted ids
	Exhausted []string
	Missing   []string // pending ids with no local record

	StartedAt  time.Time
	FinishedAt time.Time
}

// Exhaustion describes a transaction whose attempts ran out in a pass
type Exhaustion struct {
	TransactionID string
	Attempts      int
	Kind          models.FailureKind
	Err           error
	At            time.Time
}

// ExhaustedHandler is called once per exhausted transaction
type ExhaustedHandler func(ctx context.Context, ex Exhaustion)

const (
	skipOffline    = "offline"
	skipInProgress = "sync already in progress"
)
