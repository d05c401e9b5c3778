package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/sync"
	"github.com/shopspring/decimal"
)

// PendingRow is one unconfirmed sale in the dashboard
type PendingRow struct {
	ID        string
	Date      time.Time
	Total     decimal.Decimal
	Status    models.SyncStatus
	Attempts  int
	LastError string
	Missing   bool // pending id with no local record
}

// Snapshot is everything the dashboard shows at one moment
type Snapshot struct {
	Online     bool
	LastSyncAt *time.Time
	Products   int
	Pending    []PendingRow
	History    []db.SyncHistoryEntry
	Metrics    sync.MetricsSnapshot
	Taken      time.Time
}

// Source feeds the dashboard
type Source interface {
	Snapshot() (Snapshot, error)
	Reconcile(ctx context.Context) (sync.ReconcileResult, error)
}

// TerminalSource reads the local store and drives the engine.
type TerminalSource struct {
	DB     *db.DB
	Engine *sync.Engine
	Online func() bool
	Now    func() time.Time
}

const historyRows = 8

// Snapshot reads the current sync state.
func (s *TerminalSource) Snapshot() (Snapshot, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	snap := Snapshot{Metrics: s.Engine.Metrics().Snapshot(), Taken: now()}
	if s.Online != nil {
		snap.Online = s.Online()
	}

	state, err := s.DB.GetSyncState()
	if err != nil {
		return snap, err
	}
	snap.LastSyncAt = state.LastSyncAt

	if snap.Products, err = s.DB.CountProducts(); err != nil {
		return snap, err
	}

	for _, id := range state.PendingTransactionIDs {
		row, err := s.pendingRow(id)
		if err != nil {
			return snap, err
		}
		snap.Pending = append(snap.Pending, row)
	}

	if snap.History, err = s.DB.GetSyncHistoryTail(historyRows); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *TerminalSource) pendingRow(id string) (PendingRow, error) {
	row := PendingRow{ID: id, Status: models.SyncPending}
	tx, err := s.DB.GetTransaction(id)
	if errors.Is(err, db.ErrNotFound) {
		row.Missing = true
		return row, nil
	}
	if err != nil {
		return row, err
	}
	row.Date, row.Total = tx.Date, tx.Total

	f, err := s.DB.GetDeliveryFailure(id)
	if errors.Is(err, db.ErrNotFound) {
		return row, nil
	}
	if err != nil {
		return row, err
	}
	row.Attempts, row.LastError = f.Attempts, f.LastError
	if f.Exhausted {
		row.Status = models.SyncError
	}
	return row, nil
}

// Reconcile runs one engine pass.
func (s *TerminalSource) Reconcile(ctx context.Context) (sync.ReconcileResult, error) {
	return s.Engine.Reconcile(ctx)
}
