// Package sync moves sales and the product catalog between the terminal's
// local store and the remote store.
//
// Every sale is written locally first. Delivery to the remote store is
// at-least-once: a transaction stays in the pending set until one delivery
// is confirmed, and each reconciliation pass retries all of them.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/models"
)

const (
	// DefaultRetryAttempts is the delivery attempts per transaction per pass
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the fixed wait between attempts
	DefaultRetryDelay = 5 * time.Second
)

// Engine owns the reconciliation protocol for one terminal.
type Engine struct {
	local   Store
	remote  Remote
	monitor Monitor

	attempts    int
	delay       time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	log         *slog.Logger
	onExhausted ExhaustedHandler

	syncing atomic.Bool
	metrics Metrics

	bgCtx       context.Context
	bgCancel    context.CancelFunc
	unsubscribe func()
	bgMu        gosync.Mutex
	closed      bool
	wg          gosync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithMonitor subscribes the engine to connectivity transitions. Without a
// monitor the engine treats the remote store as reachable.
func WithMonitor(m Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithRetry sets the attempts per transaction per pass and the fixed delay between them
func WithRetry(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if delay >= 0 {
			e.delay = delay
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleeper overrides how retry delays are waited out
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithExhaustedHandler registers fn to be told about transactions whose
// attempts ran out. fn runs synchronously inside the pass.
func WithExhaustedHandler(fn ExhaustedHandler) Option {
	return func(e *Engine) { e.onExhausted = fn }
}

// NewEngine creates an engine. With a monitor it starts one reconciliation
// per online transition until Close is called.
func NewEngine(local Store, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		local:    local,
		remote:   remote,
		attempts: DefaultRetryAttempts,
		delay:    DefaultRetryDelay,
		now:      time.Now,
		sleep:    sleepCtx,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	if e.monitor != nil {
		e.unsubscribe = e.monitor.Subscribe(e.onTransition)
	}
	return e
}

// Close stops reacting to transitions and waits for background passes.
func (e *Engine) Close() {
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return
	}
	e.closed = true
	e.bgMu.Unlock()

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.bgCancel()
	e.wg.Wait()
}

// Metrics returns the engine's counters
func (e *Engine) Metrics() *Metrics {
	return &e.metrics
}

func (e *Engine) onTransition(ev connectivity.Event) {
	if err := e.local.SetOnlineHint(ev.Online); err != nil {
		e.log.Warn("record online hint", "err", err)
	}
	if !ev.Online {
		return
	}

	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Reconcile(e.bgCtx); err != nil {
			e.log.Error("reconcile after reconnect", "err", err)
		}
	}()
}

func (e *Engine) isOnline() bool {
	return e.monitor == nil || e.monitor.IsOnline()
}

// PersistTransaction records tx locally and, when online, pushes it once.
//
// A nil error means the remote store confirmed it. An error matching
// ErrNotSynced means the sale is stored and pending. Any other error is a
// local storage failure and the sale may not have been recorded.
func (e *Engine) PersistTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = NewTransactionID()
	}
	if tx.Status == "" {
		tx.Status = models.TxCompleted
	}
	if err := e.local.SaveTransactionPending(tx); err != nil {
		return fmt.Errorf("save transaction locally: %w", err)
	}

	if !e.isOnline() {
		e.log.Debug("offline, transaction queued", "tx", tx.ID)
		return fmt.Errorf("%w: %w", ErrNotSynced, ErrOffline)
	}

	if err := e.deliver(ctx, tx); err != nil {
		kind := Classify(err)
		e.metrics.failedAttempts.Add(1)
		e.log.Info("direct push failed, transaction queued", "tx", tx.ID, "kind", kind, "err", err)
		if ferr := e.local.RecordDeliveryFailure(&models.DeliveryFailure{
			TransactionID: tx.ID,
			Attempts:      1,
			Kind:          kind,
			LastError:     err.Error(),
			UpdatedAt:     e.now(),
		}); ferr != nil {
			e.log.Warn("record delivery failure", "tx", tx.ID, "err", ferr)
		}
		e.history(db.SyncHistoryEntry{Direction: "push", EntityType: "transactions", EntityID: tx.ID, Outcome: "failed", Detail: err.Error()})
		return fmt.Errorf("%w: %w", ErrNotSynced, err)
	}

	now := e.now()
	if err := e.local.MarkDelivered(tx.ID, &now); err != nil {
		return fmt.Errorf("mark %s delivered: %w", tx.ID, err)
	}
	e.metrics.delivered.Add(1)
	e.history(db.SyncHistoryEntry{Direction: "push", EntityType: "transactions", EntityID: tx.ID, Outcome: "ok"})
	return nil
}

// Reconcile runs one full pass: catalog refresh, then pending drain. It is
// a no-op when offline or when another pass is running. Only local storage
// failures are returned as errors.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileResult, error) {
	return e.guarded(ctx, func(res *ReconcileResult) error {
		if err := e.refresh(ctx, res); err != nil {
			return err
		}
		if err := e.drain(ctx, res); err != nil {
			return err
		}
		if res.CatalogErr == nil {
			return e.stampLastSync(res)
		}
		return nil
	})
}

// RefreshProducts replaces the cached catalog with the remote one.
func (e *Engine) RefreshProducts(ctx context.Context) (ReconcileResult, error) {
	return e.guarded(ctx, func(res *ReconcileResult) error {
		if err := e.refresh(ctx, res); err != nil {
			return err
		}
		if res.CatalogErr == nil {
			return e.stampLastSync(res)
		}
		return nil
	})
}

// DrainPending delivers pending transactions without touching the catalog.
func (e *Engine) DrainPending(ctx context.Context) (ReconcileResult, error) {
	return e.guarded(ctx, func(res *ReconcileResult) error {
		if err := e.drain(ctx, res); err != nil {
			return err
		}
		if len(res.Delivered) > 0 {
			return e.stampLastSync(res)
		}
		return nil
	})
}

func (e *Engine) guarded(ctx context.Context, fn func(res *ReconcileResult) error) (ReconcileResult, error) {
	res := ReconcileResult{StartedAt: e.now()}
	if !e.isOnline() {
		e.metrics.skippedPasses.Add(1)
		res.Skipped, res.SkipReason = true, skipOffline
		return res, nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.metrics.skippedPasses.Add(1)
		res.Skipped, res.SkipReason = true, skipInProgress
		e.log.Debug("sync already in progress, skipping")
		return res, nil
	}
	defer e.syncing.Store(false)

	e.metrics.passes.Add(1)
	err := fn(&res)
	if res.FinishedAt.IsZero() {
		res.FinishedAt = e.now()
	}
	e.log.Info("sync pass complete",
		"products", res.ProductsRefreshed,
		"delivered", len(res.Delivered),
		"pending", len(res.Pending),
		"exhausted", len(res.Exhausted),
		"catalog_err", res.CatalogErr,
	)
	return res, err
}

func (e *Engine) stampLastSync(res *ReconcileResult) error {
	res.FinishedAt = e.now()
	if err := e.local.SetLastSyncAt(res.FinishedAt); err != nil {
		return fmt.Errorf("stamp last sync: %w", err)
	}
	return nil
}

func (e *Engine) refresh(ctx context.Context, res *ReconcileResult) error {
	products, err := e.remote.FetchAllProducts(ctx)
	if err != nil {
		e.metrics.catalogFailures.Add(1)
		e.log.Warn("catalog refresh failed, keeping cached products", "err", err)
		res.CatalogErr = err
		e.history(db.SyncHistoryEntry{Direction: "pull", EntityType: "products", Outcome: "failed", Detail: err.Error()})
		return nil
	}
	if err := e.local.ReplaceProducts(products); err != nil {
		return fmt.Errorf("replace products: %w", err)
	}
	res.ProductsRefreshed = len(products)
	e.metrics.productsRefreshed.Add(int64(len(products)))
	e.history(db.SyncHistoryEntry{Direction: "pull", EntityType: "products", Outcome: "ok", Detail: fmt.Sprintf("%d products", len(products))})
	return nil
}

func (e *Engine) drain(ctx context.Context, res *ReconcileResult) error {
	ids, err := e.local.PendingTransactionIDs()
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			res.Pending = append(res.Pending, ids[i:]...)
			break
		}

		tx, err := e.local.GetTransaction(id)
		if errors.Is(err, db.ErrNotFound) {
			e.log.Warn("pending transaction has no local record, skipping", "tx", id)
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("load pending %s: %w", id, err)
		}

		attempts, kind, derr := e.deliverWithRetry(ctx, tx)
		if derr == nil {
			if err := e.local.MarkDelivered(id, nil); err != nil {
				return fmt.Errorf("mark %s delivered: %w", id, err)
			}
			e.metrics.delivered.Add(1)
			res.Delivered = append(res.Delivered, id)
			e.history(db.SyncHistoryEntry{Direction: "push", EntityType: "transactions", EntityID: id, Outcome: "ok"})
			continue
		}

		res.Pending = append(res.Pending, id)
		exhausted := ctx.Err() == nil && (attempts >= e.attempts || kind == models.FailurePrecondition)
		if err := e.local.RecordDeliveryFailure(&models.DeliveryFailure{
			TransactionID: id,
			Attempts:      attempts,
			Kind:          kind,
			LastError:     derr.Error(),
			Exhausted:     exhausted,
			UpdatedAt:     e.now(),
		}); err != nil {
			return fmt.Errorf("record delivery failure %s: %w", id, err)
		}
		if !exhausted {
			e.history(db.SyncHistoryEntry{Direction: "push", EntityType: "transactions", EntityID: id, Outcome: "failed", Detail: derr.Error()})
			continue
		}

		res.Exhausted = append(res.Exhausted, id)
		e.metrics.exhausted.Add(1)
		e.log.Warn("transaction delivery exhausted, left pending",
			"tx", id, "attempts", attempts, "kind", kind, "err", derr)
		e.history(db.SyncHistoryEntry{Direction: "push", EntityType: "transactions", EntityID: id, Outcome: "exhausted", Detail: derr.Error()})
		if e.onExhausted != nil {
			e.onExhausted(ctx, Exhaustion{TransactionID: id, Attempts: attempts, Kind: kind, Err: derr, At: e.now()})
		}
	}
	return nil
}

// deliverWithRetry makes up to e.attempts delivery attempts with the fixed
// delay between them. A precondition failure ends the attempts early.
func (e *Engine) deliverWithRetry(ctx context.Context, tx *models.Transaction) (int, models.FailureKind, error) {
	var lastErr error
	var kind models.FailureKind
	for attempt := 1; attempt <= e.attempts; attempt++ {
		err := e.deliver(ctx, tx)
		if err == nil {
			return attempt, "", nil
		}
		lastErr, kind = err, Classify(err)
		e.metrics.failedAttempts.Add(1)
		e.log.Debug("delivery attempt failed", "tx", tx.ID, "attempt", attempt, "kind", kind, "err", err)

		// Nobody signed in cannot change between attempts, so the rest of
		// this pass is skipped for the transaction. It stays pending.
		if kind == models.FailurePrecondition {
			return attempt, kind, lastErr
		}
		if attempt < e.attempts {
			if err := e.sleep(ctx, e.delay); err != nil {
				return attempt, kind, lastErr
			}
		}
	}
	return e.attempts, kind, lastErr
}

// deliver writes the transaction row and then its items. Items are only
// sent once the row is accepted.
func (e *Engine) deliver(ctx context.Context, tx *models.Transaction) error {
	userID, err := e.remote.CurrentUserIdentity(ctx)
	if err != nil {
		// a failed lookup is classified by its cause, like any other write
		return fmt.Errorf("current user: %w", err)
	}
	if userID == "" {
		return ErrNoIdentity
	}
	if err := e.remote.UpsertTransaction(ctx, userID, tx); err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}
	if err := e.remote.UpsertTransactionItems(ctx, tx.ID, tx.Items); err != nil {
		return fmt.Errorf("upsert items: %w", err)
	}
	return nil
}

// PendingTransactionIDs returns the ids still awaiting confirmation
func (e *Engine) PendingTransactionIDs() ([]string, error) {
	return e.local.PendingTransactionIDs()
}

// PendingCount returns the number of pending transactions
func (e *Engine) PendingCount() (int, error) {
	ids, err := e.local.PendingTransactionIDs()
	return len(ids), err
}

// LastSyncAt returns the last successful sync time, nil if never
func (e *Engine) LastSyncAt() (*time.Time, error) {
	s, err := e.local.GetSyncState()
	if err != nil {
		return nil, err
	}
	return s.LastSyncAt, nil
}

// TransactionStatus reports synced when id is not pending, error when the
// last pass ran out of attempts for it, and pending otherwise.
func (e *Engine) TransactionStatus(id string) (models.SyncStatus, error) {
	if _, err := e.local.GetTransaction(id); err != nil {
		return "", err
	}
	pending, err := e.local.IsPending(id)
	if err != nil {
		return "", err
	}
	if !pending {
		return models.SyncSynced, nil
	}
	f, err := e.local.GetDeliveryFailure(id)
	if errors.Is(err, db.ErrNotFound) {
		return models.SyncPending, nil
	}
	if err != nil {
		return "", err
	}
	if f.Exhausted {
		return models.SyncError, nil
	}
	return models.SyncPending, nil
}

func (e *Engine) history(entry db.SyncHistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	if err := e.local.RecordSyncHistory([]db.SyncHistoryEntry{entry}); err != nil {
		e.log.Warn("record sync history", "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
