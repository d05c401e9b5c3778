package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

// fakeRemote is an in-memory remote store keyed the same way as the server:
// transactions by id, items by (transaction id, line number).
type fakeRemote struct {
	mu gosync.Mutex

	products    []models.Product
	productsErr error
	userID      string
	// identityErr returns the error for the nth identity lookup (1-based)
	identityErr   func(call int) error
	identityCalls int

	// failTx and failItems return the error for the nth call (1-based) for a transaction
	failTx    func(id string, call int) error
	failItems func(id string, call int) error

	txs       map[string]remoteTx
	items     map[string][]models.TransactionItem
	txCalls   map[string]int
	itemCalls map[string]int
	calls     []string

	fetchStarted chan struct{}
	fetchRelease chan struct{}
}

type remoteTx struct {
	UserID string
	Tx     models.Transaction
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		userID:    "user-1",
		txs:       map[string]remoteTx{},
		items:     map[string][]models.TransactionItem{},
		txCalls:   map[string]int{},
		itemCalls: map[string]int{},
	}
}

func (f *fakeRemote) FetchAllProducts(ctx context.Context) ([]models.Product, error) {
	if f.fetchStarted != nil {
		f.fetchStarted <- struct{}{}
		<-f.fetchRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productsErr != nil {
		return nil, f.productsErr
	}
	out := make([]models.Product, len(f.products))
	copy(out, f.products)
	return out, nil
}

func (f *fakeRemote) UpsertTransaction(ctx context.Context, userID string, tx *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls[tx.ID]++
	f.calls = append(f.calls, "tx:"+tx.ID)
	if f.failTx != nil {
		if err := f.failTx(tx.ID, f.txCalls[tx.ID]); err != nil {
			return err
		}
	}
	row := *tx
	row.Items = nil
	f.txs[tx.ID] = remoteTx{UserID: userID, Tx: row}
	return nil
}

func (f *fakeRemote) UpsertTransactionItems(ctx context.Context, txID string, items []models.TransactionItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls[txID]++
	f.calls = append(f.calls, "items:"+txID)
	if f.failItems != nil {
		if err := f.failItems(txID, f.itemCalls[txID]); err != nil {
			return err
		}
	}
	if _, ok := f.txs[txID]; !ok {
		return fmt.Errorf("transaction %s: %w", txID, ErrRejected)
	}
	// keyed by line number: overwrite existing lines, drop extras
	lines := append([]models.TransactionItem(nil), f.items[txID]...)
	for i, it := range items {
		if i < len(lines) {
			lines[i] = it
		} else {
			lines = append(lines, it)
		}
	}
	f.items[txID] = lines[:len(items)]
	return nil
}

func (f *fakeRemote) CurrentUserIdentity(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityCalls++
	if f.identityErr != nil {
		if err := f.identityErr(f.identityCalls); err != nil {
			return "", err
		}
	}
	return f.userID, nil
}

func (f *fakeRemote) attempts(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls[id]
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

var errConnRefused = errors.New("dial tcp 127.0.0.1:8080: connection refused")

type recordingSleeper struct {
	mu    gosync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocal(t *testing.T) *db.DB {
	t.Helper()
	local, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return local
}

func newTestEngine(t *testing.T, local Store, remote Remote, opts ...Option) (*Engine, *recordingSleeper) {
	t.Helper()
	sl := &recordingSleeper{}
	base := []Option{WithSleeper(sl.sleep), WithLogger(quietLogger())}
	e := NewEngine(local, remote, append(base, opts...)...)
	t.Cleanup(e.Close)
	return e, sl
}

func saleT1() *models.Transaction {
	return &models.Transaction{
		ID:       "T1",
		Date:     time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		Subtotal: decimal.RequireFromString("5.98"),
		Tax:      decimal.RequireFromString("0.30"),
		Total:    decimal.RequireFromString("6.28"),
		Status:   models.TxCompleted,
		Items: []models.TransactionItem{
			{ProductID: "P1", Name: "Cola", UnitPrice: decimal.RequireFromString("2.99"), Quantity: 2},
		},
	}
}

func sale(id string) *models.Transaction {
	tx := saleT1()
	tx.ID = id
	return tx
}

func mustPending(t *testing.T, local *db.DB) []string {
	t.Helper()
	ids, err := local.PendingTransactionIDs()
	if err != nil {
		t.Fatalf("PendingTransactionIDs: %v", err)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPersistTransactionOnline(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	e, _ := newTestEngine(t, local, remote)

	if err := e.PersistTransaction(context.Background(), saleT1()); err != nil {
		t.Fatalf("PersistTransaction: %v", err)
	}

	if got := mustPending(t, local); len(got) != 0 {
		t.Errorf("pending = %v, want empty", got)
	}
	if _, ok := remote.txs["T1"]; !ok {
		t.Error("remote missing T1")
	}
	if remote.txs["T1"].UserID != "user-1" {
		t.Errorf("user_id = %q, want user-1", remote.txs["T1"].UserID)
	}
	last, _ := e.LastSyncAt()
	if last == nil {
		t.Error("LastSyncAt not stamped after direct push")
	}
	if st, _ := e.TransactionStatus("T1"); st != models.SyncSynced {
		t.Errorf("status = %s, want synced", st)
	}
}

func TestPersistTransactionAssignsID(t *testing.T) {
	local := newLocal(t)
	e, _ := newTestEngine(t, local, newFakeRemote())

	tx := saleT1()
	tx.ID = ""
	if err := e.PersistTransaction(context.Background(), tx); err != nil {
		t.Fatalf("PersistTransaction: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("id not assigned")
	}
	if _, err := local.GetTransaction(tx.ID); err != nil {
		t.Errorf("GetTransaction(%s): %v", tx.ID, err)
	}
}

func TestPersistTransactionOffline(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	mon := connectivity.New(nil)
	e, _ := newTestEngine(t, local, remote, WithMonitor(mon))

	err := e.PersistTransaction(context.Background(), saleT1())
	if !errors.Is(err, ErrNotSynced) || !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrNotSynced wrapping ErrOffline", err)
	}
	if _, err := local.GetTransaction("T1"); err != nil {
		t.Errorf("transaction not durable: %v", err)
	}
	if got := mustPending(t, local); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("pending = %v, want [T1]", got)
	}
	if remote.attempts("T1") != 0 {
		t.Error("remote contacted while offline")
	}
}

func TestPersistTransactionRemoteFailure(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.failTx = func(string, int) error { return errConnRefused }
	e, sl := newTestEngine(t, local, remote)

	err := e.PersistTransaction(context.Background(), saleT1())
	if !errors.Is(err, ErrNotSynced) {
		t.Fatalf("err = %v, want ErrNotSynced", err)
	}
	if !errors.Is(err, errConnRefused) {
		t.Errorf("cause not wrapped: %v", err)
	}
	if remote.attempts("T1") != 1 {
		t.Errorf("direct push attempts = %d, want 1", remote.attempts("T1"))
	}
	if len(sl.waits) != 0 {
		t.Errorf("direct push waited %v", sl.waits)
	}
	if remote.itemCalls["T1"] != 0 {
		t.Error("items sent after transaction row failed")
	}
	if st, _ := e.TransactionStatus("T1"); st != models.SyncPending {
		t.Errorf("status = %s, want pending", st)
	}
}

func TestRetryCeiling(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.failTx = func(string, int) error { return errConnRefused }

	var exhausted []Exhaustion
	e, sl := newTestEngine(t, local, remote, WithExhaustedHandler(func(ctx context.Context, ex Exhaustion) {
		exhausted = append(exhausted, ex)
	}))

	if err := local.SaveTransactionPending(saleT1()); err != nil {
		t.Fatalf("SaveTransactionPending: %v", err)
	}

	res, err := e.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if got := remote.attempts("T1"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	want := []time.Duration{DefaultRetryDelay, DefaultRetryDelay}
	if !reflect.DeepEqual(sl.waits, want) {
		t.Errorf("waits = %v, want %v", sl.waits, want)
	}
	if !reflect.DeepEqual(mustPending(t, local), []string{"T1"}) {
		t.Error("T1 should remain pending")
	}
	if _, err := local.GetTransaction("T1"); err != nil {
		t.Errorf("T1 deleted: %v", err)
	}
	if !reflect.DeepEqual(res.Exhausted, []string{"T1"}) {
		t.Errorf("Exhausted = %v", res.Exhausted)
	}
	if len(exhausted) != 1 || exhausted[0].Attempts != 3 || exhausted[0].Kind != models.FailureConnectivity {
		t.Errorf("handler calls = %+v", exhausted)
	}
	if n := e.Metrics().Snapshot().TransactionsExhausted; n != 1 {
		t.Errorf("exhausted metric = %d, want 1", n)
	}
	if st, _ := e.TransactionStatus("T1"); st != models.SyncError {
		t.Errorf("status = %s, want error", st)
	}

	// a later pass retries it again
	remote.failTx = nil
	res, err = e.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("second DrainPending: %v", err)
	}
	if !reflect.DeepEqual(res.Delivered, []string{"T1"}) {
		t.Errorf("Delivered = %v, want [T1]", res.Delivered)
	}
	if st, _ := e.TransactionStatus("T1"); st != models.SyncSynced {
		t.Errorf("status = %s, want synced", st)
	}
}

func TestRetryCustomPolicy(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.failTx = func(string, int) error { return errConnRefused }
	e, sl := newTestEngine(t, local, remote, WithRetry(5, time.Second))

	local.SaveTransactionPending(saleT1())
	if _, err := e.DrainPending(context.Background()); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if got := remote.attempts("T1"); got != 5 {
		t.Errorf("attempts = %d, want 5", got)
	}
	if len(sl.waits) != 4 || sl.waits[0] != time.Second {
		t.Errorf("waits = %v, want four 1s waits", sl.waits)
	}
}

func TestRetrySucceedsLater(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.failTx = func(_ string, call int) error {
		if call == 1 {
			return errConnRefused
		}
		return nil
	}
	e, sl := newTestEngine(t, local, remote)

	local.SaveTransactionPending(saleT1())
	res, err := e.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if !reflect.DeepEqual(res.Delivered, []string{"T1"}) {
		t.Errorf("Delivered = %v", res.Delivered)
	}
	if len(sl.waits) != 1 {
		t.Errorf("waits = %v, want one", sl.waits)
	}
	if len(mustPending(t, local)) != 0 {
		t.Error("T1 still pending")
	}
	if _, err := local.GetDeliveryFailure("T1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("failure record kept after delivery: %v", err)
	}
}

func TestNoIdentitySkipsRestOfPass(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.userID = ""
	e, sl := newTestEngine(t, local, remote)

	local.SaveTransactionPending(saleT1())
	res, err := e.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if remote.attempts("T1") != 0 {
		t.Error("transaction written without identity")
	}
	if len(sl.waits) != 0 {
		t.Errorf("waits = %v, want none", sl.waits)
	}
	if !reflect.DeepEqual(res.Pending, []string{"T1"}) {
		t.Errorf("Pending = %v", res.Pending)
	}
	f, err := local.GetDeliveryFailure("T1")
	if err != nil {
		t.Fatalf("GetDeliveryFailure: %v", err)
	}
	if f.Kind != models.FailurePrecondition || f.Attempts != 1 || !f.Exhausted {
		t.Errorf("failure = %+v", f)
	}
}

func TestIdentityLookupFailureRetried(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.identityErr = func(call int) error {
		if call == 1 {
			return errConnRefused
		}
		return nil
	}
	e, sl := newTestEngine(t, local, remote)

	local.SaveTransactionPending(saleT1())
	res, err := e.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if !reflect.DeepEqual(res.Delivered, []string{"T1"}) || len(res.Exhausted) != 0 {
		t.Errorf("Delivered = %v, Exhausted = %v", res.Delivered, res.Exhausted)
	}
	if remote.identityCalls != 2 {
		t.Errorf("identity calls = %d, want 2", remote.identityCalls)
	}
	if len(sl.waits) != 1 || sl.waits[0] != DefaultRetryDelay {
		t.Errorf("waits = %v, want one %s wait", sl.waits, DefaultRetryDelay)
	}
	status, err := e.TransactionStatus("T1")
	if err != nil || status != models.SyncSynced {
		t.Errorf("status = %s, %v", status, err)
	}
}

func TestIdentityLookupFailureIsConnectivity(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.identityErr = func(int) error { return errConnRefused }
	e, _ := newTestEngine(t, local, remote)

	local.SaveTransactionPending(saleT1())
	if _, err := e.DrainPending(context.Background()); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if remote.identityCalls != DefaultRetryAttempts {
		t.Errorf("identity calls = %d, want %d", remote.identityCalls, DefaultRetryAttempts)
	}
	f, err := local.GetDeliveryFailure("T1")
	if err != nil {
		t.Fatalf("GetDeliveryFailure: %v", err)
	}
	if f.Kind != models.FailureConnectivity || f.Attempts != DefaultRetryAttempts {
		t.Errorf("failure = %+v, want connectivity after %d attempts", f, DefaultRetryAttempts)
	}
}

func TestRejectedWritesStillRetried(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.failTx = func(string, int) error { return statusErr(403) }
	e, _ := newTestEngine(t, local, remote)

	local.SaveTransactionPending(saleT1())
	if _, err := e.DrainPending(context.Background()); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if remote.attempts("T1") != 3 {
		t.Errorf("attempts = %d, want 3", remote.attempts("T1"))
	}
	f, _ := local.GetDeliveryFailure("T1")
	if f == nil || f.Kind != models.FailureRejected {
		t.Errorf("failure = %+v, want rejected", f)
	}
}

func TestOneStuckTransactionDoesNotBlockOthers(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.failTx = func(id string, _ int) error {
		if id == "T2" {
			return errConnRefused
		}
		return nil
	}
	e, _ := newTestEngine(t, local, remote)

	for _, id := range []string{"T1", "T2", "T3"} {
		local.SaveTransactionPending(sale(id))
	}
	res, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !reflect.DeepEqual(res.Delivered, []string{"T1", "T3"}) {
		t.Errorf("Delivered = %v, want [T1 T3]", res.Delivered)
	}
	if !reflect.DeepEqual(mustPending(t, local), []string{"T2"}) {
		t.Errorf("pending = %v, want [T2]", mustPending(t, local))
	}
	want := []string{"tx:T1", "items:T1", "tx:T2", "tx:T2", "tx:T2", "tx:T3", "items:T3"}
	if !reflect.DeepEqual(remote.calls, want) {
		t.Errorf("calls = %v, want %v", remote.calls, want)
	}
}

func TestIdempotentRedelivery(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	// row lands, items fail once: the retry resends both
	remote.failItems = func(_ string, call int) error {
		if call == 1 {
			return errConnRefused
		}
		return nil
	}
	e, _ := newTestEngine(t, local, remote)

	tx := saleT1()
	tx.Items = append(tx.Items, models.TransactionItem{ProductID: "P2", Name: "Chips", UnitPrice: decimal.RequireFromString("1.50"), Quantity: 1})
	local.SaveTransactionPending(tx)

	if _, err := e.DrainPending(context.Background()); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	first := remote.items["T1"]

	// deliver the same transaction again
	local.AddPendingTransaction("T1")
	if _, err := e.DrainPending(context.Background()); err != nil {
		t.Fatalf("second DrainPending: %v", err)
	}

	if len(remote.txs) != 1 {
		t.Errorf("remote transactions = %d, want 1", len(remote.txs))
	}
	if len(remote.items["T1"]) != 2 {
		t.Errorf("remote items = %d, want 2", len(remote.items["T1"]))
	}
	if !reflect.DeepEqual(first, remote.items["T1"]) {
		t.Errorf("items changed on redelivery: %v -> %v", first, remote.items["T1"])
	}
}

func TestReconcileMutualExclusion(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.fetchStarted = make(chan struct{})
	remote.fetchRelease = make(chan struct{})
	e, _ := newTestEngine(t, local, remote)

	done := make(chan ReconcileResult)
	go func() {
		res, _ := e.Reconcile(context.Background())
		done <- res
	}()
	<-remote.fetchStarted

	second, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !second.Skipped || second.SkipReason != skipInProgress {
		t.Errorf("second pass = %+v, want skipped as in progress", second)
	}
	if _, err := e.DrainPending(context.Background()); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}

	close(remote.fetchRelease)
	first := <-done
	if first.Skipped {
		t.Error("first pass was skipped")
	}
	snap := e.Metrics().Snapshot()
	if snap.Passes != 1 || snap.SkippedPasses != 2 {
		t.Errorf("passes = %d skipped = %d, want 1 and 2", snap.Passes, snap.SkippedPasses)
	}

	// the guard is released afterwards
	remote.fetchStarted = nil
	again, _ := e.Reconcile(context.Background())
	if again.Skipped {
		t.Error("pass after completion was skipped")
	}
}

func TestEnginesDoNotShareGuard(t *testing.T) {
	remoteA := newFakeRemote()
	remoteA.fetchStarted = make(chan struct{})
	remoteA.fetchRelease = make(chan struct{})
	a, _ := newTestEngine(t, newLocal(t), remoteA)
	b, _ := newTestEngine(t, newLocal(t), newFakeRemote())

	done := make(chan struct{})
	go func() {
		a.Reconcile(context.Background())
		close(done)
	}()
	<-remoteA.fetchStarted

	res, err := b.Reconcile(context.Background())
	if err != nil || res.Skipped {
		t.Errorf("engine b skipped while a was running: %+v %v", res, err)
	}
	close(remoteA.fetchRelease)
	<-done
}

func product(id, price string) models.Product {
	return models.Product{ID: id, Name: "product " + id, Price: decimal.RequireFromString(price), Stock: 5}
}

func TestFullRefreshReplaces(t *testing.T) {
	local := newLocal(t)
	if err := local.SaveProducts([]models.Product{product("A", "1.00"), product("B", "2.00")}); err != nil {
		t.Fatalf("SaveProducts: %v", err)
	}
	remote := newFakeRemote()
	remote.products = []models.Product{product("B", "2.25"), product("C", "3.00")}
	e, _ := newTestEngine(t, local, remote)

	res, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.ProductsRefreshed != 2 {
		t.Errorf("ProductsRefreshed = %d, want 2", res.ProductsRefreshed)
	}
	list, _ := local.ListProducts()
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if !reflect.DeepEqual(ids, []string{"B", "C"}) {
		t.Errorf("cache = %v, want [B C]", ids)
	}
	if _, err := local.GetProduct("A"); !errors.Is(err, db.ErrNotFound) {
		t.Error("A still cached")
	}
	if last, _ := e.LastSyncAt(); last == nil {
		t.Error("LastSyncAt not stamped")
	}
}

func TestCatalogFailureKeepsCacheAndStillDrains(t *testing.T) {
	local := newLocal(t)
	local.SaveProducts([]models.Product{product("A", "1.00")})
	local.SaveTransactionPending(saleT1())

	remote := newFakeRemote()
	remote.productsErr = statusErr(503)
	e, _ := newTestEngine(t, local, remote)

	res, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.CatalogErr == nil {
		t.Error("CatalogErr not reported")
	}
	if n, _ := local.CountProducts(); n != 1 {
		t.Errorf("cache size = %d, want 1", n)
	}
	if !reflect.DeepEqual(res.Delivered, []string{"T1"}) {
		t.Errorf("Delivered = %v, want [T1]", res.Delivered)
	}
	if last, _ := e.LastSyncAt(); last != nil {
		t.Errorf("LastSyncAt = %v, want unset after catalog failure", last)
	}
}

func TestReconcileOfflineIsNoop(t *testing.T) {
	local := newLocal(t)
	local.SaveTransactionPending(saleT1())
	remote := newFakeRemote()
	e, _ := newTestEngine(t, local, remote, WithMonitor(connectivity.New(nil)))

	res, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.Skipped || res.SkipReason != skipOffline {
		t.Errorf("res = %+v, want skipped offline", res)
	}
	if remote.attempts("T1") != 0 {
		t.Error("remote contacted while offline")
	}
}

func TestMissingPendingRecordSkipped(t *testing.T) {
	local := newLocal(t)
	local.AddPendingTransaction("ghost")
	local.SaveTransactionPending(saleT1())
	e, _ := newTestEngine(t, local, newFakeRemote())

	res, err := e.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if !reflect.DeepEqual(res.Missing, []string{"ghost"}) {
		t.Errorf("Missing = %v", res.Missing)
	}
	if !reflect.DeepEqual(res.Delivered, []string{"T1"}) {
		t.Errorf("Delivered = %v", res.Delivered)
	}
}

func TestDrainStopsWhenCancelled(t *testing.T) {
	local := newLocal(t)
	local.SaveTransactionPending(sale("T1"))
	local.SaveTransactionPending(sale("T2"))
	remote := newFakeRemote()
	e, _ := newTestEngine(t, local, remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.DrainPending(ctx)
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if !reflect.DeepEqual(res.Pending, []string{"T1", "T2"}) {
		t.Errorf("Pending = %v", res.Pending)
	}
	if len(mustPending(t, local)) != 2 {
		t.Error("pending set changed by cancelled drain")
	}
}

func TestRetryWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepCtx ignored cancellation")
	}
}

func TestOfflineThenReconnect(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	mon := connectivity.New(nil, connectivity.WithLogger(quietLogger()))
	e, _ := newTestEngine(t, local, remote, WithMonitor(mon))

	tx := &models.Transaction{
		ID:   "T1",
		Date: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		Items: []models.TransactionItem{
			{ProductID: "P1", Name: "Cola", UnitPrice: decimal.RequireFromString("2.99"), Quantity: 2},
		},
		Subtotal: decimal.RequireFromString("5.98"),
		Tax:      decimal.RequireFromString("0.30"),
		Total:    decimal.RequireFromString("6.28"),
	}
	if err := e.PersistTransaction(context.Background(), tx); !errors.Is(err, ErrNotSynced) {
		t.Fatalf("PersistTransaction offline err = %v, want ErrNotSynced", err)
	}
	if got := mustPending(t, local); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Fatalf("pending = %v, want [T1]", got)
	}

	mon.Report(true)
	waitFor(t, "pending set to drain", func() bool { return len(mustPending(t, local)) == 0 })
	e.Close()

	remote.mu.Lock()
	defer remote.mu.Unlock()
	got, ok := remote.txs["T1"]
	if !ok {
		t.Fatal("remote missing T1")
	}
	if !got.Tx.Subtotal.Equal(decimal.RequireFromString("5.98")) ||
		!got.Tx.Tax.Equal(decimal.RequireFromString("0.30")) ||
		!got.Tx.Total.Equal(decimal.RequireFromString("6.28")) {
		t.Errorf("remote amounts = %s/%s/%s", got.Tx.Subtotal, got.Tx.Tax, got.Tx.Total)
	}
	items := remote.items["T1"]
	if len(items) != 1 || items[0].ProductID != "P1" || items[0].Quantity != 2 || !items[0].UnitPrice.Equal(decimal.RequireFromString("2.99")) {
		t.Errorf("remote items = %+v", items)
	}
	state, _ := local.GetSyncState()
	if !state.OnlineHint {
		t.Error("online hint not recorded")
	}
}

func TestCloseStopsReacting(t *testing.T) {
	local := newLocal(t)
	local.SaveTransactionPending(saleT1())
	remote := newFakeRemote()
	mon := connectivity.New(nil, connectivity.WithLogger(quietLogger()))
	e, _ := newTestEngine(t, local, remote, WithMonitor(mon))

	e.Close()
	mon.Report(true)
	time.Sleep(20 * time.Millisecond)
	if remote.attempts("T1") != 0 {
		t.Error("closed engine reconciled on transition")
	}
}

func TestTransactionStatusUnknown(t *testing.T) {
	e, _ := newTestEngine(t, newLocal(t), newFakeRemote())
	if _, err := e.TransactionStatus("nope"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPendingCount(t *testing.T) {
	local := newLocal(t)
	e, _ := newTestEngine(t, local, newFakeRemote(), WithMonitor(connectivity.New(nil)))
	for _, id := range []string{"T1", "T2"} {
		e.PersistTransaction(context.Background(), sale(id))
	}
	n, err := e.PendingCount()
	if err != nil || n != 2 {
		t.Errorf("PendingCount = %d, %v; want 2", n, err)
	}
	ids, _ := e.PendingTransactionIDs()
	if !reflect.DeepEqual(ids, []string{"T1", "T2"}) {
		t.Errorf("ids = %v", ids)
	}
}
