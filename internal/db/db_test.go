package db

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func product(id, name, price string) models.Product {
	return models.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     10,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleTransaction(id string) *models.Transaction {
	return &models.Transaction{
		ID:       id,
		Date:     time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC),
		Subtotal: decimal.RequireFromString("5.98"),
		Tax:      decimal.RequireFromString("0.30"),
		Total:    decimal.RequireFromString("6.28"),
		Status:   models.TxCompleted,
		Items: []models.TransactionItem{
			{ProductID: "P1", Name: "Cola", UnitPrice: decimal.RequireFromString("2.99"), Quantity: 2},
		},
	}
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, ".till", "till.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if !Exists(dir) {
		t.Error("Exists = false after Initialize")
	}
	v, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}
}

func TestOpenRequiresInit(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Fatal("Open on empty dir should fail")
	}
}

func TestProductRoundTrip(t *testing.T) {
	db := newTestDB(t)

	p := product("P1", "Cola", "2.99")
	p.Description = "330ml can"
	p.Category = "drinks"
	if err := db.SaveProduct(&p); err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}

	got, err := db.GetProduct("P1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !got.Price.Equal(p.Price) || got.Name != "Cola" || got.Category != "drinks" || got.Stock != 10 {
		t.Errorf("GetProduct = %+v", got)
	}
	if !got.UpdatedAt.Equal(p.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, p.UpdatedAt)
	}

	if _, err := db.GetProduct("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProduct(missing) err = %v, want ErrNotFound", err)
	}
}

func TestReplaceProductsDropsStaleEntries(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveProducts([]models.Product{product("A", "Apple", "1.00"), product("B", "Bread", "2.50")}); err != nil {
		t.Fatalf("SaveProducts: %v", err)
	}
	if err := db.ReplaceProducts([]models.Product{product("B", "Bread", "2.75"), product("C", "Cheese", "4.00")}); err != nil {
		t.Fatalf("ReplaceProducts: %v", err)
	}

	list, err := db.ListProducts()
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if !reflect.DeepEqual(ids, []string{"B", "C"}) {
		t.Errorf("cache = %v, want [B C]", ids)
	}
	if !list[0].Price.Equal(decimal.RequireFromString("2.75")) {
		t.Errorf("B price = %s, want 2.75", list[0].Price)
	}
}

func TestReplaceProductsRollsBackOnError(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveProducts([]models.Product{product("A", "Apple", "1.00")}); err != nil {
		t.Fatalf("SaveProducts: %v", err)
	}
	// empty id fails mid-replace
	err := db.ReplaceProducts([]models.Product{product("B", "Bread", "2.00"), product("", "Bad", "1.00")})
	if err == nil {
		t.Fatal("expected error for product without id")
	}
	n, _ := db.CountProducts()
	if n != 1 {
		t.Errorf("cache size = %d after failed replace, want 1", n)
	}
	if _, err := db.GetProduct("A"); err != nil {
		t.Errorf("old cache entry lost: %v", err)
	}
}

func TestClearProducts(t *testing.T) {
	db := newTestDB(t)
	db.SaveProducts([]models.Product{product("A", "Apple", "1.00")})
	if err := db.ClearProducts(); err != nil {
		t.Fatalf("ClearProducts: %v", err)
	}
	if n, _ := db.CountProducts(); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	db := newTestDB(t)

	tx := sampleTransaction("T1")
	if err := db.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}
	got, err := db.GetTransaction("T1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !got.Date.Equal(tx.Date) {
		t.Errorf("Date = %v, want %v", got.Date, tx.Date)
	}
	if !got.Subtotal.Equal(tx.Subtotal) || !got.Tax.Equal(tx.Tax) || !got.Total.Equal(tx.Total) {
		t.Errorf("amounts = %s/%s/%s", got.Subtotal, got.Tax, got.Total)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 || !got.Items[0].UnitPrice.Equal(decimal.RequireFromString("2.99")) {
		t.Errorf("items = %+v", got.Items)
	}
	if got.Status != models.TxCompleted {
		t.Errorf("status = %s", got.Status)
	}

	if _, err := db.GetTransaction("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTransaction(nope) err = %v, want ErrNotFound", err)
	}
}

func TestTransactionListOrdering(t *testing.T) {
	db := newTestDB(t)

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"T2", "T1", "T3"} {
		tx := sampleTransaction(id)
		tx.Date = base.Add(time.Duration([]int{2, 1, 3}[i]) * time.Minute)
		if err := db.SaveTransaction(tx); err != nil {
			t.Fatalf("SaveTransaction(%s): %v", id, err)
		}
	}

	ids := func(txs []models.Transaction) []string {
		out := make([]string, len(txs))
		for i, tx := range txs {
			out[i] = tx.ID
		}
		return out
	}

	all, err := db.ListTransactions(0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if got := ids(all); !reflect.DeepEqual(got, []string{"T1", "T2", "T3"}) {
		t.Errorf("ListTransactions = %v", got)
	}

	recent, err := db.RecentTransactions(2)
	if err != nil {
		t.Fatalf("RecentTransactions: %v", err)
	}
	if got := ids(recent); !reflect.DeepEqual(got, []string{"T3", "T2"}) {
		t.Errorf("RecentTransactions(2) = %v", got)
	}
}

func TestSaveTransactionPendingIsAtomic(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveTransactionPending(sampleTransaction("T1")); err != nil {
		t.Fatalf("SaveTransactionPending: %v", err)
	}
	if err := db.SaveTransactionPending(sampleTransaction("T2")); err != nil {
		t.Fatalf("SaveTransactionPending: %v", err)
	}
	// re-saving keeps queue position
	if err := db.SaveTransactionPending(sampleTransaction("T1")); err != nil {
		t.Fatalf("SaveTransactionPending again: %v", err)
	}

	ids, err := db.PendingTransactionIDs()
	if err != nil {
		t.Fatalf("PendingTransactionIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"T1", "T2"}) {
		t.Errorf("pending = %v, want [T1 T2]", ids)
	}

	bad := sampleTransaction("")
	if err := db.SaveTransactionPending(bad); err == nil {
		t.Fatal("expected error for empty id")
	}
	if n, _ := db.CountPending(); n != 2 {
		t.Errorf("pending count = %d, want 2", n)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := db.SaveTransactionPending(sampleTransaction("T1")); err != nil {
		t.Fatalf("SaveTransactionPending: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.GetTransaction("T1"); err != nil {
		t.Errorf("transaction lost across reopen: %v", err)
	}
	if pending, _ := db.IsPending("T1"); !pending {
		t.Error("pending entry lost across reopen")
	}
}

func TestSyncStateLifecycle(t *testing.T) {
	db := newTestDB(t)

	s, err := db.GetSyncState()
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if s.LastSyncAt != nil || s.OnlineHint || len(s.PendingTransactionIDs) != 0 {
		t.Errorf("fresh state = %+v", s)
	}

	db.AddPendingTransaction("T1")
	db.AddPendingTransaction("T2")
	db.AddPendingTransaction("T3")
	if err := db.SetOnlineHint(true); err != nil {
		t.Fatalf("SetOnlineHint: %v", err)
	}

	at := time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC)
	if err := db.MarkDelivered("T2", &at); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	s, err = db.GetSyncState()
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if !reflect.DeepEqual(s.PendingTransactionIDs, []string{"T1", "T3"}) {
		t.Errorf("pending = %v, want [T1 T3]", s.PendingTransactionIDs)
	}
	if s.LastSyncAt == nil || !s.LastSyncAt.Equal(at) {
		t.Errorf("LastSyncAt = %v, want %v", s.LastSyncAt, at)
	}
	if !s.OnlineHint {
		t.Error("OnlineHint = false, want true")
	}
}

func TestUpdateSyncStateReplacesPendingSet(t *testing.T) {
	db := newTestDB(t)
	db.AddPendingTransaction("T1")
	db.AddPendingTransaction("T2")

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	err := db.UpdateSyncState(&models.SyncState{
		LastSyncAt:            &at,
		PendingTransactionIDs: []string{"T2", "T3"},
	})
	if err != nil {
		t.Fatalf("UpdateSyncState: %v", err)
	}

	s, _ := db.GetSyncState()
	if !reflect.DeepEqual(s.PendingTransactionIDs, []string{"T2", "T3"}) {
		t.Errorf("pending = %v, want [T2 T3]", s.PendingTransactionIDs)
	}
	if s.LastSyncAt == nil || !s.LastSyncAt.Equal(at) {
		t.Errorf("LastSyncAt = %v", s.LastSyncAt)
	}
}

func TestDeliveryFailures(t *testing.T) {
	db := newTestDB(t)
	db.AddPendingTransaction("T1")

	err := db.RecordDeliveryFailure(&models.DeliveryFailure{
		TransactionID: "T1",
		Attempts:      3,
		Kind:          models.FailureConnectivity,
		LastError:     "connection refused",
		Exhausted:     true,
	})
	if err != nil {
		t.Fatalf("RecordDeliveryFailure: %v", err)
	}

	f, err := db.GetDeliveryFailure("T1")
	if err != nil {
		t.Fatalf("GetDeliveryFailure: %v", err)
	}
	if f.Attempts != 3 || !f.Exhausted || f.Kind != models.FailureConnectivity || f.LastError != "connection refused" {
		t.Errorf("failure = %+v", f)
	}

	if err := db.RemovePendingTransaction("T1"); err != nil {
		t.Fatalf("RemovePendingTransaction: %v", err)
	}
	if _, err := db.GetDeliveryFailure("T1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failure survived removal: %v", err)
	}
}
