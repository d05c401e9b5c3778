package api

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleTxBody(userID string) TransactionBody {
	return TransactionBody{
		ID:       "tx-1",
		UserID:   userID,
		Date:     "2026-03-01T09:30:00Z",
		Subtotal: dec("5.98"),
		Tax:      dec("0.30"),
		Total:    dec("6.28"),
		Status:   "completed",
	}
}

func sampleItems() ItemsBody {
	return ItemsBody{Items: []ItemBody{
		{LineNo: 1, ProductID: "p1", Name: "Coffee", UnitPrice: dec("2.99"), Quantity: 2},
	}}
}

func TestHealthz(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil)
	got := ReadJSON[map[string]string](t, resp)
	if got["status"] != "ok" {
		t.Fatalf("health = %v", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil)
	resp.Body.Close()
	if _, err := uuid.Parse(resp.Header.Get("X-Request-ID")); err != nil {
		t.Fatalf("X-Request-ID = %q", resp.Header.Get("X-Request-ID"))
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestHarness(t)
	AssertErrorResponse(t, h.Do("GET", "/v1/products", "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	AssertErrorResponse(t, h.Do("GET", "/v1/products", "till_live_bogus", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestMe(t *testing.T) {
	h := newTestHarness(t)
	uid, tok := h.CreateUser("cashier@shop.test")

	var me MeResponse
	h.DoJSON("GET", "/v1/me", tok, nil, &me)
	if me.UserID != uid || me.Email != "cashier@shop.test" {
		t.Fatalf("me = %+v", me)
	}
}

func TestProductsCRUD(t *testing.T) {
	h := newTestHarness(t)
	_, tok := h.CreateUser("admin@shop.test")

	h.DoJSON("PUT", "/v1/products/p2", tok, ProductBody{Name: "Tea", Price: dec("1.50"), Stock: 3}, nil)
	h.DoJSON("PUT", "/v1/products/p1", tok, ProductBody{Name: "Coffee", Price: dec("2.99"), Stock: 10}, nil)

	var list ProductsResponse
	h.DoJSON("GET", "/v1/products", tok, nil, &list)
	if len(list.Products) != 2 || list.Products[0].ID != "p1" {
		t.Fatalf("products = %+v", list.Products)
	}
	if !list.Products[0].Price.Equal(dec("2.99")) {
		t.Errorf("price = %s", list.Products[0].Price)
	}

	AssertStatus(t, h.Do("DELETE", "/v1/products/p2", tok, nil), http.StatusNoContent)
	AssertErrorResponse(t, h.Do("GET", "/v1/products/p2", tok, nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestProductValidationRejected(t *testing.T) {
	h := newTestHarness(t)
	_, tok := h.CreateUser("admin@shop.test")

	resp := h.Do("PUT", "/v1/products/p1", tok, ProductBody{Name: "Coffee", Price: dec("-1")})
	AssertErrorResponse(t, resp, http.StatusUnprocessableEntity, ErrCodeValidation)

	resp = h.Do("PUT", "/v1/products/p1", tok, ProductBody{ID: "other", Name: "Coffee", Price: dec("1")})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestTransactionUpsertAndItems(t *testing.T) {
	h := newTestHarness(t)
	uid, tok := h.CreateUser("cashier@shop.test")

	// Both writes twice: the result must not change.
	for i := 0; i < 2; i++ {
		h.DoJSON("PUT", "/v1/transactions/tx-1", tok, sampleTxBody(uid), nil)
		h.DoJSON("PUT", "/v1/transactions/tx-1/items", tok, sampleItems(), nil)
	}

	var got TransactionResponse
	h.DoJSON("GET", "/v1/transactions/tx-1", tok, nil, &got)
	if got.UserID != uid || !got.Total.Equal(dec("6.28")) {
		t.Fatalf("transaction = %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("items = %+v", got.Items)
	}

	n, _ := h.Store.CountTransactions(uid)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	if snap := h.Server.Metrics().Snapshot(); snap.TransactionsUpserted != 2 || snap.ItemsUpserted != 2 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestTransactionUserMismatch(t *testing.T) {
	h := newTestHarness(t)
	_, tok := h.CreateUser("cashier@shop.test")
	otherID, _ := h.CreateUser("other@shop.test")

	resp := h.Do("PUT", "/v1/transactions/tx-1", tok, sampleTxBody(otherID))
	AssertErrorResponse(t, resp, http.StatusForbidden, ErrCodeForbidden)
}

func TestTransactionOwnedByAnotherUser(t *testing.T) {
	h := newTestHarness(t)
	uid1, tok1 := h.CreateUser("one@shop.test")
	uid2, tok2 := h.CreateUser("two@shop.test")

	h.DoJSON("PUT", "/v1/transactions/tx-1", tok1, sampleTxBody(uid1), nil)

	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/tx-1", tok2, sampleTxBody(uid2)), http.StatusForbidden, ErrCodeForbidden)
	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/tx-1/items", tok2, sampleItems()), http.StatusForbidden, ErrCodeForbidden)
	AssertErrorResponse(t, h.Do("GET", "/v1/transactions/tx-1", tok2, nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestItemsForMissingTransaction(t *testing.T) {
	h := newTestHarness(t)
	_, tok := h.CreateUser("cashier@shop.test")
	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/nope/items", tok, sampleItems()), http.StatusNotFound, ErrCodeNotFound)
}

func TestTransactionValidation(t *testing.T) {
	h := newTestHarness(t)
	uid, tok := h.CreateUser("cashier@shop.test")

	bad := sampleTxBody(uid)
	bad.Total = dec("7.00")
	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/tx-1", tok, bad), http.StatusUnprocessableEntity, ErrCodeValidation)

	bad = sampleTxBody(uid)
	bad.Date = "yesterday"
	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/tx-1", tok, bad), http.StatusBadRequest, ErrCodeBadRequest)

	h.DoJSON("PUT", "/v1/transactions/tx-1", tok, sampleTxBody(uid), nil)
	dup := ItemsBody{Items: []ItemBody{
		{LineNo: 1, ProductID: "p1", Name: "a", UnitPrice: dec("1"), Quantity: 1},
		{LineNo: 1, ProductID: "p2", Name: "b", UnitPrice: dec("1"), Quantity: 1},
	}}
	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/tx-1/items", tok, dup), http.StatusUnprocessableEntity, ErrCodeValidation)

	gap := ItemsBody{Items: []ItemBody{
		{LineNo: 1, ProductID: "p1", Name: "a", UnitPrice: dec("1"), Quantity: 1},
		{LineNo: 3, ProductID: "p2", Name: "b", UnitPrice: dec("1"), Quantity: 1},
	}}
	AssertErrorResponse(t, h.Do("PUT", "/v1/transactions/tx-1/items", tok, gap), http.StatusUnprocessableEntity, ErrCodeValidation)
}

func TestInvalidJSON(t *testing.T) {
	h := newTestHarness(t)
	_, tok := h.CreateUser("cashier@shop.test")
	resp := h.Do("PUT", "/v1/transactions/tx-1", tok, "not an object")
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	h.Do("GET", "/healthz", "", nil).Body.Close()
	snap := ReadJSON[MetricsSnapshot](t, h.Do("GET", "/metricz", "", nil))
	if snap.Requests < 1 {
		t.Fatalf("requests = %d", snap.Requests)
	}
}
