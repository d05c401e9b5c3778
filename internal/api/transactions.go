package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/till/internal/serverdb"
	"github.com/shopspring/decimal"
)

// TransactionBody is the JSON body for PUT /v1/transactions/{id}.
type TransactionBody struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Date     string          `json:"date"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Status   string          `json:"status"`
}

// ItemBody is one line item on the wire.
type ItemBody struct {
	LineNo    int             `json:"line_no"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// ItemsBody is the JSON body for PUT /v1/transactions/{id}/items.
type ItemsBody struct {
	Items []ItemBody `json:"items"`
}

// TransactionResponse is the JSON response for transaction reads and writes.
type TransactionResponse struct {
	TransactionBody
	Items     []ItemBody `json:"items"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

var validTxStatus = map[string]bool{"completed": true, "voided": true}

func (b *TransactionBody) validate() error {
	switch {
	case b.Subtotal.IsNegative() || b.Tax.IsNegative() || b.Total.IsNegative():
		return errors.New("amounts must not be negative")
	case !b.Subtotal.Add(b.Tax).Equal(b.Total):
		return errors.New("total must equal subtotal plus tax")
	case !validTxStatus[b.Status]:
		return fmt.Errorf("unknown status %q", b.Status)
	}
	return nil
}

func validateItems(items []ItemBody) error {
	seen := make(map[int]bool, len(items))
	for i, it := range items {
		switch {
		case it.LineNo <= 0:
			return fmt.Errorf("item %d: line_no must be positive", i)
		case seen[it.LineNo]:
			return fmt.Errorf("item %d: duplicate line_no %d", i, it.LineNo)
		case it.ProductID == "":
			return fmt.Errorf("item %d: product_id is required", i)
		case it.Quantity <= 0:
			return fmt.Errorf("item %d: quantity must be positive", i)
		case it.UnitPrice.IsNegative():
			return fmt.Errorf("item %d: unit_price must not be negative", i)
		}
		seen[it.LineNo] = true
	}
	for n := 1; n <= len(items); n++ {
		if !seen[n] {
			return fmt.Errorf("line_no must run from 1 to %d without gaps, missing %d", len(items), n)
		}
	}
	return nil
}

func toTransactionResponse(t *serverdb.Transaction, items []serverdb.TransactionItem) TransactionResponse {
	resp := TransactionResponse{
		TransactionBody: TransactionBody{
			ID:       t.ID,
			UserID:   t.UserID,
			Date:     t.Date.UTC().Format(time.RFC3339Nano),
			Subtotal: t.Subtotal,
			Tax:      t.Tax,
			Total:    t.Total,
			Status:   t.Status,
		},
		Items:     make([]ItemBody, 0, len(items)),
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, it := range items {
		resp.Items = append(resp.Items, ItemBody{
			LineNo:    it.LineNo,
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return resp
}

// handlePutTransaction handles PUT /v1/transactions/{id}.
func (s *Server) handlePutTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user := getUserFromContext(r.Context())

	var body TransactionBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ID != "" && body.ID != id {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body id does not match path")
		return
	}
	if body.UserID != user.UserID {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "user_id does not match the authenticated user")
		return
	}
	date, err := time.Parse(time.RFC3339Nano, body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "date must be RFC 3339")
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}

	t := &serverdb.Transaction{
		ID:       id,
		UserID:   user.UserID,
		Date:     date.UTC(),
		Subtotal: body.Subtotal,
		Tax:      body.Tax,
		Total:    body.Total,
		Status:   body.Status,
	}
	if err := s.store.UpsertTransaction(t); err != nil {
		writeStoreError(w, r, "upsert transaction", err)
		return
	}
	s.metrics.RecordTransactionUpsert()
	logFor(r.Context()).Debug("transaction upserted", "tx", id)

	stored, items, err := s.store.GetTransaction(id)
	if err != nil {
		writeStoreError(w, r, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(stored, items))
}

// handlePutTransactionItems handles PUT /v1/transactions/{id}/items.
func (s *Server) handlePutTransactionItems(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user := getUserFromContext(r.Context())

	var body ItemsBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := validateItems(body.Items); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}

	items := make([]serverdb.TransactionItem, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, serverdb.TransactionItem{
			LineNo:    it.LineNo,
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	if err := s.store.UpsertTransactionItems(user.UserID, id, items); err != nil {
		writeStoreError(w, r, "upsert items", err)
		return
	}
	s.metrics.RecordItemsUpserted(int64(len(items)))

	stored, storedItems, err := s.store.GetTransaction(id)
	if err != nil {
		writeStoreError(w, r, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(stored, storedItems))
}

// handleGetTransaction handles GET /v1/transactions/{id}. Transactions owned
// by other users read as not found.
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user := getUserFromContext(r.Context())

	t, items, err := s.store.GetTransaction(id)
	if err != nil {
		writeStoreError(w, r, "get transaction", err)
		return
	}
	if t.UserID != user.UserID {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(t, items))
}
