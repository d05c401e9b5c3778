package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	gosync "sync"
	"time"

	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRejected     = errors.New("rejected")
)

// Client is an HTTP client for the till-sync server. It implements the
// remote store side of the sync engine.
type Client struct {
	BaseURL string
	APIKey  string
	UserID  string
	HTTP    *http.Client

	identityMu gosync.Mutex
}

// New creates a new sync client.
func New(baseURL, apiKey, userID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		UserID:  userID,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirror internal/api, independently defined) ---

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// MeResponse is the response from GET /v1/me.
type MeResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// ProductBody is a catalog entry on the wire.
type ProductBody struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	ImageRef    string          `json:"image_ref"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

// ProductsResponse is the response from GET /v1/products.
type ProductsResponse struct {
	Products []ProductBody `json:"products"`
}

// TransactionBody is the body for PUT /v1/transactions/{id}. Items travel
// separately.
type TransactionBody struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Date     string          `json:"date"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Status   string          `json:"status"`
}

// ItemBody is one line item on the wire. LineNo is the upsert key within
// a transaction.
type ItemBody struct {
	LineNo    int             `json:"line_no"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// ItemsBody is the body for PUT /v1/transactions/{id}/items.
type ItemsBody struct {
	Items []ItemBody `json:"items"`
}

// TransactionResponse is the response from GET /v1/transactions/{id}.
type TransactionResponse struct {
	TransactionBody
	Items     []ItemBody `json:"items"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// --- Health & identity ---

// HealthCheck calls the health endpoint.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe reports whether the server is reachable and healthy.
func (c *Client) Probe(ctx context.Context) error {
	h, err := c.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if h.Status != "ok" {
		return fmt.Errorf("server unhealthy: %s", h.Status)
	}
	return nil
}

// Me returns the identity behind the API key.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, "GET", "/v1/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentUserIdentity returns the signed-in user. It uses the stored user id
// when present and otherwise asks the server once. With no API key it
// returns "" and no error.
func (c *Client) CurrentUserIdentity(ctx context.Context) (string, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.UserID != "" {
		return c.UserID, nil
	}
	if c.APIKey == "" {
		return "", nil
	}
	me, err := c.Me(ctx)
	if err != nil {
		return "", err
	}
	c.UserID = me.UserID
	return c.UserID, nil
}

// --- Catalog ---

// FetchAllProducts returns the whole remote catalog.
func (c *Client) FetchAllProducts(ctx context.Context) ([]models.Product, error) {
	var resp ProductsResponse
	if err := c.do(ctx, "GET", "/v1/products", nil, &resp); err != nil {
		return nil, err
	}
	products := make([]models.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		products = append(products, p.toModel())
	}
	return products, nil
}

// PutProduct upserts a catalog entry.
func (c *Client) PutProduct(ctx context.Context, p *models.Product) error {
	return c.do(ctx, "PUT", "/v1/products/"+url.PathEscape(p.ID), productBody(p), nil)
}

// DeleteProduct removes a catalog entry.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/v1/products/"+url.PathEscape(id), nil, nil)
}

// --- Transactions ---

// UpsertTransaction writes the transaction row for userID.
func (c *Client) UpsertTransaction(ctx context.Context, userID string, tx *models.Transaction) error {
	body := TransactionBody{
		ID:       tx.ID,
		UserID:   userID,
		Date:     tx.Date.UTC().Format(time.RFC3339Nano),
		Subtotal: tx.Subtotal,
		Tax:      tx.Tax,
		Total:    tx.Total,
		Status:   string(tx.Status),
	}
	return c.do(ctx, "PUT", "/v1/transactions/"+url.PathEscape(tx.ID), body, nil)
}

// UpsertTransactionItems writes the line items of an existing transaction.
// Lines are numbered from 1 in the given order.
func (c *Client) UpsertTransactionItems(ctx context.Context, txID string, items []models.TransactionItem) error {
	body := ItemsBody{Items: make([]ItemBody, 0, len(items))}
	for i, it := range items {
		body.Items = append(body.Items, ItemBody{
			LineNo:    i + 1,
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return c.do(ctx, "PUT", "/v1/transactions/"+url.PathEscape(txID)+"/items", body, nil)
}

// GetTransaction fetches a transaction with its items.
func (c *Client) GetTransaction(ctx context.Context, id string) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.do(ctx, "GET", "/v1/transactions/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func productBody(p *models.Product) ProductBody {
	b := ProductBody{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Category:    p.Category,
		ImageRef:    p.ImageRef,
	}
	if !p.UpdatedAt.IsZero() {
		b.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return b
}

func (b ProductBody) toModel() models.Product {
	p := models.Product{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Price:       b.Price,
		Stock:       b.Stock,
		Category:    b.Category,
		ImageRef:    b.ImageRef,
	}
	if t, err := time.Parse(time.RFC3339Nano, b.UpdatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p
}

// --- HTTP helpers ---

// APIError is a structured error returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// StatusCode returns the HTTP status of the response.
func (e *APIError) StatusCode() int { return e.Status }

// Unwrap maps the status onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= 400 && e.Status < 500:
		return ErrRejected
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Code != "" {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
