package api

import (
	"net/http"
	"time"

	"github.com/marcus/till/internal/serverdb"
	"github.com/shopspring/decimal"
)

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

// ProductsResponse is the JSON response for GET /v1/products.
type ProductsResponse struct {
	Products []ProductBody `json:"products"`
}

func toProductBody(p *serverdb.Product) ProductBody {
	return ProductBody{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Category:    p.Category,
		ImageRef:    p.ImageRef,
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// handleListProducts handles GET /v1/products.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts()
	if err != nil {
		writeStoreError(w, r, "list products", err)
		return
	}
	resp := ProductsResponse{Products: make([]ProductBody, 0, len(products))}
	for i := range products {
		resp.Products = append(resp.Products, toProductBody(&products[i]))
	}
	s.metrics.RecordCatalogRead()
	writeJSON(w, http.StatusOK, resp)
}

// handleGetProduct handles GET /v1/products/{id}.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProduct(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductBody(p))
}

// handlePutProduct handles PUT /v1/products/{id}.
func (s *Server) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body ProductBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ID != "" && body.ID != id {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body id does not match path")
		return
	}

	p := &serverdb.Product{
		ID:          id,
		Name:        body.Name,
		Description: body.Description,
		Price:       body.Price,
		Stock:       body.Stock,
		Category:    body.Category,
		ImageRef:    body.ImageRef,
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}
	if err := s.store.UpsertProduct(p); err != nil {
		writeStoreError(w, r, "upsert product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductBody(p))
}

// handleDeleteProduct handles DELETE /v1/products/{id}.
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProduct(r.PathValue("id")); err != nil {
		writeStoreError(w, r, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
