package web

import (
	"net/http"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := parseIntQuery(r, "page", 1)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	pageSize, err := parseIntQuery(r, "page_size", core.DefaultPageSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	active, err := parseBoolQuery(r, "active")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	result, err := s.service.ListProducts(r.Context(), core.ProductFilter{
		Page:        page,
		PageSize:    pageSize,
		SKU:         q.Get("sku"),
		Name:        q.Get("name"),
		Description: q.Get("description"),
		Active:      active,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in core.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.CreateProduct(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.GetProduct(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var patch core.ProductPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.UpdateProduct(r.Context(), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteProduct(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

// handleDeleteAllProducts removes the whole catalog.
func (s *Server) handleDeleteAllProducts(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.DeleteAllProducts(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]int64{"deleted_count": n})
}
