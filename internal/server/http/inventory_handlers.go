package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

type stockBody struct {
	ItemID string `json:"item_id"`
	Stock  int    `json:"stock"`
}

func itemID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("itemId"))
	if id == "" {
		return "", fmt.Errorf("item id: %w", errs.ErrInvalidArgument)
	}
	return id, nil
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.ledger.Available(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockBody{ItemID: id, Stock: n})
}

// handleSetStock overwrites the available quantity (administrative restock).
func (s *Server) handleSetStock(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Stock *int `json:"stock"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Stock == nil || *req.Stock < 0 {
		writeError(w, r, fmt.Errorf("stock must be a non-negative integer: %w", errs.ErrInvalidArgument))
		return
	}
	if err := s.ledger.SetStock(r.Context(), id, *req.Stock); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockBody{ItemID: id, Stock: *req.Stock})
}
