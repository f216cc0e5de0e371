package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/repository"
	"github.com/and161185/alurea-fulfillment/internal/service"
)

const maxListLimit = 500

type createOrderRequest struct {
	Name          string           `json:"name"`
	Address       string           `json:"address"`
	Contact       string           `json:"contact"`
	PaymentMethod string           `json:"payment_method"`
	Items         []model.LineItem `json:"items"`
	Latitude      float64          `json:"latitude"`
	Longitude     float64          `json:"longitude"`
}

type orderResponse struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customer_id,omitempty"`
	Name          string            `json:"name"`
	Address       string            `json:"address"`
	Contact       string            `json:"contact"`
	PaymentMethod string            `json:"payment_method"`
	Items         []model.LineItem  `json:"items"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Status        model.OrderStatus `json:"status"`
	Latitude      float64           `json:"latitude"`
	Longitude     float64           `json:"longitude"`
	ProofPhoto    string            `json:"proof_photo,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID.String(),
		Name:          o.Name,
		Address:       o.Address,
		Contact:       o.Contact,
		PaymentMethod: o.PaymentMethod,
		Items:         o.LineItems,
		TotalAmount:   o.TotalAmount,
		Status:        o.Status,
		Latitude:      o.DropOff.Lat,
		Longitude:     o.DropOff.Lon,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.CustomerID != uuid.Nil {
		resp.CustomerID = o.CustomerID.String()
	}
	if o.ProofRef != "" {
		resp.ProofPhoto = ProofsPath + o.ProofRef
	}
	return resp
}

func orderID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("order id: %w", errs.ErrInvalidArgument)
	}
	return id, nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromCtx(r.Context())
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.orders.Create(r.Context(), service.CreateOrderInput{
		CustomerID:    claims.UserID(),
		Name:          req.Name,
		Address:       req.Address,
		Contact:       req.Contact,
		PaymentMethod: req.PaymentMethod,
		Items:         req.Items,
		DropOff:       model.DropOff{Lat: req.Latitude, Lon: req.Longitude},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var f repository.OrderFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st, ok := model.ParseOrderStatus(v)
		if !ok {
			writeError(w, r, fmt.Errorf("status %q: %w", v, errs.ErrInvalidArgument))
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, r, fmt.Errorf("limit must be 1..%d: %w", maxListLimit, errs.ErrInvalidArgument))
			return
		}
		f.Limit = n
	}
	orders, err := s.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromCtx(r.Context())
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.orders.Delete(r.Context(), claims.Email, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Order deleted"})
}

func (s *Server) handleStartDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.orders.Advance(r.Context(), id, model.StatusDelivering, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// handleDeliverProof takes a multipart "photo" part and completes the order.
func (s *Server) handleDeliverProof(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	file, _, err := r.FormFile("photo")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, r, fmt.Errorf("upload exceeds %d bytes: %w", s.maxUpload, errs.ErrInvalidArgument))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeError(w, r, errs.ErrMissingProof)
		default:
			writeError(w, r, fmt.Errorf("read upload: %v: %w", err, errs.ErrInvalidArgument))
		}
		return
	}
	defer file.Close()

	o, err := s.orders.Deliver(r.Context(), id, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
