package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/inventory"
	"github.com/and161185/alurea-fulfillment/internal/logging"
)

const maxJSONBody = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	ItemID string `json:"item_id,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, errs.ErrInvalidArgument)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to status codes. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	body := errorBody{Error: msg}

	var se *inventory.StockError
	if errors.As(err, &se) {
		body.ItemID = se.ItemID
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInsufficientStock):
		return http.StatusConflict, "insufficient stock"
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "order was modified concurrently"
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	case errors.Is(err, errs.ErrMissingProof):
		return http.StatusUnprocessableEntity, "proof of delivery is required"
	case errors.Is(err, errs.ErrMismatch):
		return http.StatusBadRequest, "invalid code"
	case errors.Is(err, errs.ErrExpired):
		return http.StatusBadRequest, "code expired"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrNotVerified):
		return http.StatusForbidden, "email not verified"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
