package httpapi

import (
	"errors"
	"net/http"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/session"
)

var errForbidden = errors.New("session belongs to another user")

type errorResponse struct {
	Error          string              `json:"error"`
	Rejection      *checkout.Rejection `json:"rejection,omitempty"`
	PaymentFailure string              `json:"paymentFailure,omitempty"`
}

// writeError maps domain outcomes to status codes. Anything unrecognised is
// logged and reported as a bare 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *checkout.Rejection
	if errors.As(err, &rej) {
		status := http.StatusUnprocessableEntity
		if rej.Reason == checkout.ReasonCatalogDrift {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: rej.Error(), Rejection: rej})
		return
	}

	var pf *checkout.PaymentFailure
	if errors.As(err, &pf) {
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: pf.Error(), PaymentFailure: pf.Reason})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNoCheckout):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrUserMismatch), errors.Is(err, errForbidden):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, cart.ErrAlreadyReconciled),
		errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrPaymentCaptured):
		status = http.StatusConflict
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrIncompleteAddress),
		errors.Is(err, checkout.ErrInvalidPaymentMethod):
		status = http.StatusBadRequest
	case errors.Is(err, checkout.ErrEmptyCart):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrMirrorMissing):
		status = http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrUnavailable), errors.Is(err, catalog.ErrUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
