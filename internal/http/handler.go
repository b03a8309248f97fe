package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/middleware"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/promo"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/session"
)

// PromoAdmin is satisfied by *promo.PostgresStore.
type PromoAdmin interface {
	Upsert(ctx context.Context, c promo.Code) error
}

type Deps struct {
	Sessions   *session.Registry
	Catalog    catalog.Resolver
	Calculator pricing.Calculator
	// PromoAdmin is optional; without it the admin route is not mounted.
	PromoAdmin PromoAdmin
	Logger     *log.Logger
}

type Handler struct {
	sessions   *session.Registry
	catalog    catalog.Resolver
	calc       pricing.Calculator
	promoAdmin PromoAdmin
	logger     *log.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{
		sessions:   d.Sessions,
		catalog:    d.Catalog,
		calc:       d.Calculator,
		promoAdmin: d.PromoAdmin,
		logger:     logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "checkout-service"})
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: s.ID})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.session(w, r); !ok {
		return
	}
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + middleware.HeaderUserID})
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	entries, err := h.sessions.Login(r.Context(), s.ID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Entries: entries, Mode: s.Cart.Mode().String(), SyncPending: s.Cart.SyncPending()})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Logout(r.Context(), s.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cartResponse struct {
	Entries     []cart.Entry       `json:"entries"`
	Mode        string             `json:"mode"`
	SyncPending bool               `json:"syncPending"`
	Preview     *pricing.Breakdown `json:"preview,omitempty"`
}

// GetCart returns the entries with a preview breakdown at current catalog
// prices. The preview is omitted when the catalog cannot be reached.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	entries := s.Cart.Entries()
	resp := cartResponse{Entries: entries, Mode: s.Cart.Mode().String(), SyncPending: s.Cart.SyncPending()}

	if len(entries) > 0 && h.catalog != nil {
		items, err := catalog.ResolveEntries(r.Context(), h.catalog, entries)
		if err != nil {
			h.logger.Printf("session=%s cart preview: %v", s.ID, err)
		} else {
			b := h.calc.ComputeBreakdown(items, nil).Rounded()
			resp.Preview = &b
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type itemRequest struct {
	ProductID int64  `json:"productId"`
	Variant   string `json:"variant"`
	Quantity  *int   `json:"quantity,omitempty"`
}

func (req itemRequest) key() cart.LineItemKey {
	return cart.LineItemKey{ProductID: req.ProductID, Variant: strings.TrimSpace(req.Variant)}
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, req, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	entry := s.Cart.AddItem(req.ProductID, req.key().Variant)
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	s, req, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	if req.Quantity == nil {
		writeBadRequest(w, "quantity is required")
		return
	}
	if err := s.Cart.SetQuantity(req.key(), *req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart.Entry{Key: req.key(), Quantity: s.Cart.Quantity(req.key())})
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, req, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	s.Cart.RemoveItem(req.key())
	writeJSON(w, http.StatusOK, cart.Entry{Key: req.key(), Quantity: s.Cart.Quantity(req.key())})
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Cart.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type checkoutResponse struct {
	CheckoutID     string              `json:"checkoutId"`
	State          checkout.State      `json:"state"`
	IdempotencyKey string              `json:"idempotencyKey"`
	Review         checkout.Review     `json:"review"`
	Breakdown      pricing.Breakdown   `json:"breakdown"`
	OrderID        string              `json:"orderId,omitempty"`
	ClientSecret   string              `json:"clientSecret,omitempty"`
	LastRejection  *checkout.Rejection `json:"lastRejection,omitempty"`
	PaymentFailure string              `json:"paymentFailure,omitempty"`
}

func newCheckoutResponse(co *checkout.Checkout) checkoutResponse {
	review := co.Review()
	return checkoutResponse{
		CheckoutID:     co.ID(),
		State:          co.State(),
		IdempotencyKey: co.IdempotencyKey(),
		Review:         review,
		Breakdown:      review.Breakdown.Rounded(),
		OrderID:        co.OrderID(),
		ClientSecret:   co.ClientSecret(),
		LastRejection:  co.LastRejection(),
		PaymentFailure: co.PaymentFailure(),
	}
}

// BeginCheckout starts an attempt, or refreshes the live one against the
// catalog.
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	co, err := h.sessions.StartCheckout(s.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := co.Begin(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	co, ok := h.checkout(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	co, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if err := co.Cancel(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

func (h *Handler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	co, ok := h.checkout(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Code) == "" {
		writeBadRequest(w, "code is required")
		return
	}
	if _, err := co.ApplyPromo(r.Context(), body.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

func (h *Handler) RemovePromo(w http.ResponseWriter, r *http.Request) {
	co, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if _, err := co.RemovePromo(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	co, ok := h.checkout(w, r)
	if !ok {
		return
	}
	var req checkout.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	if _, err := co.PlaceOrder(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	co, ok := h.checkout(w, r)
	if !ok {
		return
	}
	var body struct {
		PaymentDetails payment.Details `json:"paymentDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	if _, err := co.ConfirmPayment(r.Context(), body.PaymentDetails); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(co))
}

type promoRequest struct {
	DiscountType         pricing.DiscountType `json:"discountType"`
	DiscountValue        decimal.Decimal      `json:"discountValue"`
	MinOrderAmount       decimal.Decimal      `json:"minOrderAmount"`
	MaxDiscountAmount    decimal.NullDecimal  `json:"maxDiscountAmount"`
	UsageLimit           *int                 `json:"usageLimit"`
	ValidFrom            time.Time            `json:"validFrom"`
	ValidUntil           time.Time            `json:"validUntil"`
	IsActive             *bool                `json:"isActive"`
	ApplicableCategories []string             `json:"applicableCategories"`
}

func (h *Handler) UpsertPromo(w http.ResponseWriter, r *http.Request) {
	code := promo.NormalizeCode(chi.URLParam(r, "code"))
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	switch {
	case code == "":
		writeBadRequest(w, "code is required")
		return
	case !req.DiscountType.Valid():
		writeBadRequest(w, "discountType must be percentage or fixed")
		return
	case req.DiscountValue.IsNegative() || req.MinOrderAmount.IsNegative():
		writeBadRequest(w, "amounts must not be negative")
		return
	case req.ValidUntil.Before(req.ValidFrom):
		writeBadRequest(w, "validUntil is before validFrom")
		return
	case req.UsageLimit != nil && *req.UsageLimit < 0:
		writeBadRequest(w, "usageLimit must not be negative")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	c := promo.Code{
		Code:                 code,
		DiscountType:         req.DiscountType,
		DiscountValue:        req.DiscountValue,
		MinOrderAmount:       req.MinOrderAmount,
		MaxDiscountAmount:    req.MaxDiscountAmount,
		UsageLimit:           req.UsageLimit,
		ValidFrom:            req.ValidFrom,
		ValidUntil:           req.ValidUntil,
		IsActive:             active,
		ApplicableCategories: req.ApplicableCategories,
	}
	if err := h.promoAdmin.Upsert(r.Context(), c); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// session loads the path session and checks the caller may act on it: a
// logged-in session only answers to its own user.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if owner := s.UserID(); owner != "" {
		user, ok := middleware.CurrentUser(r.Context())
		if !ok || user.ID != owner {
			h.writeError(w, r, errForbidden)
			return nil, false
		}
	}
	return s, true
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) (*checkout.Checkout, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, false
	}
	co, err := s.Checkout()
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return co, true
}

func (h *Handler) itemRequest(w http.ResponseWriter, r *http.Request) (*session.Session, itemRequest, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, itemRequest{}, false
	}
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json")
		return nil, itemRequest{}, false
	}
	if req.ProductID <= 0 {
		writeBadRequest(w, "productId must be positive")
		return nil, itemRequest{}, false
	}
	return s, req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
