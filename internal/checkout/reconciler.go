package checkout

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/promo"
)

// PromoValidator is satisfied by *promo.Validator.
type PromoValidator interface {
	Validate(ctx context.Context, code string, oc promo.OrderContext) (pricing.Discount, error)
}

// Publisher receives checkout outcomes. Failures to publish are logged and
// never undo a committed order.
type Publisher interface {
	OrderCommitted(ctx context.Context, o CommittedOrder) error
	RefundRequired(ctx context.Context, r RefundRequest) error
}

type CommittedOrder struct {
	OrderID        string                     `json:"orderId"`
	IdempotencyKey string                     `json:"idempotencyKey"`
	UserID         string                     `json:"userId,omitempty"`
	PaymentMethod  order.PaymentMethod        `json:"paymentMethod"`
	PromoCode      string                     `json:"promoCode,omitempty"`
	Items          []pricing.ResolvedLineItem `json:"items"`
	Breakdown      pricing.Breakdown          `json:"breakdown"`
	CommittedAt    time.Time                  `json:"committedAt"`
}

// RefundRequest is raised when a card payment was captured but the order
// could not be committed.
type RefundRequest struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	UserID         string    `json:"userId,omitempty"`
	PaymentID      string    `json:"paymentId"`
	Amount         string    `json:"amount"`
	Reason         string    `json:"reason"`
	RequestedAt    time.Time `json:"requestedAt"`
}

type Deps struct {
	Catalog    catalog.Resolver
	Promos     PromoValidator
	Calculator pricing.Calculator
	Payments   payment.Collaborator
	Orders     order.Persistence
	Publisher  Publisher
	Logger     *log.Logger
	Now        func() time.Time
}

// Reconciler starts checkout attempts. It holds no per-attempt state and is
// shared by every session.
type Reconciler struct {
	catalog   catalog.Resolver
	promos    PromoValidator
	calc      pricing.Calculator
	payments  payment.Collaborator
	orders    order.Persistence
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
	intents   *intentIndex
}

func NewReconciler(d Deps) *Reconciler {
	r := &Reconciler{
		catalog:   d.Catalog,
		promos:    d.Promos,
		calc:      d.Calculator,
		payments:  d.Payments,
		orders:    d.Orders,
		publisher: d.Publisher,
		logger:    d.Logger,
		now:       d.Now,
		intents:   newIntentIndex(),
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard, "", 0)
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.publisher == nil {
		r.publisher = nopPublisher{}
	}
	return r
}

// Start opens a checkout attempt over store in Idle. userID is empty for
// guests.
func (r *Reconciler) Start(store *cart.Store, userID string) *Checkout {
	return &Checkout{
		r:      r,
		cart:   store,
		userID: userID,
		id:     uuid.NewString(),
		key:    uuid.NewString(),
		state:  StateIdle,
	}
}

// FindByClientSecret returns the attempt that created a payment intent,
// including attempts that were cancelled, re-keyed or dropped by their
// session since.
func (r *Reconciler) FindByClientSecret(secret string) (*Checkout, bool) {
	if secret == "" {
		return nil, false
	}
	return r.intents.get(secret)
}

type nopPublisher struct{}

func (nopPublisher) OrderCommitted(context.Context, CommittedOrder) error { return nil }
func (nopPublisher) RefundRequired(context.Context, RefundRequest) error  { return nil }
