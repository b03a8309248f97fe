package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/promo"
)

// Review is the resolved snapshot shown to the customer. Items only holds
// available lines; lines the catalog no longer sells are in Removed.
type Review struct {
	Items          []pricing.ResolvedLineItem `json:"items"`
	Removed        []pricing.ResolvedLineItem `json:"removed,omitempty"`
	PromoCode      string                     `json:"promoCode,omitempty"`
	Discount       *pricing.Discount          `json:"discount,omitempty"`
	PromoRejection *promo.Rejection           `json:"promoRejection,omitempty"`
	Breakdown      pricing.Breakdown          `json:"breakdown"`
}

type PlaceOrderRequest struct {
	ShippingAddress order.Address `json:"shippingAddress"`
	// BillingAddress defaults to the shipping address when nil.
	BillingAddress *order.Address      `json:"billingAddress,omitempty"`
	PaymentMethod  order.PaymentMethod `json:"paymentMethod"`
}

type Result struct {
	CheckoutID     string            `json:"checkoutId"`
	State          State             `json:"state"`
	IdempotencyKey string            `json:"idempotencyKey"`
	OrderID        string            `json:"orderId,omitempty"`
	ClientSecret   string            `json:"clientSecret,omitempty"`
	Breakdown      pricing.Breakdown `json:"breakdown"`
}

// Checkout is one attempt to turn a cart into an order. Every operation
// holds the attempt's lock for its whole duration, network calls included,
// so steps of one attempt never interleave.
type Checkout struct {
	r      *Reconciler
	cart   *cart.Store
	userID string
	id     string

	mu             sync.Mutex
	state          State
	key            string
	review         Review
	promoCode      string
	discount       *pricing.Discount
	snapshot       []pricing.ResolvedLineItem
	intent         order.Intent
	clientSecret   string
	captured       *payment.Result
	orderID        string
	lastRejection  *Rejection
	paymentFailure string
	// intents created by this attempt that it no longer waits on
	abandoned map[string]abandonedIntent
	refunded  map[string]struct{}
}

// Begin resolves the cart against the catalog and moves to Reviewing. It
// also refreshes an existing review and restarts an attempt that was
// rolled back.
func (c *Checkout) Begin(ctx context.Context) (Review, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CanTransitionTo(StateReviewing) {
		return Review{}, ErrInvalidTransition
	}

	items, err := catalog.ResolveEntries(ctx, c.r.catalog, c.cart.Entries())
	if err != nil {
		return Review{}, fmt.Errorf("resolve cart: %w", err)
	}

	if c.state == StateRolledBack {
		c.resetPaymentLocked()
		c.paymentFailure = ""
	}
	c.lastRejection = nil
	c.refreshLocked(ctx, items)
	c.moveLocked(StateReviewing)
	return c.review, nil
}

// ApplyPromo previews code against the reviewed items. A rejected code is
// reported in Review.PromoRejection and leaves any applied code in place.
func (c *Checkout) ApplyPromo(ctx context.Context, code string) (Review, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReviewing {
		return Review{}, ErrInvalidTransition
	}

	discount, err := c.r.promos.Validate(ctx, code, promo.OrderContextFor(c.review.Items, c.r.now()))
	if rej, ok := promo.AsRejection(err); ok {
		c.review.PromoRejection = rej
		return c.review, nil
	}
	if err != nil {
		return Review{}, fmt.Errorf("validate promo: %w", err)
	}

	c.promoCode = promo.NormalizeCode(code)
	c.discount = &discount
	c.review = c.priceLocked(c.reviewedLocked())
	return c.review, nil
}

func (c *Checkout) RemovePromo() (Review, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReviewing {
		return Review{}, ErrInvalidTransition
	}
	c.promoCode = ""
	c.discount = nil
	c.review = c.priceLocked(c.reviewedLocked())
	return c.review, nil
}

// PlaceOrder runs the authoritative checks and submits. Cash on delivery
// commits immediately; card payments stop in AwaitingPayment with a client
// secret for the payment form. A *Rejection means the checkout went back to
// Reviewing. Any other error leaves it in Submitting, and calling PlaceOrder
// again retries under the same idempotency key.
func (c *Checkout) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateCommitted:
		return c.resultLocked(), nil
	case StateReviewing, StateSubmitting:
	default:
		return Result{}, ErrInvalidTransition
	}

	if len(c.review.Items) == 0 {
		return Result{}, ErrEmptyCart
	}
	if !req.ShippingAddress.Complete() {
		return Result{}, ErrIncompleteAddress
	}
	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		if !req.BillingAddress.Complete() {
			return Result{}, fmt.Errorf("billing: %w", ErrIncompleteAddress)
		}
		billing = *req.BillingAddress
	}
	if !req.PaymentMethod.Valid() {
		return Result{}, ErrInvalidPaymentMethod
	}

	if c.state == StateReviewing {
		c.moveLocked(StateSubmitting)
	}

	fresh, err := catalog.ResolveEntries(ctx, c.r.catalog, c.cart.Entries())
	if err != nil {
		return c.resultLocked(), fmt.Errorf("resolve cart: %w", err)
	}
	if changed := changedKeys(c.reviewedLocked(), fresh); len(changed) > 0 {
		return Result{}, c.rejectDriftLocked(ctx, fresh, changed)
	}

	var discount *pricing.Discount
	if c.promoCode != "" {
		d, err := c.r.promos.Validate(ctx, c.promoCode, promo.OrderContextFor(fresh, c.r.now()))
		if rej, ok := promo.AsRejection(err); ok {
			return Result{}, c.rejectPromoLocked(fresh, rej)
		}
		if err != nil {
			return c.resultLocked(), fmt.Errorf("validate promo: %w", err)
		}
		discount = &d
	}

	c.discount = discount
	c.snapshot = fresh
	c.intent = order.Intent{
		IdempotencyKey:  c.key,
		UserID:          c.userID,
		Items:           available(fresh),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		PromoCode:       c.promoCode,
		Breakdown:       c.r.calc.ComputeBreakdown(fresh, discount).Rounded(),
		PaymentMethod:   req.PaymentMethod,
	}

	if req.PaymentMethod == order.PaymentCashOnDelivery {
		return c.persistLocked(ctx)
	}

	secret, err := c.r.payments.CreateIntent(ctx, c.intent.Breakdown.Total, c.key)
	if err != nil {
		return c.resultLocked(), fmt.Errorf("create payment intent: %w", err)
	}
	c.clientSecret = secret
	c.r.intents.put(secret, c, c.r.now())
	c.moveLocked(StateAwaitingPayment)
	return c.resultLocked(), nil
}

// ConfirmPayment re-checks the promo, then confirms the card payment. A
// declined payment returns *PaymentFailure and rolls the attempt back with
// the cart intact.
func (c *Checkout) ConfirmPayment(ctx context.Context, details payment.Details) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCommitted {
		return c.resultLocked(), nil
	}
	if c.state != StateAwaitingPayment {
		return Result{}, ErrInvalidTransition
	}
	if c.captured != nil {
		return c.settleLocked(ctx, *c.captured)
	}

	if c.promoCode != "" {
		_, err := c.r.promos.Validate(ctx, c.promoCode, promo.OrderContextFor(c.snapshot, c.r.now()))
		if rej, ok := promo.AsRejection(err); ok {
			return Result{}, c.rejectPromoLocked(c.snapshot, rej)
		}
		if err != nil {
			return c.resultLocked(), fmt.Errorf("validate promo: %w", err)
		}
	}

	res, err := c.r.payments.Confirm(ctx, c.clientSecret, details)
	if err != nil {
		return c.resultLocked(), fmt.Errorf("confirm payment: %w", err)
	}
	return c.settleLocked(ctx, res)
}

// HandlePaymentResult applies a payment outcome that arrived out of band.
// A repeated success for a committed attempt is ignored. A success for an
// intent the attempt has walked away from, by cancelling, rolling back or
// re-keying, is refunded and reported as ErrPaymentAbandoned.
func (c *Checkout) HandlePaymentResult(ctx context.Context, res payment.Result) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if res.ClientSecret == "" {
		res.ClientSecret = c.clientSecret
	}
	current := res.ClientSecret == c.clientSecret
	switch {
	case current && c.state == StateAwaitingPayment:
		return c.settleLocked(ctx, res)
	case current && c.state == StateCommitted && res.Succeeded():
		return c.resultLocked(), nil
	case !res.Succeeded(), res.ClientSecret == "":
		return Result{}, ErrInvalidTransition
	}

	if _, done := c.refunded[res.ClientSecret]; !done {
		c.refundAbandonedLocked(ctx, res)
	}
	return c.resultLocked(), ErrPaymentAbandoned
}

// Cancel abandons the attempt. It calls no collaborator: nothing is
// persisted or redeemed before Committed, so there is nothing to undo. A
// charge that still lands on an intent created before cancelling is
// refunded through HandlePaymentResult.
func (c *Checkout) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateCommitted:
		return ErrInvalidTransition
	case c.captured != nil:
		return ErrPaymentCaptured
	case c.state == StateRolledBack:
		return nil
	}
	c.moveLocked(StateRolledBack)
	return nil
}

func (c *Checkout) ID() string     { return c.id }
func (c *Checkout) UserID() string { return c.userID }

func (c *Checkout) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Checkout) Review() Review {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.review
}

func (c *Checkout) OrderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderID
}

func (c *Checkout) ClientSecret() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientSecret
}

func (c *Checkout) IdempotencyKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// LastRejection is the most recent commit-time rejection, cleared by Begin.
func (c *Checkout) LastRejection() *Rejection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRejection
}

// PaymentFailure is the reason of the last declined payment, if any.
func (c *Checkout) PaymentFailure() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paymentFailure
}

func (c *Checkout) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultLocked()
}

func (c *Checkout) settleLocked(ctx context.Context, res payment.Result) (Result, error) {
	if !res.Succeeded() {
		c.paymentFailure = res.Reason
		c.moveLocked(StateRolledBack)
		return c.resultLocked(), &PaymentFailure{Reason: res.Reason}
	}
	c.forgetIntentLocked(c.clientSecret)

	c.captured = &res
	c.intent.PaymentReference = res.PaymentID
	return c.persistLocked(ctx)
}

func (c *Checkout) persistLocked(ctx context.Context) (Result, error) {
	id, err := c.r.orders.Create(ctx, c.intent)
	if err != nil {
		reason, ok := redemptionFailure(err)
		if !ok {
			return c.resultLocked(), fmt.Errorf("create order: %w", err)
		}
		if c.captured != nil {
			c.requestRefundLocked(ctx, string(reason))
		}
		return Result{}, c.rejectPromoLocked(c.snapshot, &promo.Rejection{Reason: reason, Code: c.promoCode})
	}

	c.orderID = id
	c.moveLocked(StateCommitted)
	// only what was ordered leaves the cart; lines added while the payment
	// was pending stay
	c.cart.Subtract(orderedEntries(c.intent.Items))

	committed := CommittedOrder{
		OrderID:        id,
		IdempotencyKey: c.key,
		UserID:         c.userID,
		PaymentMethod:  c.intent.PaymentMethod,
		PromoCode:      c.intent.PromoCode,
		Items:          c.intent.Items,
		Breakdown:      c.intent.Breakdown,
		CommittedAt:    c.r.now().UTC(),
	}
	if err := c.r.publisher.OrderCommitted(ctx, committed); err != nil {
		c.r.logger.Printf("checkout=%s order=%s publish OrderCommitted failed: %v", c.id, id, err)
	}
	return c.resultLocked(), nil
}

// redemptionFailure maps a promo error raised while the order was being
// written to the rejection shown to the customer.
func redemptionFailure(err error) (promo.Reason, bool) {
	switch {
	case errors.Is(err, promo.ErrUsageLimitReached):
		return promo.ReasonUsageLimitReached, true
	case errors.Is(err, promo.ErrNotFound):
		return promo.ReasonCodeNotFound, true
	default:
		return "", false
	}
}

func (c *Checkout) requestRefundLocked(ctx context.Context, reason string) {
	c.publishRefundLocked(ctx, c.clientSecret, c.key, c.captured.PaymentID, c.intent.Breakdown.Total, reason)
}

// refundAbandonedLocked refunds a charge for an intent the attempt left
// behind. The refund carries the idempotency key the intent was created
// under.
func (c *Checkout) refundAbandonedLocked(ctx context.Context, res payment.Result) {
	secret := res.ClientSecret
	key, amount := c.key, c.intent.Breakdown.Total
	if a, ok := c.abandoned[secret]; ok {
		key, amount = a.key, a.amount
		delete(c.abandoned, secret)
	} else if secret == c.clientSecret {
		// settled by this refund; a restart must not reuse the intent
		c.clientSecret = ""
		c.key = uuid.NewString()
	}
	c.forgetIntentLocked(secret)
	c.publishRefundLocked(ctx, secret, key, res.PaymentID, amount, "checkout abandoned before payment settled")
}

func (c *Checkout) publishRefundLocked(ctx context.Context, secret, key, paymentID string, amount decimal.Decimal, reason string) {
	if secret != "" {
		if c.refunded == nil {
			c.refunded = make(map[string]struct{})
		}
		c.refunded[secret] = struct{}{}
	}
	req := RefundRequest{
		IdempotencyKey: key,
		UserID:         c.userID,
		PaymentID:      paymentID,
		Amount:         amount.StringFixed(2),
		Reason:         reason,
		RequestedAt:    c.r.now().UTC(),
	}
	c.r.logger.Printf("checkout=%s payment=%s refund required: %s", c.id, req.PaymentID, reason)
	if err := c.r.publisher.RefundRequired(ctx, req); err != nil {
		c.r.logger.Printf("checkout=%s publish RefundRequired failed: %v", c.id, err)
	}
}

func (c *Checkout) forgetIntentLocked(secret string) {
	if secret != "" {
		c.r.intents.forget(secret)
	}
}

func (c *Checkout) rejectDriftLocked(ctx context.Context, fresh []pricing.ResolvedLineItem, changed []cart.LineItemKey) error {
	c.moveLocked(StateRejected)
	c.resetPaymentLocked()
	c.refreshLocked(ctx, fresh)
	c.lastRejection = &Rejection{Reason: ReasonCatalogDrift, Changed: changed, Review: c.review}
	c.moveLocked(StateReviewing)
	return c.lastRejection
}

// rejectPromoLocked drops the code and returns to Reviewing priced without
// it.
func (c *Checkout) rejectPromoLocked(items []pricing.ResolvedLineItem, rej *promo.Rejection) error {
	c.moveLocked(StateRejected)
	c.resetPaymentLocked()
	c.promoCode = ""
	c.discount = nil
	c.review = c.priceLocked(items)
	c.review.PromoRejection = rej
	c.lastRejection = &Rejection{Reason: ReasonPromoRejected, Promo: rej, Review: c.review}
	c.moveLocked(StateReviewing)
	return c.lastRejection
}

// refreshLocked rebuilds the review from items. The applied code is
// re-previewed; if it no longer applies it is dropped with its rejection.
func (c *Checkout) refreshLocked(ctx context.Context, items []pricing.ResolvedLineItem) {
	var rejection *promo.Rejection
	if c.promoCode != "" {
		d, err := c.r.promos.Validate(ctx, c.promoCode, promo.OrderContextFor(items, c.r.now()))
		rej, isRejection := promo.AsRejection(err)
		switch {
		case isRejection:
			rejection = rej
			c.promoCode = ""
			c.discount = nil
		case err != nil:
			// keep the code; PlaceOrder validates it again anyway
			c.r.logger.Printf("checkout=%s promo preview unavailable: %v", c.id, err)
		default:
			c.discount = &d
		}
	}
	c.review = c.priceLocked(items)
	c.review.PromoRejection = rejection
}

func (c *Checkout) priceLocked(items []pricing.ResolvedLineItem) Review {
	b := c.r.calc.ComputeBreakdown(items, c.discount).Rounded()
	return Review{
		Items:     available(items),
		Removed:   b.Removed,
		PromoCode: c.promoCode,
		Discount:  c.discount,
		Breakdown: b,
	}
}

func (c *Checkout) reviewedLocked() []pricing.ResolvedLineItem {
	items := make([]pricing.ResolvedLineItem, 0, len(c.review.Items)+len(c.review.Removed))
	items = append(items, c.review.Items...)
	return append(items, c.review.Removed...)
}

// resetPaymentLocked abandons a created payment intent. The next
// submission gets a fresh idempotency key so the payment service does not
// replay the abandoned intent. An uncaptured intent is remembered so a late
// charge against it can be refunded.
func (c *Checkout) resetPaymentLocked() {
	if c.clientSecret != "" {
		if c.captured == nil {
			if c.abandoned == nil {
				c.abandoned = make(map[string]abandonedIntent)
			}
			c.abandoned[c.clientSecret] = abandonedIntent{key: c.key, amount: c.intent.Breakdown.Total}
		} else {
			c.r.intents.forget(c.clientSecret)
		}
		c.key = uuid.NewString()
	}
	c.clientSecret = ""
	c.captured = nil
	c.intent = order.Intent{}
}

func (c *Checkout) moveLocked(next State) {
	if !c.state.CanTransitionTo(next) {
		panic(fmt.Sprintf("checkout: invalid transition %s -> %s", c.state, next))
	}
	c.r.logger.Printf("checkout=%s state=%s->%s", c.id, c.state, next)
	c.state = next
}

func (c *Checkout) resultLocked() Result {
	b := c.intent.Breakdown
	if c.state == StateReviewing || c.state == StateIdle || c.state == StateRolledBack {
		b = c.review.Breakdown
	}
	return Result{
		CheckoutID:     c.id,
		State:          c.state,
		IdempotencyKey: c.key,
		OrderID:        c.orderID,
		ClientSecret:   c.clientSecret,
		Breakdown:      b,
	}
}
