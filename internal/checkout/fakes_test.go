package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/promo"
)

var testNow = time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
	err      error
	calls    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[int64]catalog.Product)}
}

func (f *fakeCatalog) Resolve(_ context.Context, id int64) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return catalog.Product{}, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) put(id int64, name, price, category string, available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = catalog.Product{
		ID: id, Name: name, Price: decimal.RequireFromString(price),
		Category: category, Available: available,
	}
}

func (f *fakeCatalog) setAvailable(id int64, available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[id]
	p.Available = available
	f.products[id] = p
}

func (f *fakeCatalog) setPrice(id int64, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[id]
	p.Price = decimal.RequireFromString(price)
	f.products[id] = p
}

func (f *fakeCatalog) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// memPromos is an in-memory promo store whose Redeem is atomic under its
// lock, standing in for the conditional UPDATE.
type memPromos struct {
	mu       sync.Mutex
	codes    map[string]promo.Code
	fetchErr error
}

func newMemPromos() *memPromos {
	return &memPromos{codes: make(map[string]promo.Code)}
}

func (m *memPromos) Fetch(_ context.Context, code string) (promo.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return promo.Code{}, m.fetchErr
	}
	c, ok := m.codes[promo.NormalizeCode(code)]
	if !ok {
		return promo.Code{}, promo.ErrNotFound
	}
	return c, nil
}

func (m *memPromos) Redeem(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[promo.NormalizeCode(code)]
	if !ok || !c.IsActive {
		return promo.ErrNotFound
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return promo.ErrUsageLimitReached
	}
	c.UsedCount++
	m.codes[c.Code] = c
	return nil
}

func (m *memPromos) put(c promo.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[promo.NormalizeCode(c.Code)] = c
}

func (m *memPromos) used(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code].UsedCount
}

// exhaust simulates other customers using up the code.
func (m *memPromos) exhaust(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.codes[code]
	if c.UsageLimit != nil {
		c.UsedCount = *c.UsageLimit
	}
	m.codes[code] = c
}

func save20(limit int) promo.Code {
	return promo.Code{
		Code:           "SAVE20",
		DiscountType:   pricing.DiscountFixed,
		DiscountValue:  decimal.NewFromInt(20),
		MinOrderAmount: decimal.NewFromInt(100),
		UsageLimit:     &limit,
		ValidFrom:      testNow.AddDate(0, -1, 0),
		ValidUntil:     testNow.AddDate(0, 1, 0),
		IsActive:       true,
	}
}

func summer25() promo.Code {
	return promo.Code{
		Code:              "SUMMER25",
		DiscountType:      pricing.DiscountPercentage,
		DiscountValue:     decimal.NewFromInt(25),
		MaxDiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(50)),
		ValidFrom:         testNow.AddDate(0, -1, 0),
		ValidUntil:        testNow.AddDate(0, 1, 0),
		IsActive:          true,
	}
}

// fakeOrders keys orders by idempotency key and redeems the promo as part of
// creation, failing the whole create when redemption fails.
type fakeOrders struct {
	mu      sync.Mutex
	promos  *memPromos
	byKey   map[string]string
	intents []order.Intent
	err     error

	// beforeCreate runs inside Create, after the checkout's own checks.
	beforeCreate func()
}

func newFakeOrders(promos *memPromos) *fakeOrders {
	return &fakeOrders{promos: promos, byKey: make(map[string]string)}
}

func (f *fakeOrders) Create(ctx context.Context, intent order.Intent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.byKey[intent.IdempotencyKey]; ok {
		return id, nil
	}
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	if intent.PromoCode != "" {
		if err := f.promos.Redeem(ctx, intent.PromoCode); err != nil {
			return "", fmt.Errorf("redeem promo %s: %w", intent.PromoCode, err)
		}
	}
	id := fmt.Sprintf("order-%d", len(f.byKey)+1)
	f.byKey[intent.IdempotencyKey] = id
	f.intents = append(f.intents, intent)
	return id, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intents)
}

func (f *fakeOrders) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakePayments struct {
	mu         sync.Mutex
	intentKeys []string
	amounts    []decimal.Decimal
	confirms   int
	result     payment.Result
	createErr  error
	confirmErr error
}

func (f *fakePayments) CreateIntent(_ context.Context, amount decimal.Decimal, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.intentKeys = append(f.intentKeys, key)
	f.amounts = append(f.amounts, amount)
	return "secret-" + key, nil
}

func (f *fakePayments) Confirm(_ context.Context, secret string, _ payment.Details) (payment.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if f.confirmErr != nil {
		return payment.Result{}, f.confirmErr
	}
	res := f.result
	res.ClientSecret = secret
	return res, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	committed []CommittedOrder
	refunds   []RefundRequest
}

func (f *fakePublisher) OrderCommitted(_ context.Context, o CommittedOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, o)
	return nil
}

func (f *fakePublisher) RefundRequired(_ context.Context, r RefundRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, r)
	return nil
}

// harness wires a Reconciler to fakes over a local cart.
type harness struct {
	catalog   *fakeCatalog
	promos    *memPromos
	orders    *fakeOrders
	payments  *fakePayments
	publisher *fakePublisher
	cart      *cart.Store
	rec       *Reconciler
}

func newHarness() *harness {
	h := &harness{
		catalog:   newFakeCatalog(),
		promos:    newMemPromos(),
		payments:  &fakePayments{result: payment.Result{Status: payment.StatusSucceeded, PaymentID: "pay_1"}},
		publisher: &fakePublisher{},
		cart:      cart.NewStore(nil, cart.DefaultRetryPolicy(), nil),
	}
	h.orders = newFakeOrders(h.promos)
	h.rec = NewReconciler(Deps{
		Catalog:    h.catalog,
		Promos:     promo.NewValidator(h.promos).WithClock(func() time.Time { return testNow }),
		Calculator: pricing.NewCalculator(pricing.DefaultConfig()),
		Payments:   h.payments,
		Orders:     h.orders,
		Publisher:  h.publisher,
		Now:        func() time.Time { return testNow },
	})
	return h
}

func (h *harness) add(productID int64, qty int) {
	for i := 0; i < qty; i++ {
		h.cart.AddItem(productID, "")
	}
}

func testAddress() order.Address {
	return order.Address{
		FullName: "Ada Lovelace", Line1: "12 Analytical Way", City: "London",
		State: "LDN", PostalCode: "N1 9GU", Country: "GB", Phone: "+44 20 7946 0000",
	}
}

func placeRequest(method order.PaymentMethod) PlaceOrderRequest {
	return PlaceOrderRequest{ShippingAddress: testAddress(), PaymentMethod: method}
}

var errBoom = errors.New("boom")
