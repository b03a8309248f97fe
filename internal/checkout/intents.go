package checkout

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// intentRetention bounds how long an unsettled payment intent stays
// routable to its attempt.
const intentRetention = 24 * time.Hour

// intentIndex maps client secrets to the attempt that created them. Entries
// outlive the session so a charge that lands after the customer walked
// away can still be refunded.
type intentIndex struct {
	mu      sync.Mutex
	byToken map[string]indexedIntent
}

type indexedIntent struct {
	checkout  *Checkout
	createdAt time.Time
}

// abandonedIntent is what a refund needs once the attempt has moved on to
// a new idempotency key.
type abandonedIntent struct {
	key    string
	amount decimal.Decimal
}

func newIntentIndex() *intentIndex {
	return &intentIndex{byToken: make(map[string]indexedIntent)}
}

func (x *intentIndex) put(secret string, c *Checkout, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for s, e := range x.byToken {
		if now.Sub(e.createdAt) > intentRetention {
			delete(x.byToken, s)
		}
	}
	x.byToken[secret] = indexedIntent{checkout: c, createdAt: now}
}

func (x *intentIndex) get(secret string) (*Checkout, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.byToken[secret]
	return e.checkout, ok
}

func (x *intentIndex) forget(secret string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.byToken, secret)
}

func (x *intentIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.byToken)
}
