package checkout

import (
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

// changedKeys compares what the customer reviewed against a fresh catalog
// resolution. A line has changed when it appeared or disappeared, its
// quantity moved, its availability flipped, or its price changed while
// available.
func changedKeys(reviewed, fresh []pricing.ResolvedLineItem) []cart.LineItemKey {
	before := make(map[cart.LineItemKey]pricing.ResolvedLineItem, len(reviewed))
	for _, it := range reviewed {
		before[it.Key] = it
	}

	var changed []cart.LineItemKey
	seen := make(map[cart.LineItemKey]struct{}, len(fresh))
	for _, now := range fresh {
		seen[now.Key] = struct{}{}
		was, ok := before[now.Key]
		switch {
		case !ok,
			was.Quantity != now.Quantity,
			was.Available != now.Available,
			now.Available && !was.UnitPrice.Equal(now.UnitPrice):
			changed = append(changed, now.Key)
		}
	}
	for _, it := range reviewed {
		if _, ok := seen[it.Key]; !ok {
			changed = append(changed, it.Key)
		}
	}
	return changed
}

func available(items []pricing.ResolvedLineItem) []pricing.ResolvedLineItem {
	out := make([]pricing.ResolvedLineItem, 0, len(items))
	for _, it := range items {
		if it.Available && it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out
}

// orderedEntries is the cart view of the lines an order was placed for.
func orderedEntries(items []pricing.ResolvedLineItem) []cart.Entry {
	out := make([]cart.Entry, 0, len(items))
	for _, it := range items {
		out = append(out, cart.Entry{Key: it.Key, Quantity: it.Quantity})
	}
	return out
}
