package catalog

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

const maxConcurrentLookups = 8

// ResolveEntries joins cart entries with live catalog data, preserving entry
// order. A product the catalog no longer knows is returned as unavailable
// rather than failing the whole resolution.
func ResolveEntries(ctx context.Context, r Resolver, entries []cart.Entry) ([]pricing.ResolvedLineItem, error) {
	items := make([]pricing.ResolvedLineItem, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	for i, e := range entries {
		g.Go(func() error {
			p, err := r.Resolve(gctx, e.Key.ProductID)
			switch {
			case errors.Is(err, ErrNotFound):
				items[i] = pricing.ResolvedLineItem{Key: e.Key, Quantity: e.Quantity, UnitPrice: p.Price}
				return nil
			case err != nil:
				return fmt.Errorf("resolve product %d: %w", e.Key.ProductID, err)
			}
			items[i] = pricing.ResolvedLineItem{
				Key:       e.Key,
				Quantity:  e.Quantity,
				UnitPrice: p.Price,
				Name:      p.Name,
				Category:  p.Category,
				Available: p.Available && !p.Price.IsNegative(),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
