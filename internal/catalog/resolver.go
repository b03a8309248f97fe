package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/middleware"
)

var (
	ErrNotFound = errors.New("product not found")
	// ErrUnavailable wraps transport failures and 5xx answers.
	ErrUnavailable = errors.New("catalog service unavailable")
)

// Product is the live catalog view of one product.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	Category  string          `json:"category"`
}

type Resolver interface {
	Resolve(ctx context.Context, productID int64) (Product, error)
}

// HTTPResolver asks the catalog service for current product data. Results
// are never cached: every checkout step re-reads price and availability.
type HTTPResolver struct {
	baseURL *url.URL
	http    *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) (*HTTPResolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog base url %q: %w", baseURL, err)
	}
	return &HTTPResolver{
		baseURL: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, productID int64) (Product, error) {
	rel := &url.URL{Path: "/api/catalog/products/" + strconv.FormatInt(productID, 10)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL.ResolveReference(rel).String(), nil)
	if err != nil {
		return Product{}, err
	}
	req.Header.Set("Accept", "application/json")
	if cid := middleware.GetCorrelationID(ctx); cid != "" {
		req.Header.Set(middleware.HeaderCorrelationID, cid)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Product{}, ErrNotFound
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Product{}, fmt.Errorf("%w: catalog returned %d: %s", ErrUnavailable, resp.StatusCode, body)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Product{}, fmt.Errorf("catalog returned %d: %s", resp.StatusCode, body)
	}

	var p Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Product{}, fmt.Errorf("decode product %d: %w", productID, err)
	}
	if p.ID == 0 {
		p.ID = productID
	}
	if p.Price.IsNegative() {
		p.Available = false
	}
	return p, nil
}
