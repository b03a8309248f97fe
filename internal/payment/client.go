package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/middleware"
)

var ErrUnavailable = errors.New("payment service unavailable")

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Details is the opaque payment method reference produced by the
// storefront's payment form. It is forwarded untouched.
type Details struct {
	PaymentMethodID string `json:"paymentMethodId"`
	BillingName     string `json:"billingName,omitempty"`
}

type Result struct {
	Status       Status `json:"status"`
	Reason       string `json:"reason,omitempty"`
	PaymentID    string `json:"paymentId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

type Collaborator interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (string, error)
	Confirm(ctx context.Context, clientSecret string, details Details) (Result, error)
}

// HTTPClient talks to the payment service. Calls go through a circuit
// breaker so a failing payment service fails checkouts fast.
type HTTPClient struct {
	baseURL  *url.URL
	http     *http.Client
	currency string
	cb       *gobreaker.CircuitBreaker[[]byte]
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid payment base url %q: %w", baseURL, err)
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-service",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPClient{
		baseURL:  u,
		http:     &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		currency: "usd",
		cb:       cb,
	}, nil
}

type createIntentRequest struct {
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type createIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

func (c *HTTPClient) CreateIntent(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (string, error) {
	body, err := c.post(ctx, "/api/payments/intents", createIntentRequest{
		Amount:         amount.StringFixed(2),
		Currency:       c.currency,
		IdempotencyKey: idempotencyKey,
	}, idempotencyKey)
	if err != nil {
		return "", err
	}

	var resp createIntentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode payment intent: %w", err)
	}
	if resp.ClientSecret == "" {
		return "", errors.New("payment intent without client secret")
	}
	return resp.ClientSecret, nil
}

type confirmRequest struct {
	ClientSecret   string  `json:"clientSecret"`
	PaymentDetails Details `json:"paymentDetails"`
}

func (c *HTTPClient) Confirm(ctx context.Context, clientSecret string, details Details) (Result, error) {
	body, err := c.post(ctx, "/api/payments/intents/confirm", confirmRequest{
		ClientSecret:   clientSecret,
		PaymentDetails: details,
	}, "")
	if err != nil {
		return Result{}, err
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("decode payment result: %w", err)
	}
	if res.Status != StatusSucceeded && res.Status != StatusFailed {
		return Result{}, fmt.Errorf("unexpected payment status %q", res.Status)
	}
	res.ClientSecret = clientSecret
	return res, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, idempotencyKey string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.ResolveReference(&url.URL{Path: path}).String(), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		if cid := middleware.GetCorrelationID(ctx); cid != "" {
			req.Header.Set(middleware.HeaderCorrelationID, cid)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("payment service returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
		}
		return b, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, err
}
