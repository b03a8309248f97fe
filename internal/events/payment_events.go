package events

import "time"

const (
	EventTypePaymentSucceeded = "PaymentSucceeded"
	EventTypePaymentFailed    = "PaymentFailed"
	paymentEventVersion       = 1
)

// PaymentResultPayload is published by the payment service once an intent
// settles. ClientSecret ties it back to the waiting checkout.
type PaymentResultPayload struct {
	ClientSecret string    `json:"clientSecret"`
	PaymentID    string    `json:"paymentId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type PaymentResultEnvelope = EventEnvelope[PaymentResultPayload]

type LegacyPaymentResult struct {
	EventType string `json:"eventType"`
	PaymentResultPayload
}
