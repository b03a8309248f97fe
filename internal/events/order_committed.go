package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
)

const (
	EventTypeOrderCommitted    = "OrderCommitted"
	orderCommittedEventVersion = 1
	orderCommittedSchema       = "contracts/events/checkout/OrderCommitted.v1.payload.schema.json"

	EventTypeRefundRequired    = "RefundRequired"
	refundRequiredEventVersion = 1
	refundRequiredSchema       = "contracts/events/checkout/RefundRequired.v1.payload.schema.json"
)

// OrderLine is one billed line. Amounts are decimal strings with two places.
type OrderLine struct {
	ProductID int64  `json:"productId"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type OrderCommittedPayload struct {
	OrderID        string      `json:"orderId"`
	IdempotencyKey string      `json:"idempotencyKey"`
	UserID         string      `json:"userId,omitempty"`
	PaymentMethod  string      `json:"paymentMethod"`
	PromoCode      string      `json:"promoCode,omitempty"`
	Items          []OrderLine `json:"items"`
	Subtotal       string      `json:"subtotal"`
	ShippingCost   string      `json:"shippingCost"`
	Tax            string      `json:"tax"`
	DiscountAmount string      `json:"discountAmount"`
	Total          string      `json:"total"`
	Timestamp      time.Time   `json:"timestamp"`
}

type OrderCommittedEnvelope = EventEnvelope[OrderCommittedPayload]

// LegacyOrderCommitted is the flat form published when envelopes are off.
type LegacyOrderCommitted struct {
	EventType string `json:"eventType"`
	OrderCommittedPayload
}

type RefundRequiredPayload struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	UserID         string    `json:"userId,omitempty"`
	PaymentID      string    `json:"paymentId"`
	Amount         string    `json:"amount"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

type RefundRequiredEnvelope = EventEnvelope[RefundRequiredPayload]

type LegacyRefundRequired struct {
	EventType string `json:"eventType"`
	RefundRequiredPayload
}

func newOrderCommittedPayload(o checkout.CommittedOrder) OrderCommittedPayload {
	b := o.Breakdown.Rounded()
	p := OrderCommittedPayload{
		OrderID:        o.OrderID,
		IdempotencyKey: o.IdempotencyKey,
		UserID:         o.UserID,
		PaymentMethod:  string(o.PaymentMethod),
		PromoCode:      o.PromoCode,
		Items:          make([]OrderLine, 0, len(o.Items)),
		Subtotal:       b.Subtotal.StringFixed(2),
		ShippingCost:   b.ShippingCost.StringFixed(2),
		Tax:            b.Tax.StringFixed(2),
		DiscountAmount: b.DiscountAmount.StringFixed(2),
		Total:          b.Total.StringFixed(2),
		Timestamp:      o.CommittedAt.UTC(),
	}
	for _, it := range o.Items {
		if !it.Available {
			continue
		}
		p.Items = append(p.Items, OrderLine{
			ProductID: it.Key.ProductID,
			Variant:   it.Key.Variant,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return p
}

func newRefundRequiredPayload(r checkout.RefundRequest) RefundRequiredPayload {
	return RefundRequiredPayload{
		IdempotencyKey: r.IdempotencyKey,
		UserID:         r.UserID,
		PaymentID:      r.PaymentID,
		Amount:         r.Amount,
		Reason:         r.Reason,
		Timestamp:      r.RequestedAt.UTC(),
	}
}

func buildOrderCommittedEnvelope(payload OrderCommittedPayload, seq int64, producer string, meta EnvelopeMetadata, occurredAt time.Time) OrderCommittedEnvelope {
	return OrderCommittedEnvelope{
		EventName:     EventTypeOrderCommitted,
		EventVersion:  orderCommittedEventVersion,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  meta.PartitionKey,
		Sequence:      &seq,
		OccurredAt:    occurredAt,
		Schema:        orderCommittedSchema,
		Payload:       payload,
	}
}

func buildRefundRequiredEnvelope(payload RefundRequiredPayload, seq int64, producer string, meta EnvelopeMetadata, occurredAt time.Time) RefundRequiredEnvelope {
	return RefundRequiredEnvelope{
		EventName:     EventTypeRefundRequired,
		EventVersion:  refundRequiredEventVersion,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  meta.PartitionKey,
		Sequence:      &seq,
		OccurredAt:    occurredAt,
		Schema:        refundRequiredSchema,
		Payload:       payload,
	}
}
