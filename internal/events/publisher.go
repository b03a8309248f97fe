package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/middleware"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/sequence"
)

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements checkout.Publisher on the events exchange.
type Publisher struct {
	ch                 channel
	seqRepo            sequence.Repository
	publishEnveloped   bool
	producerIdentifier string
	now                func() time.Time
}

type PublisherOptions struct {
	PublishEnveloped bool
	Producer         string
}

var _ checkout.Publisher = (*Publisher)(nil)

func NewPublisher(conn *amqp.Connection, seqRepo sequence.Repository, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return newPublisher(ch, seqRepo, opts), nil
}

func newPublisher(ch channel, seqRepo sequence.Repository, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = "checkout-service"
	}
	return &Publisher{
		ch:                 ch,
		seqRepo:            seqRepo,
		publishEnveloped:   opts.PublishEnveloped,
		producerIdentifier: producer,
		now:                time.Now,
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) OrderCommitted(ctx context.Context, o checkout.CommittedOrder) error {
	payload := newOrderCommittedPayload(o)

	if !p.publishEnveloped {
		body, err := json.Marshal(LegacyOrderCommitted{EventType: EventTypeOrderCommitted, OrderCommittedPayload: payload})
		if err != nil {
			return fmt.Errorf("marshal OrderCommitted: %w", err)
		}
		return p.publishJSON(ctx, OrderCommittedRoutingKey, body)
	}

	meta := p.metadata(ctx, o.OrderID)
	seq, err := p.seqRepo.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := buildOrderCommittedEnvelope(payload, seq, p.producerIdentifier, meta, p.now().UTC())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal OrderCommitted envelope: %w", err)
	}
	return p.publishJSON(ctx, OrderCommittedRoutingKey, body)
}

// RefundRequired is partitioned by idempotency key: there is no order id
// when a captured payment could not be turned into an order.
func (p *Publisher) RefundRequired(ctx context.Context, r checkout.RefundRequest) error {
	payload := newRefundRequiredPayload(r)

	if !p.publishEnveloped {
		body, err := json.Marshal(LegacyRefundRequired{EventType: EventTypeRefundRequired, RefundRequiredPayload: payload})
		if err != nil {
			return fmt.Errorf("marshal RefundRequired: %w", err)
		}
		return p.publishJSON(ctx, RefundRequiredRoutingKey, body)
	}

	meta := p.metadata(ctx, r.IdempotencyKey)
	seq, err := p.seqRepo.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := buildRefundRequiredEnvelope(payload, seq, p.producerIdentifier, meta, p.now().UTC())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal RefundRequired envelope: %w", err)
	}
	return p.publishJSON(ctx, RefundRequiredRoutingKey, body)
}

func (p *Publisher) metadata(ctx context.Context, partitionKey string) EnvelopeMetadata {
	cid := middleware.GetCorrelationID(ctx)
	if cid == "" {
		cid = uuid.NewString()
	}
	return EnvelopeMetadata{CorrelationID: cid, PartitionKey: partitionKey}
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
