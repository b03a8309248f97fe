package events

import (
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange             = "ecommerce.events"
	OrderCommittedRoutingKey   = "order.committed.v1"
	RefundRequiredRoutingKey   = "refund.required.v1"
	PaymentSucceededRoutingKey = "payment.succeeded.v1"
	PaymentFailedRoutingKey    = "payment.failed.v1"
	checkoutServiceName        = "checkout-service-go"
)

func MustDialRabbit(url string) *amqp.Connection {
	conn, err := amqp.Dial(url)
	if err != nil {
		log.Fatalf("connect to RabbitMQ: %v", err)
	}
	return conn
}

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func checkoutQueueName(routingKey string) string {
	return serviceQueue(checkoutServiceName, routingKey)
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
