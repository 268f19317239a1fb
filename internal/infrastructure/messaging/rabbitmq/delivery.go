package rabbitmq

import amqp "github.com/rabbitmq/amqp091-go"

// Delivery is the slice of a broker delivery the processing side needs:
// the payload plus the three acknowledgement outcomes.
type Delivery interface {
	Body() []byte
	// Ack removes the message from the queue.
	Ack() error
	// NackRequeue returns the message to the queue for redelivery.
	NackRequeue() error
	// Reject drops the message without requeue. Used for poison messages.
	Reject() error
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) Body() []byte       { return a.d.Body }
func (a *amqpDelivery) Ack() error         { return a.d.Ack(false) }
func (a *amqpDelivery) NackRequeue() error { return a.d.Nack(false, true) }
func (a *amqpDelivery) Reject() error      { return a.d.Reject(false) }
