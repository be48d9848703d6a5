package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	publishTimeout     = 5 * time.Second
	confirmGracePeriod = 2 * time.Second
)

// MQPublisher adapts the Client to the MessagePublisher port.
type MQPublisher struct {
	client *Client
}

// NewMQPublisher wraps the RabbitMQ client for the services that only need
// the publish side.
func NewMQPublisher(client *Client) *MQPublisher {
	return &MQPublisher{client: client}
}

// Publish sends one JSON message to the given exchange and routing key.
func (publisher *MQPublisher) Publish(exchange, routingKey string, body []byte) error {
	return publisher.client.PublishMessage(exchange, routingKey, body)
}

// PublishMessage publishes a persistent message and waits for the broker's
// confirm. Publishes are serialized on the confirm channel; losing the order
// between publish and confirm would ack the wrong message.
func (client *Client) PublishMessage(exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.confirms

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(ctx, exchange, routingKey, true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	return waitConfirm(ctx, confirms)
}

// waitConfirm blocks until the broker acks or nacks the in-flight publish.
// On timeout it still tries to drain exactly one confirm, keeping the stream
// aligned with the next publish.
func waitConfirm(ctx context.Context, confirms chan amqp.Confirmation) error {
	select {
	case c := <-confirms:
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
		return nil

	case <-ctx.Done():
		select {
		case c := <-confirms:
			if !c.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(confirmGracePeriod):
		}
		return ctx.Err()
	}
}
