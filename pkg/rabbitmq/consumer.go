/**
 * @description
 * This package provides a consumer for receiving messages from RabbitMQ. It
 * connects to a topic exchange, declares a durable queue, binds it to a set
 * of routing keys, and dispatches deliveries to a handler. The handler
 * returns whether the delivery should be acknowledged; unacknowledged
 * deliveries are requeued by the broker.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer holds the RabbitMQ connection and channel for consuming messages.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

// HandlerFunc processes a delivery for a given routing key. The returned
// bool indicates whether the delivery should be acked; returning false
// requeues it.
type HandlerFunc func(routingKey string, body []byte) bool

// NewConsumer creates a new Consumer connected to the given AMQP URL.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, channel: channel, logger: logger}, nil
}

// ConsumeWithBindings declares the exchange and queue, binds the queue to
// each routing key, and starts a goroutine that dispatches deliveries to
// the handler. It returns once consumption is set up.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindingKeys []string, handler HandlerFunc) error {
	if err := c.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	queue, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	for _, key := range bindingKeys {
		if err := c.channel.QueueBind(queue.Name, key, exchange, false, nil); err != nil {
			return err
		}
	}

	// Process one message at a time per consumer
	if err := c.channel.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := c.channel.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			if handler(d.RoutingKey, d.Body) {
				if err := d.Ack(false); err != nil {
					c.logger.Error("failed to ack delivery", "error", err, "routing_key", d.RoutingKey)
				}
			} else {
				if err := d.Nack(false, true); err != nil {
					c.logger.Error("failed to nack delivery", "error", err, "routing_key", d.RoutingKey)
				}
			}
		}
		c.logger.Warn("delivery channel closed", "queue", queueName)
	}()

	c.logger.Info("consuming messages", "queue", queueName, "exchange", exchange, "bindings", bindingKeys)
	return nil
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
