package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one message body. Returning false requeues the message.
type Handler func([]byte) bool

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, logger: logger.With(zap.String("component", "rabbitmq_consumer"))}, nil
}

// ConsumeWithBindings binds queueName to exchange for every routing key and dispatches
// deliveries to the matching handler until the channel closes.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			dispatch(c.logger, handlers, d)
		}
		c.logger.Warn("delivery channel closed", zap.String("queue", q.Name))
	}()

	return nil
}

// acknowledger is the part of amqp.Delivery dispatch needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func dispatch(logger *zap.Logger, handlers map[string]Handler, d amqp.Delivery) {
	settle(logger, handlers, d.RoutingKey, d.Body, d.Redelivered, d)
}

func settle(logger *zap.Logger, handlers map[string]Handler, routingKey string, body []byte, redelivered bool, ack acknowledger) {
	handler, ok := handlers[routingKey]
	if !ok {
		logger.Warn("no handler for routing key; acknowledging to drop", zap.String("routing_key", routingKey))
		_ = ack.Ack(false)
		return
	}

	handled := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked", zap.String("routing_key", routingKey), zap.Any("panic", r))
				ok = false
			}
		}()
		return handler(body)
	}()

	if handled {
		_ = ack.Ack(false)
		return
	}
	logger.Warn("handler failed; re-queuing", zap.String("routing_key", routingKey), zap.Bool("redelivered", redelivered))
	_ = ack.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
