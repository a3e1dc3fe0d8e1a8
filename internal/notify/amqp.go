package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes messages as JSON to a durable queue consumed by an
// external mailer.
type AMQPNotifier struct {
	conn  *amqp.Connection
	chn   publisher
	queue string
	log   logrus.FieldLogger
}

// DialAMQP opens a connection and a channel and declares the queue.
func DialAMQP(url, queue string, log logrus.FieldLogger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	_, err = chn.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = chn.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}

	return &AMQPNotifier{
		conn:  conn,
		chn:   chn,
		queue: queue,
		log:   log.WithField("notifier", "amqp"),
	}, nil
}

func (n *AMQPNotifier) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	err = n.chn.PublishWithContext(
		ctx,
		"",      // exchange
		n.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         string(msg.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	n.log.WithFields(logrus.Fields{
		"guest_id": msg.GuestID,
		"event_id": msg.EventID,
		"type":     msg.Type,
	}).Debug("message published")
	return nil
}

// Close closes the channel and the connection.
func (n *AMQPNotifier) Close() error {
	if c, ok := n.chn.(*amqp.Channel); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
