/*
Package notify delivers ledger events to the outside world.

PURPOSE:
  Implementations of ledger.Notifier. The engine calls them after a commit;
  a delivery failure is logged and reported as a warning, never rolled back.

IMPLEMENTATIONS:
  RabbitMQ: JSON events on a topic exchange, routing key = event kind
            (e.g. "withdrawal.requested"), for the mail/alert workers
  Log:      structured log line per event, used when no broker is configured
  Fanout:   sends to several notifiers and joins their errors
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/ledger"
)

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitMQ publishes events to a durable topic exchange.
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       channel
	exchange string
	declared bool
	log      logrus.FieldLogger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewRabbitMQ dials the broker and opens a channel.
func NewRabbitMQ(amqpURL, exchange string, log logrus.FieldLogger) (*RabbitMQ, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	r := newRabbitMQ(ch, exchange, log)
	r.conn = conn
	return r, nil
}

func newRabbitMQ(ch channel, exchange string, log logrus.FieldLogger) *RabbitMQ {
	return &RabbitMQ{ch: ch, exchange: exchange, log: log.WithField("component", "notify.rabbitmq")}
}

func (r *RabbitMQ) Notify(ctx context.Context, ev ledger.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.declared {
		if err := r.ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", r.exchange, err)
		}
		r.declared = true
	}

	err = r.ch.PublishWithContext(ctx, r.exchange, string(ev.Kind), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Kind, err)
	}

	r.log.WithFields(logrus.Fields{
		"exchange":    r.exchange,
		"routing_key": ev.Kind,
	}).Debug("event published")
	return nil
}

// Close gracefully closes the channel and connection.
func (r *RabbitMQ) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
