package repository

import (
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Topology names the exchanges and the queue the scan worker uses.
type Topology struct {
	ExchangeType      string
	InboundExchange   string
	InboundQueue      string
	InboundRoutingKey string
	OutboundExchange  string
}

type RabbitMQRepository interface {
	// ConsumerChannel and PublisherChannel are separate so that a blocked
	// publish never stalls delivery handling.
	ConsumerChannel() *amqp091.Channel
	PublisherChannel() *amqp091.Channel
	SetupTopology(topology Topology) error
	IsClosed() bool
	Close() error
}

type rabbitMQRepository struct {
	conn      *amqp091.Connection
	consumer  *amqp091.Channel
	publisher *amqp091.Channel
	logger    zerolog.Logger
	closeOnce sync.Once
}

func NewRabbitMQRepository(url string, logger zerolog.Logger) (RabbitMQRepository, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	consumer, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	publisher, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}

	logger.Info().Msg("Connected to RabbitMQ")

	return &rabbitMQRepository{
		conn:      conn,
		consumer:  consumer,
		publisher: publisher,
		logger:    logger,
	}, nil
}

func (r *rabbitMQRepository) ConsumerChannel() *amqp091.Channel {
	return r.consumer
}

func (r *rabbitMQRepository) PublisherChannel() *amqp091.Channel {
	return r.publisher
}

func (r *rabbitMQRepository) SetupTopology(t Topology) error {
	kind := t.ExchangeType
	if kind == "" {
		kind = amqp091.ExchangeTopic
	}

	for _, exchange := range uniqueNonEmpty(t.InboundExchange, t.OutboundExchange) {
		err := r.consumer.ExchangeDeclare(
			exchange, // name
			kind,     // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	q, err := r.consumer.QueueDeclare(
		t.InboundQueue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if t.InboundExchange != "" {
		err = r.consumer.QueueBind(
			q.Name,              // queue name
			t.InboundRoutingKey, // routing key
			t.InboundExchange,   // exchange
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	r.logger.Info().
		Str("exchange_type", kind).
		Str("inbound_exchange", t.InboundExchange).
		Str("queue", q.Name).
		Str("routing_key", t.InboundRoutingKey).
		Str("outbound_exchange", t.OutboundExchange).
		Msg("RabbitMQ topology declared")

	return nil
}

func (r *rabbitMQRepository) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *rabbitMQRepository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.publisher != nil {
			r.publisher.Close()
		}
		if r.consumer != nil {
			r.consumer.Close()
		}
		if r.conn != nil {
			err = r.conn.Close()
		}
		r.logger.Info().Msg("RabbitMQ connection closed")
	})
	return err
}

func uniqueNonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
