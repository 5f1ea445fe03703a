package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type RabbitMQPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Close() error
}

type rabbitMQPublisher struct {
	channel *amqp.Channel
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRabbitMQPublisher(channel *amqp.Channel, timeout time.Duration, logger zerolog.Logger) RabbitMQPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &rabbitMQPublisher{
		channel: channel,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish sends a persistent JSON message carrying the trace context of ctx.
func (p *rabbitMQPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	headers := amqp.Table{}
	InjectTraceContext(ctx, headers)

	return p.channel.PublishWithContext(
		publishCtx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}

func (p *rabbitMQPublisher) Close() error {
	// Channel will be closed by parent
	p.logger.Info().Msg("RabbitMQ publisher closed")
	return nil
}
