package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPublishRetries = 3
	defaultPublishDelay   = 100 * time.Millisecond
	defaultBackoffMult    = 2.0
)

// PublishWithRetry publishes a persistent message to the exchange and waits
// for the broker to confirm it. Failed or nacked publishes are retried with
// exponential backoff.
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = defaultPublishRetries
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = defaultPublishDelay
	}
	mult := c.config.PublishBackoffMult
	if mult <= 0 {
		mult = defaultBackoffMult
	}
	backoff := newBackoff(delay, mult)

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		lastErr = c.publishConfirmed(ctx, routingKey, body, contentType)
		if lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("routing_key", routingKey),
				slog.Int("attempt", attempt),
				slog.Int("body_size", len(body)),
			)
			return nil
		}
		if attempt > retries {
			break
		}

		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", retries),
			slog.Duration("retry_after", backoff.next),
			slog.String("error", lastErr.Error()),
		)
		if err := backoff.wait(ctx); err != nil {
			return fmt.Errorf("publish canceled: %w", err)
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, lastErr)
}

func (c *Client) publishConfirmed(ctx context.Context, routingKey string, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		routingKey,            // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for publish confirmation: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %d", confirm.DeliveryTag)
	}
	return nil
}

// Qos limits the number of unacknowledged deliveries per consumer
func (c *Client) Qos(prefetchCount int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// Consume starts consuming the intake queue with manual acknowledgement
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if c.config.QueueName == "" {
		return nil, fmt.Errorf("no intake queue configured")
	}

	deliveries, err := c.channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %q: %w", c.config.QueueName, err)
	}

	c.logger.Info("Consuming intake queue",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// backoff yields growing waits: base, base*mult, base*mult^2, ...
type backoff struct {
	next time.Duration
	mult float64
}

func newBackoff(base time.Duration, mult float64) *backoff {
	return &backoff{next: base, mult: mult}
}

// wait sleeps for the current delay, then grows it. It returns early with
// ctx's error when ctx is done.
func (b *backoff) wait(ctx context.Context) error {
	timer := time.NewTimer(b.next)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	b.next = time.Duration(float64(b.next) * b.mult)
	return nil
}
