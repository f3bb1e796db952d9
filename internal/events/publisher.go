// Package events publishes job lifecycle notifications to RabbitMQ so other
// services can react to finished jobs without polling the status API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

// Event names
const (
	EventJobQueued = "job.queued"
	EventJobDone   = "job.done"
	EventJobError  = "job.error"
)

// Event is the JSON body of a lifecycle message
type Event struct {
	Event     string          `json:"event"`
	JobID     string          `json:"job_id"`
	Status    domain.Status   `json:"status"`
	Error     string          `json:"error,omitempty"`
	Summary   *domain.Summary `json:"summary,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher delivers lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event. Used when RabbitMQ is disabled.
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// amqpClient is the subset of the RabbitMQ client the publisher needs
type amqpClient interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitPublisher publishes events as persistent JSON messages
type RabbitPublisher struct {
	client     amqpClient
	routingKey string
	logger     *slog.Logger
}

// NewRabbitPublisher creates a publisher that routes events with routingKey
func NewRabbitPublisher(client amqpClient, routingKey string, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{
		client:     client,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Publish encodes and sends one event
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, p.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Event, err)
	}

	p.logger.Debug("Job event published",
		slog.String("event", event.Event),
		slog.String("job_id", event.JobID),
		slog.String("routing_key", p.routingKey),
	)
	return nil
}
