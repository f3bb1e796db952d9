package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// SubmitMessage is the body of an intake message
type SubmitMessage struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Mode string `json:"mode"`
}

type deliverySource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

type submitter interface {
	Submit(ctx context.Context, sourceURL, name, mode string) (domain.Job, error)
}

// IntakeConfig holds AMQP intake configuration
type IntakeConfig struct {
	Logger        *slog.Logger
	Source        deliverySource
	Submitter     submitter
	PrefetchCount int
	ConsumerTag   string
}

// Intake turns RabbitMQ messages into submissions. It only enqueues; the
// worker loop does the processing, so a delivery is acknowledged as soon as
// the job is queued.
type Intake struct {
	logger        *slog.Logger
	source        deliverySource
	submitter     submitter
	prefetchCount int
	consumerTag   string
}

// NewIntake creates an intake consumer
func NewIntake(cfg IntakeConfig) *Intake {
	i := &Intake{
		logger:        cfg.Logger,
		source:        cfg.Source,
		submitter:     cfg.Submitter,
		prefetchCount: cfg.PrefetchCount,
		consumerTag:   cfg.ConsumerTag,
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	if i.prefetchCount <= 0 {
		i.prefetchCount = 1
	}
	if i.consumerTag == "" {
		i.consumerTag = "stem-splitter-intake"
	}
	return i
}

// Run consumes until ctx is canceled or the delivery channel closes
func (i *Intake) Run(ctx context.Context) error {
	// prefetch_count: number of unacknowledged messages per consumer
	if err := i.source.Qos(i.prefetchCount); err != nil {
		return err
	}

	deliveries, err := i.source.Consume(i.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	i.logger.Info("Intake consumer started",
		slog.String("consumer_tag", i.consumerTag),
		slog.Int("prefetch_count", i.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("Intake consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				i.logger.Warn("RabbitMQ delivery channel closed")
				return errors.New("delivery channel closed")
			}
			i.handleDelivery(ctx, delivery)
		}
	}
}

func (i *Intake) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg SubmitMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		i.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		i.nack(delivery, false)
		return
	}

	job, err := i.submitter.Submit(ctx, msg.URL, msg.Name, msg.Mode)
	if err != nil {
		// a stopping worker can leave the message for the next instance
		requeue := errors.Is(err, domain.ErrWorkerStopped)
		i.logger.Error("Failed to submit job from message",
			slog.String("url", msg.URL),
			slog.String("name", msg.Name),
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
		i.nack(delivery, requeue)
		return
	}

	if err := delivery.Ack(false); err != nil {
		i.logger.Error("Failed to ACK message",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	i.logger.Debug("Job submitted from message",
		slog.String("job_id", job.JobID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
}

func (i *Intake) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		i.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
