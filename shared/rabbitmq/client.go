package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the channel is gone
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration.
// The exchange carries both job events and submissions. QueueName and
// RoutingKey describe the submission intake; leave QueueName empty for a
// publish-only client.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL builds the AMQP URL from the config. Credentials are escaped and a
// vhost other than "/" is path-escaped.
func (c *Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/",
	}
	if vhost := strings.TrimPrefix(c.VHost, "/"); vhost != "" {
		u.RawPath = "/" + url.PathEscape(vhost)
		u.Path = "/" + vhost
	}
	return u.String()
}

// Client owns one AMQP connection and a confirm-mode channel. Publishes are
// serialized so each one can wait for its own broker confirmation.
type Client struct {
	config  *Config
	logger  *slog.Logger
	conn    *amqp.Connection
	channel *amqp.Channel

	publishMu sync.Mutex
	closed    chan *amqp.Error
	connected atomic.Bool
}

// NewClient dials RabbitMQ, retrying per the config until ctx is done, and
// declares the exchange plus the intake queue when one is configured
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger,
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	if err := c.open(); err != nil {
		_ = c.conn.Close()
		return nil, err
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", config.ExchangeName),
		slog.String("intake_queue", config.QueueName),
	)
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)
	backoff := newBackoff(c.config.RetryInterval, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.conn, err = amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			return nil
		}

		c.logger.Warn("Failed to connect to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if attempt == attempts {
			break
		}
		if waitErr := backoff.wait(ctx); waitErr != nil {
			return fmt.Errorf("connect to RabbitMQ canceled: %w", waitErr)
		}
	}
	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
}

// open creates the channel, enables publisher confirms and declares the topology
func (c *Client) open() error {
	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := declareTopology(channel, c.config); err != nil {
		_ = channel.Close()
		return err
	}

	c.channel = channel
	c.closed = channel.NotifyClose(make(chan *amqp.Error, 1))
	c.connected.Store(true)
	go c.watchClose()
	return nil
}

func declareTopology(channel *amqp.Channel, config *Config) error {
	err := channel.ExchangeDeclare(
		config.ExchangeName,       // name
		config.ExchangeType,       // type
		config.ExchangeDurable,    // durable
		config.ExchangeAutoDelete, // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", config.ExchangeName, err)
	}

	if config.QueueName == "" {
		return nil
	}

	if _, err := channel.QueueDeclare(
		config.QueueName,       // name
		config.QueueDurable,    // durable
		config.QueueAutoDelete, // auto-delete
		config.QueueExclusive,  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", config.QueueName, err)
	}

	if err := channel.QueueBind(config.QueueName, config.RoutingKey, config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q to %q: %w", config.QueueName, config.RoutingKey, err)
	}
	return nil
}

// watchClose flips the connected flag when the broker closes the channel
func (c *Client) watchClose() {
	amqpErr, ok := <-c.closed
	c.connected.Store(false)
	if ok && amqpErr != nil {
		c.logger.Warn("RabbitMQ channel closed by broker",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	}
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")
	c.connected.Store(false)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}
