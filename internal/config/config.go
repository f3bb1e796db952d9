package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Worker   WorkerConfig   `yaml:"worker"`
	Tools    ToolsConfig    `yaml:"tools"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SubmitRateLimit float64       `yaml:"submit_rate_limit"` // submissions per second, 0 disables
	SubmitBurst     int           `yaml:"submit_burst"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	Color        string `yaml:"color"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// StorageConfig holds the on-disk job store location
type StorageConfig struct {
	OutputRoot string `yaml:"output_root"`
}

// WorkerConfig holds job worker configuration
type WorkerConfig struct {
	// 0 selects the 6m default, a negative value disables the ceiling
	MaxDuration  time.Duration `yaml:"max_duration"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// ToolsConfig names the external programs the pipeline runs
type ToolsConfig struct {
	YtDlp        string `yaml:"ytdlp"`
	FFmpeg       string `yaml:"ffmpeg"`
	Demucs       string `yaml:"demucs"`
	DemucsModel  string `yaml:"demucs_model"`
	Aubio        string `yaml:"aubio"`
	KeyFinder    string `yaml:"keyfinder"`
	AudioQuality string `yaml:"audio_quality"`
	MixBitrate   string `yaml:"mix_bitrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled          bool             `yaml:"enabled"`
	Host             string           `yaml:"host"`
	Port             int              `yaml:"port"`
	User             string           `yaml:"user"`
	Password         string           `yaml:"password"`
	VHost            string           `yaml:"vhost"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	EventsRoutingKey string           `yaml:"events_routing_key"`
	Intake           IntakeConfig     `yaml:"intake"`
	Connection       ConnectionConfig `yaml:"connection"`
	Publish          PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// IntakeConfig holds the submission queue settings. An empty queue name
// disables the intake consumer.
type IntakeConfig struct {
	Queue         string `yaml:"queue"`
	RoutingKey    string `yaml:"routing_key"`
	Durable       bool   `yaml:"durable"`
	AutoDelete    bool   `yaml:"auto_delete"`
	Exclusive     bool   `yaml:"exclusive"`
	PrefetchCount int    `yaml:"prefetch_count"`
	ConsumerTag   string `yaml:"consumer_tag"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "stem-splitter"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	// downloads and archives can be large
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.SubmitRateLimit > 0 && c.Server.SubmitBurst == 0 {
		c.Server.SubmitBurst = 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.Color == "" {
		c.Logging.Color = "auto"
	}

	if c.Storage.OutputRoot == "" {
		c.Storage.OutputRoot = "temp_jobs"
	}

	if c.Worker.MaxDuration == 0 {
		c.Worker.MaxDuration = 360 * time.Second
	}
	if c.Worker.IdleInterval == 0 {
		c.Worker.IdleInterval = time.Second
	}

	if c.Tools.YtDlp == "" {
		c.Tools.YtDlp = "yt-dlp"
	}
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	if c.Tools.Demucs == "" {
		c.Tools.Demucs = "demucs"
	}
	if c.Tools.DemucsModel == "" {
		c.Tools.DemucsModel = "mdx_extra_q"
	}
	if c.Tools.Aubio == "" {
		c.Tools.Aubio = "aubio"
	}
	if c.Tools.KeyFinder == "" {
		c.Tools.KeyFinder = "keyfinder-cli"
	}
	if c.Tools.AudioQuality == "" {
		c.Tools.AudioQuality = "192K"
	}
	if c.Tools.MixBitrate == "" {
		c.Tools.MixBitrate = "192k"
	}

	if c.RabbitMQ.Enabled {
		c.RabbitMQ.applyDefaults()
	}
}

func (r *RabbitMQConfig) applyDefaults() {
	if r.Port == 0 {
		r.Port = 5672
	}
	if r.VHost == "" {
		r.VHost = "/"
	}
	if r.Exchange.Type == "" {
		r.Exchange.Type = "topic"
	}
	if r.EventsRoutingKey == "" {
		r.EventsRoutingKey = "stems.events"
	}
	if r.Intake.Queue != "" && r.Intake.RoutingKey == "" {
		r.Intake.RoutingKey = "stems.submit"
	}
	if r.Intake.PrefetchCount == 0 {
		r.Intake.PrefetchCount = 1
	}
	if r.Connection.RetryAttempts == 0 {
		r.Connection.RetryAttempts = 5
	}
	if r.Connection.RetryInterval == 0 {
		r.Connection.RetryInterval = 2 * time.Second
	}
	if r.Connection.Heartbeat == 0 {
		r.Connection.Heartbeat = 10 * time.Second
	}
	if r.Connection.ConnectionTimeout == 0 {
		r.Connection.ConnectionTimeout = 5 * time.Second
	}
	if r.Publish.RetryAttempts == 0 {
		r.Publish.RetryAttempts = 3
	}
	if r.Publish.RetryInterval == 0 {
		r.Publish.RetryInterval = 100 * time.Millisecond
	}
	if r.Publish.BackoffMultiplier == 0 {
		r.Publish.BackoffMultiplier = 2.0
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.SubmitRateLimit < 0 {
		return fmt.Errorf("server submit_rate_limit must not be negative")
	}

	if c.Storage.OutputRoot == "" {
		return fmt.Errorf("storage output_root is required")
	}

	if c.Worker.IdleInterval <= 0 {
		return fmt.Errorf("worker idle_interval must be greater than 0")
	}

	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Intake.Queue != "" && c.RabbitMQ.Intake.RoutingKey == c.RabbitMQ.EventsRoutingKey {
		return fmt.Errorf("rabbitmq intake routing_key must differ from events_routing_key")
	}

	return nil
}
