package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Broker struct {
		// Type selects the invocation transport: kafka, redis, or memory.
		Type        string `yaml:"type"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"broker"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string `yaml:"group_id"`
			BufferSize int    `yaml:"buffer_size"`
			MinBytes   int    `yaml:"min_bytes"`
			MaxBytes   int    `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"clickhouse"`
	Worker struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BackoffMin  time.Duration `yaml:"backoff_min"`
		BackoffMax  time.Duration `yaml:"backoff_max"`
		Timeout     time.Duration `yaml:"timeout"`
		// ForecastTimeout overrides Timeout for forecast invocations,
		// which run memory-heavy models.
		ForecastTimeout time.Duration `yaml:"forecast_timeout"`
		// ForecastWorkers is the consumer pool size for forecast
		// invocations. Capacity policy: 1 per host.
		ForecastWorkers int `yaml:"forecast_workers"`
		Workers         int `yaml:"workers"`
	} `yaml:"worker"`
	Providers struct {
		MarketDataURL     string        `yaml:"market_data_url"`
		AnalyticsURL      string        `yaml:"analytics_url"`
		Timeout           time.Duration `yaml:"timeout"`
		RateLimitPerSec   float64       `yaml:"rate_limit_per_sec"`
		RateLimitCapacity float64       `yaml:"rate_limit_capacity"`
	} `yaml:"providers"`
	TTL struct {
		Task       time.Duration `yaml:"task"`
		MarketData time.Duration `yaml:"market_data"`
	} `yaml:"ttl"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BROKER"); v != "" {
		c.Broker.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("MARKET_DATA_URL"); v != "" {
		c.Providers.MarketDataURL = v
	}
	if v := os.Getenv("ANALYTICS_URL"); v != "" {
		c.Providers.AnalyticsURL = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.TopicPrefix == "" {
		c.Broker.TopicPrefix = "analysis.tasks"
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.BackoffMin <= 0 {
		c.Worker.BackoffMin = 200 * time.Millisecond
	}
	if c.Worker.BackoffMax <= 0 {
		c.Worker.BackoffMax = 5 * time.Second
	}
	if c.Worker.Timeout <= 0 {
		c.Worker.Timeout = 60 * time.Second
	}
	if c.Worker.ForecastTimeout <= 0 {
		c.Worker.ForecastTimeout = 2 * c.Worker.Timeout
	}
	if c.Worker.ForecastWorkers <= 0 {
		c.Worker.ForecastWorkers = 1
	}
	if c.Worker.Workers <= 0 {
		c.Worker.Workers = 4
	}
	if c.TTL.Task <= 0 {
		c.TTL.Task = 24 * time.Hour
	}
	if c.TTL.MarketData <= 0 {
		c.TTL.MarketData = 30 * time.Minute
	}
	if c.Providers.Timeout <= 0 {
		c.Providers.Timeout = 30 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Broker.Type {
	case "kafka", "redis", "memory":
	default:
		return fmt.Errorf("broker.type must be 'kafka', 'redis' or 'memory', got '%s'", c.Broker.Type)
	}
	if c.Broker.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty for kafka broker")
	}
	if c.Broker.Type == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required for redis broker")
	}
	if c.Providers.MarketDataURL == "" {
		return fmt.Errorf("providers.market_data_url is required")
	}
	if c.Providers.AnalyticsURL == "" {
		return fmt.Errorf("providers.analytics_url is required")
	}
	return nil
}
