package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// TestModeEnv enables test mode when present, whatever its value
const TestModeEnv = "INSTANA_TEST"

// Config holds all sensor configuration.
type Config struct {
	Agent   AgentConfig
	Tracer  TracerConfig
	Queue   QueueConfig
	Logging LogConfig
	Status  StatusConfig

	// TestMode makes the agent always ready and skips discovery
	TestMode bool `ignored:"true"`
}

// AgentConfig holds host agent connection configuration.
type AgentConfig struct {
	Host           string        `envconfig:"INSTANA_AGENT_HOST" default:"127.0.0.1"`
	Port           int           `envconfig:"INSTANA_AGENT_PORT" default:"42699"`
	Timeout        time.Duration `envconfig:"INSTANA_AGENT_TIMEOUT" default:"5s"`
	ReportInterval time.Duration `envconfig:"INSTANA_REPORT_INTERVAL" default:"1s"`
	RPS            float64       `envconfig:"INSTANA_AGENT_RPS" default:"50"`
	Gzip           bool          `envconfig:"INSTANA_GZIP" default:"false"`
}

// TracerConfig holds span creation configuration.
type TracerConfig struct {
	ServiceName  string `envconfig:"INSTANA_SERVICE_NAME"`
	TraceIDWidth int    `envconfig:"INSTANA_TRACE_ID_WIDTH" default:"1"`
}

// QueueConfig holds trace queue configuration.
type QueueConfig struct {
	Size          int           `envconfig:"INSTANA_QUEUE_SIZE" default:"1000"`
	BatchSize     int           `envconfig:"INSTANA_BATCH_SIZE" default:"100"`
	FlushInterval time.Duration `envconfig:"INSTANA_FLUSH_INTERVAL" default:"1s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"INSTANA_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"INSTANA_DEBUG" default:"false"`
}

// StatusConfig holds the local status server configuration.
type StatusConfig struct {
	Enabled bool   `envconfig:"INSTANA_STATUS_ENABLED" default:"false"`
	Addr    string `envconfig:"INSTANA_STATUS_ADDR" default:"127.0.0.1:16816"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	_, cfg.TestMode = os.LookupEnv(TestModeEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		_, cfg.TestMode = os.LookupEnv(TestModeEnv)
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Host:           "127.0.0.1",
			Port:           42699,
			Timeout:        5 * time.Second,
			ReportInterval: time.Second,
			RPS:            50,
		},
		Tracer: TracerConfig{
			TraceIDWidth: 1,
		},
		Queue: QueueConfig{
			Size:          1000,
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:16816",
		},
	}
}

// Validate rejects values the sensor cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Agent.Port <= 0 || c.Agent.Port > 65535:
		return fmt.Errorf("invalid INSTANA_AGENT_PORT %d", c.Agent.Port)
	case c.Tracer.TraceIDWidth != 1 && c.Tracer.TraceIDWidth != 2:
		return fmt.Errorf("invalid INSTANA_TRACE_ID_WIDTH %d: must be 1 or 2", c.Tracer.TraceIDWidth)
	case c.Queue.Size <= 0:
		return fmt.Errorf("invalid INSTANA_QUEUE_SIZE %d", c.Queue.Size)
	case c.Queue.BatchSize <= 0:
		return fmt.Errorf("invalid INSTANA_BATCH_SIZE %d", c.Queue.BatchSize)
	}
	return nil
}
