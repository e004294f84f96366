package server

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Zereker/vecstore/pkg/log"
	"github.com/Zereker/vecstore/pkg/mq"
	"github.com/Zereker/vecstore/pkg/redis"
	"github.com/Zereker/vecstore/pkg/vector"
)

// Config holds all configuration values
type Config struct {
	Server  ServerConfig   `toml:"server"`
	Log     log.Config     `toml:"log"`
	Vector  vector.Config  `toml:"vector"`
	Redis   redis.Config   `toml:"redis"`
	Kafka   mq.KafkaConfig `toml:"kafka"`
	Metrics MetricsConfig  `toml:"metrics"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Mode string `toml:"mode"` // http, mcp, or both
	Port int    `toml:"port"`
}

// MetricsConfig Prometheus 指标端点
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // 如 ":9090"
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.Mode == "" {
		s.Mode = "http" // default mode
	}
	switch s.Mode {
	case "http", "mcp", "both":
		// valid
	default:
		return fmt.Errorf("invalid mode: %s, must be http, mcp, or both", s.Mode)
	}
	if s.Mode != "mcp" && (s.Port <= 0 || s.Port > 65535) {
		return fmt.Errorf("port is required and must be between 1 and 65535")
	}
	return nil
}

// Validate checks metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Addr == "" {
		return fmt.Errorf("addr is required when metrics is enabled")
	}
	return nil
}

// Validate checks all configuration fields
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	c.Log.ApplyDefaults()
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	c.Vector.ApplyDefaults()
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return nil
}

// LoadConfig reads and parses the configuration file
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
