// Package config loads the marketplace server configuration from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/xtrntr/marketplace/internal/period"
)

// Config is the root configuration for the marketplace server.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Auth     AuthConfig    `yaml:"auth"`
	Market   MarketConfig  `yaml:"market"`
	Storage  StorageConfig `yaml:"storage"`
	Database DBConfig      `yaml:"database"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// MarketConfig describes the trading cycle.
type MarketConfig struct {
	// Anchor is the instant interval 0 starts.
	Anchor          time.Time     `yaml:"anchor"`
	Phases          []PhaseConfig `yaml:"phases"`
	DefaultGasLimit uint64        `yaml:"default_gas_limit"`
}

// PhaseConfig is one named segment of the cycle.
type PhaseConfig struct {
	Period   string        `yaml:"period"`
	Duration time.Duration `yaml:"duration"`
}

// StorageConfig selects where interval books live.
type StorageConfig struct {
	// Driver is one of memory, pebble, postgres.
	Driver    string `yaml:"driver"`
	PebbleDir string `yaml:"pebble_dir"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// KafkaConfig enables publishing marketplace events to Kafka when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Schedule converts the market section into a period schedule.
func (m MarketConfig) Schedule() (period.Schedule, error) {
	s := period.Schedule{Anchor: m.Anchor}
	for i, ph := range m.Phases {
		p, err := period.ParsePeriod(ph.Period)
		if err != nil {
			return period.Schedule{}, fmt.Errorf("market.phases[%d]: %w", i, err)
		}
		s.Phases = append(s.Phases, period.Phase{Period: p, Duration: ph.Duration})
	}
	return s, nil
}
