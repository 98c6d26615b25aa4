package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr              = ":8080"
	DefaultBroadcastInterval = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultTokenTTL          = 24 * time.Hour
	DefaultGasLimit          = 1_000_000
	DefaultStorageDriver     = "memory"
	DefaultPebbleDir         = "data/marketplace"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultKafkaTopic        = "marketplace.events"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "auction"
)

// DefaultPhases is a fifteen minute cycle.
var DefaultPhases = []PhaseConfig{
	{Period: "BIDDING", Duration: 10 * time.Minute},
	{Period: "CLEARING", Duration: 2 * time.Minute},
	{Period: "SETTLEMENT", Duration: 3 * time.Minute},
}

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.BroadcastInterval == 0 {
		c.Server.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	// Auth defaults
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	// Market defaults
	if len(c.Market.Phases) == 0 {
		c.Market.Phases = append([]PhaseConfig(nil), DefaultPhases...)
	}
	if c.Market.DefaultGasLimit == 0 {
		c.Market.DefaultGasLimit = DefaultGasLimit
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.Driver == "pebble" && c.Storage.PebbleDir == "" {
		c.Storage.PebbleDir = DefaultPebbleDir
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}
