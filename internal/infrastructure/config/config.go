package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all server configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Exchange  ExchangeConfig
	WebSocket WebSocketConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8070"`
	Host string `envconfig:"HOST" default:"localhost"`
	// CORSOrigins lists the origins allowed to read /health and /metrics.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-IP HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// ExchangeConfig holds the rates API client and exchange service settings.
type ExchangeConfig struct {
	BaseURL            string        `envconfig:"PRIVATBANK_URL" default:"https://api.privatbank.ua/p24api"`
	Timeout            time.Duration `envconfig:"PRIVATBANK_TIMEOUT" default:"10s"`
	Retries            int           `envconfig:"PRIVATBANK_RETRIES" default:"3"`
	RequestsPerSecond  float64       `envconfig:"PRIVATBANK_RPS" default:"5"`
	BreakerFailures    uint32        `envconfig:"PRIVATBANK_BREAKER_FAILURES" default:"5"`
	BreakerTimeout     time.Duration `envconfig:"PRIVATBANK_BREAKER_TIMEOUT" default:"30s"`
	Currencies         []string      `envconfig:"EXCHANGE_CURRENCIES" default:"USD,EUR"`
	CacheTTL           time.Duration `envconfig:"EXCHANGE_CACHE_TTL" default:"1m"`
	JournalPath        string        `envconfig:"EXCHANGE_LOG_PATH" default:"exchange_log.txt"`
	MaxHistoryDays     int           `envconfig:"EXCHANGE_MAX_DAYS" default:"10"`
	HistoryConcurrency int           `envconfig:"EXCHANGE_HISTORY_CONCURRENCY" default:"4"`
}

// WebSocketConfig holds per-connection limits.
type WebSocketConfig struct {
	MessagesPerSecond float64       `envconfig:"WS_MESSAGE_RPS" default:"10"`
	Burst             int           `envconfig:"WS_MESSAGE_BURST" default:"20"`
	SendBuffer        int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	WriteTimeout      time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	MaxMessageBytes   int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"4096"`
	CommandTimeout    time.Duration `envconfig:"WS_COMMAND_TIMEOUT" default:"30s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8070",
			Host:        "localhost",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Exchange: ExchangeConfig{
			BaseURL:            "https://api.privatbank.ua/p24api",
			Timeout:            10 * time.Second,
			Retries:            3,
			RequestsPerSecond:  5,
			BreakerFailures:    5,
			BreakerTimeout:     30 * time.Second,
			Currencies:         []string{"USD", "EUR"},
			CacheTTL:           time.Minute,
			JournalPath:        "exchange_log.txt",
			MaxHistoryDays:     10,
			HistoryConcurrency: 4,
		},
		WebSocket: WebSocketConfig{
			MessagesPerSecond: 10,
			Burst:             20,
			SendBuffer:        64,
			WriteTimeout:      10 * time.Second,
			MaxMessageBytes:   4096,
			CommandTimeout:    30 * time.Second,
		},
	}
}
