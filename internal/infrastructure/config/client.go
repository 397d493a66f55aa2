package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// ClientEnvPrefix prefixes every client environment variable.
const ClientEnvPrefix = "EXCHANGECHAT"

const (
	ProtocolTagged = "tagged"
	ProtocolLegacy = "legacy"
)

// ClientConfig holds the chat client settings. Precedence, lowest first:
// defaults, config file, EXCHANGECHAT_* environment, command-line flags.
type ClientConfig struct {
	URL        string        `envconfig:"URL"`
	Protocol   string        `envconfig:"PROTOCOL"`
	Timeout    time.Duration `envconfig:"TIMEOUT"`
	Currency   string        `envconfig:"CURRENCY"`
	Currencies []string      `envconfig:"CURRENCIES"`
	LogLevel   string        `envconfig:"LOG_LEVEL"`
	LogFile    string        `envconfig:"LOG_FILE"`
}

// clientFile mirrors ClientConfig in file form. Durations are strings
// ("30s") so YAML and TOML files read the same.
type clientFile struct {
	URL        string   `yaml:"url" toml:"url"`
	Protocol   string   `yaml:"protocol" toml:"protocol"`
	Timeout    string   `yaml:"timeout" toml:"timeout"`
	Currency   string   `yaml:"currency" toml:"currency"`
	Currencies []string `yaml:"currencies" toml:"currencies"`
	LogLevel   string   `yaml:"log_level" toml:"log_level"`
	LogFile    string   `yaml:"log_file" toml:"log_file"`
}

// DefaultClient returns the client defaults: the local server over the
// tagged protocol.
func DefaultClient() *ClientConfig {
	return &ClientConfig{
		URL:        "ws://127.0.0.1:8070",
		Protocol:   ProtocolTagged,
		Timeout:    30 * time.Second,
		Currency:   "USD",
		Currencies: []string{"USD", "EUR"},
		LogLevel:   "info",
		LogFile:    "exchangechat-client.log",
	}
}

// LoadClient builds the client configuration from defaults, the optional
// file at path and the environment.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(ClientEnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f clientFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return fmt.Errorf("unsupported config file type %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.URL != "" {
		c.URL = f.URL
	}
	if f.Protocol != "" {
		c.Protocol = f.Protocol
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return fmt.Errorf("parse config file %s: timeout: %w", path, err)
		}
		c.Timeout = d
	}
	if f.Currency != "" {
		c.Currency = f.Currency
	}
	if len(f.Currencies) > 0 {
		c.Currencies = f.Currencies
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.LogFile != "" {
		c.LogFile = f.LogFile
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid url %q: scheme must be ws or wss", c.URL)
	}
	if c.Protocol != ProtocolTagged && c.Protocol != ProtocolLegacy {
		return fmt.Errorf("invalid protocol %q: use %s or %s", c.Protocol, ProtocolTagged, ProtocolLegacy)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("at least one currency is required")
	}
	return nil
}
