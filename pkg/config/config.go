package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	BridgeBlueZ = "bluez"
	BridgeGoBLE = "goble"
)

// Config holds application configuration
type Config struct {
	LogLevel            string        `yaml:"log_level" default:"info"`
	Bridge              string        `yaml:"bridge" default:"bluez"`
	Debounce            time.Duration `yaml:"debounce" default:"250ms"`
	AdapterPollInterval time.Duration `yaml:"adapter_poll_interval" default:"2s"`
	SinkCapacity        uint32        `yaml:"sink_capacity" default:"256"`
	JournalSize         int           `yaml:"journal_size" default:"65536"`
	HCIID               int           `yaml:"hci_id" default:"0"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load returns the defaults overridden by the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Bridge {
	case BridgeBlueZ, BridgeGoBLE:
	default:
		return fmt.Errorf("unknown bridge %q (must be %s or %s)", c.Bridge, BridgeBlueZ, BridgeGoBLE)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	if c.AdapterPollInterval < 0 {
		return fmt.Errorf("adapter_poll_interval must not be negative, got %s", c.AdapterPollInterval)
	}
	if c.SinkCapacity == 0 {
		return fmt.Errorf("sink_capacity must be positive")
	}
	if c.JournalSize <= 0 {
		return fmt.Errorf("journal_size must be positive, got %d", c.JournalSize)
	}
	if c.HCIID < 0 {
		return fmt.Errorf("hci_id must not be negative, got %d", c.HCIID)
	}
	return nil
}

// Level parses LogLevel
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return lvl, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	lvl, _ := c.Level()
	logger.SetLevel(lvl)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
