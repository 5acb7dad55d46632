package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/tphan267/arqut-relay/pkg/utils"
)

// Config holds the relay configuration
type Config struct {
	RelayAddr string `yaml:"relay_addr"` // WebSocket signaling listener
	WSPath    string `yaml:"ws_path"`
	APIAddr   string `yaml:"api_addr"` // Admin API listener (Fiber)
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`

	MaxConnections    int           `yaml:"max_connections"` // 0 means unlimited
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
	MessagesPerSecond int           `yaml:"messages_per_second"`
	SendQueueSize     int           `yaml:"send_queue_size"`
	EventRetention    int           `yaml:"event_retention"`

	Version string `yaml:"-"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

// Save writes the current configuration back to the file
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.file); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(c.file, data, 0o644)
}

// EnsureDefaultConfig applies env overrides and fills missing fields.
// When save is set and a default was filled, the file is rewritten.
func (c *Config) EnsureDefaultConfig(save bool) error {
	changed := false
	c.mu.Lock()

	// Env overrides
	if addr := utils.Env("RELAY_ADDR", ""); addr != "" {
		c.RelayAddr = addr
	}
	if addr := utils.Env("RELAY_API_ADDR", ""); addr != "" {
		c.APIAddr = addr
	}
	if dbPath := utils.Env("RELAY_DB_PATH", ""); dbPath != "" {
		c.DBPath = dbPath
	}
	if logLevel := utils.Env("RELAY_LOG_LEVEL", ""); logLevel != "" {
		c.LogLevel = logLevel
	}
	if maxConns := utils.Env("RELAY_MAX_CONNECTIONS", ""); maxConns != "" {
		c.MaxConnections = utils.StringToInt(maxConns)
	}

	// Create defaults
	if c.RelayAddr == "" {
		c.RelayAddr = ":8443"
		changed = true
	}
	if c.WSPath == "" {
		c.WSPath = "/"
		changed = true
	}
	if c.APIAddr == "" {
		c.APIAddr = ":3030"
		changed = true
	}
	if c.DBPath == "" {
		dir := "."
		if c.file != "" {
			dir = filepath.Dir(c.file)
		}
		c.DBPath = filepath.Join(dir, "relay.db")
		changed = true
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
		changed = true
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
		changed = true
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
		changed = true
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
		changed = true
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 50
		changed = true
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
		changed = true
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 1000
		changed = true
	}

	c.mu.Unlock()

	if changed && save {
		return c.Save()
	}
	return nil
}

// Load loads configuration from the YAML file, .env and environment variables.
// A missing file is not an error: defaults are filled and written to it.
func Load(version, file, logLevel string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Version: version,
		file:    file,
	}

	if _, err := os.Stat(file); err == nil {
		yamlFeeder := feeder.Yaml{Path: file}
		if err := config.New().AddFeeder(yamlFeeder).AddStruct(cfg).Feed(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	if err := cfg.EnsureDefaultConfig(true); err != nil {
		return nil, err
	}

	// Command-line log level wins over file and env
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	return cfg, nil
}
