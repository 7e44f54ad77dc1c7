// Package config handles GrowStudio configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/growstudio/config.yaml, /etc/growstudio/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "growstudio", "config.yaml"))
	}

	paths = append(paths, "/etc/growstudio/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all GrowStudio configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	PublicURL string         `yaml:"public_url"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Liveness  LivenessConfig `yaml:"liveness"`
	REST      RESTConfig     `yaml:"rest"`
	History   HistoryConfig  `yaml:"history"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// ListenConfig defines where the dashboard HTTP server binds.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Addr returns the host:port string for net/http.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// MQTTConfig defines the broker connection used to reach the controller board.
type MQTTConfig struct {
	// Broker is the broker URL. Supported schemes are mqtt, tcp, ws,
	// mqtts, ssl, and wss.
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientIDPrefix is joined with the persisted instance ID to form
	// the MQTT client identifier.
	ClientIDPrefix string `yaml:"client_id_prefix"`

	KeepAliveSec      int `yaml:"keepalive_sec"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	PublishTimeoutMS  int `yaml:"publish_timeout_ms"`

	// OutboundBuffer is the number of commands that may wait for the
	// sender goroutine. Commands beyond this are dropped.
	OutboundBuffer int `yaml:"outbound_buffer"`

	// MaxMessagesPerSec caps inbound message handling. Zero disables
	// the limit.
	MaxMessagesPerSec int `yaml:"max_messages_per_sec"`
}

// PublishTimeout returns the per-publish deadline.
func (c MQTTConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// LivenessConfig tunes the device liveness monitor.
type LivenessConfig struct {
	ThresholdMS      int `yaml:"threshold_ms"`
	SampleIntervalMS int `yaml:"sample_interval_ms"`
}

// Threshold returns the maximum status age still considered connected.
func (c LivenessConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdMS) * time.Millisecond
}

// SampleInterval returns how often liveness is recomputed.
func (c LivenessConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

// RESTConfig points at the board's HTTP surface.
type RESTConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Configured reports whether a REST base URL is set.
func (c RESTConfig) Configured() bool {
	return c.URL != ""
}

// HistoryConfig controls the sensor reading store.
type HistoryConfig struct {
	Enabled        bool `yaml:"enabled"`
	MinIntervalSec int  `yaml:"min_interval_sec"`
	RetentionHours int  `yaml:"retention_hours"`
}

// Load reads configuration from a YAML file. A .env file next to the
// config is loaded first so ${VAR} references can resolve from it;
// variables already present in the environment take precedence.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{History: HistoryConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "ws://localhost:9001"
	}
	if c.MQTT.ClientIDPrefix == "" {
		c.MQTT.ClientIDPrefix = "growstudio"
	}
	if c.MQTT.KeepAliveSec == 0 {
		c.MQTT.KeepAliveSec = 30
	}
	if c.MQTT.ConnectTimeoutSec == 0 {
		c.MQTT.ConnectTimeoutSec = 30
	}
	if c.MQTT.PublishTimeoutMS == 0 {
		c.MQTT.PublishTimeoutMS = 2000
	}
	if c.MQTT.OutboundBuffer == 0 {
		c.MQTT.OutboundBuffer = 32
	}
	if c.Liveness.ThresholdMS == 0 {
		c.Liveness.ThresholdMS = 3001
	}
	if c.Liveness.SampleIntervalMS == 0 {
		c.Liveness.SampleIntervalMS = 100
	}
	if c.REST.TimeoutSec == 0 {
		c.REST.TimeoutSec = 10
	}
	if c.History.MinIntervalSec == 0 {
		c.History.MinIntervalSec = 5
	}
	if c.History.RetentionHours == 0 {
		c.History.RetentionHours = 168
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// brokerSchemes lists the URL schemes the MQTT session can dial.
var brokerSchemes = map[string]bool{
	"mqtt": true, "tcp": true, "ws": true,
	"mqtts": true, "ssl": true, "wss": true,
}

// Validate checks the configuration for values that would make startup
// fail later in a less obvious way.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}

	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	u, err := url.Parse(c.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	if !brokerSchemes[u.Scheme] {
		return fmt.Errorf("mqtt.broker scheme %q not supported (valid: mqtt, tcp, ws, mqtts, ssl, wss)", u.Scheme)
	}
	if c.MQTT.OutboundBuffer < 0 {
		return fmt.Errorf("mqtt.outbound_buffer must not be negative, got %d", c.MQTT.OutboundBuffer)
	}
	if c.MQTT.MaxMessagesPerSec < 0 {
		return fmt.Errorf("mqtt.max_messages_per_sec must not be negative, got %d", c.MQTT.MaxMessagesPerSec)
	}

	if c.Liveness.ThresholdMS <= 0 {
		return fmt.Errorf("liveness.threshold_ms must be positive, got %d", c.Liveness.ThresholdMS)
	}
	if c.Liveness.SampleIntervalMS <= 0 {
		return fmt.Errorf("liveness.sample_interval_ms must be positive, got %d", c.Liveness.SampleIntervalMS)
	}

	if c.REST.Configured() {
		if _, err := url.Parse(c.REST.URL); err != nil {
			return fmt.Errorf("rest.url: %w", err)
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q not supported (valid: text, json)", c.LogFormat)
	}
	return nil
}
