package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig      `yaml:"device"`
	Coordinator     CoordinatorConfig `yaml:"coordinator"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	API             APIConfig         `yaml:"api"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	InfluxDB        InfluxDBConfig    `yaml:"influxdb"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Script          string            `yaml:"script"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig contains PetWALK appliance connection settings
type DeviceConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	Name             string   `yaml:"name"`               // Friendly name, used in entity names (default: host)
	IncludeAllEvents bool     `yaml:"include_all_events"` // Kept for config compatibility; not used by the local API
	Timeout          Duration `yaml:"timeout"`            // HTTP timeout for a single request
}

// GetName returns the configured device name, falling back to the host.
func (c *DeviceConfig) GetName() string {
	if c.Name == "" {
		return c.Host
	}
	return c.Name
}

// CoordinatorConfig contains polling and command timing settings
type CoordinatorConfig struct {
	UpdateInterval   Duration `yaml:"update_interval"`
	RefreshTimeout   Duration `yaml:"refresh_timeout"`
	SettleDelay      Duration `yaml:"settle_delay"`       // Wait after a mode/door write before refreshing
	PowerSettleDelay Duration `yaml:"power_settle_delay"` // Wait after a system power write before refreshing
	RateLimitRPS     float64  `yaml:"rate_limit_rps"`     // Max writes per second sent to the appliance
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"` // Emit JSON lines instead of console output
}

// GetLevel parses the configured level, falling back to info.
func (c *LogConfig) GetLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port for the health server.
func (c *HealthcheckConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig contains REST API server settings
type APIConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns host:port for the REST API server.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig contains MQTT bridge settings
type MQTTConfig struct {
	Enabled     bool       `yaml:"enabled"`
	Broker      MQTTBroker `yaml:"broker"`
	Auth        MQTTAuth   `yaml:"auth"`
	TopicPrefix string     `yaml:"topic_prefix"`
	QoS         byte       `yaml:"qos"`
	KeepAlive   Duration   `yaml:"keep_alive"`
}

// MQTTBroker identifies the broker to connect to
type MQTTBroker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	TLS      bool   `yaml:"tls"`
}

// MQTTAuth contains broker credentials
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains state history export settings
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     uint     `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// GetShutdownTimeout returns the graceful stop budget for servers and workers.
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./petwalkd.sqlite"
	}

	// Device defaults
	if cfg.Device.Port == 0 {
		cfg.Device.Port = 8080
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = Duration(10 * time.Second)
	}

	// Coordinator defaults
	if cfg.Coordinator.UpdateInterval == 0 {
		cfg.Coordinator.UpdateInterval = Duration(5 * time.Second)
	}
	if cfg.Coordinator.RefreshTimeout == 0 {
		cfg.Coordinator.RefreshTimeout = Duration(10 * time.Second)
	}
	if cfg.Coordinator.SettleDelay == 0 {
		cfg.Coordinator.SettleDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Coordinator.PowerSettleDelay == 0 {
		cfg.Coordinator.PowerSettleDelay = Duration(1 * time.Second)
	}
	if cfg.Coordinator.RateLimitRPS == 0 {
		cfg.Coordinator.RateLimitRPS = 5.0
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8099
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.Broker.Port == 0 {
		cfg.MQTT.Broker.Port = 1883
	}
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "petwalkd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "petwalk"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = Duration(60 * time.Second)
	}

	// InfluxDB defaults
	if cfg.InfluxDB.BatchSize == 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	if cfg.InfluxDB.FlushInterval == 0 {
		cfg.InfluxDB.FlushInterval = Duration(10 * time.Second)
	}

	if cfg.Script == "" {
		cfg.Script = "main.lua"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Device.Host == "" {
		errs = append(errs, errors.New("device.host is required"))
	}
	if cfg.Device.Port < 1 || cfg.Device.Port > 65535 {
		errs = append(errs, fmt.Errorf("device.port %d out of range", cfg.Device.Port))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker.Host == "" {
		errs = append(errs, errors.New("mqtt.broker.host is required when mqtt is enabled"))
	}
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", cfg.MQTT.QoS))
	}
	if cfg.InfluxDB.Enabled && (cfg.InfluxDB.URL == "" || cfg.InfluxDB.Bucket == "") {
		errs = append(errs, errors.New("influxdb.url and influxdb.bucket are required when influxdb is enabled"))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
