package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
)

// ErrMissingConfiguration is returned by Validate when a required value
// (project id, device path, publish topic) has not been supplied.
var ErrMissingConfiguration = errors.New("config: missing required configuration")

// Config is the root configuration structure for the device agent.
// All configuration is loaded from YAML and can be overridden by environment
// variables and, finally, command-line flags.
type Config struct {
	Device        DeviceConfig         `yaml:"device"`
	MQTT          MQTTConfig           `yaml:"mqtt"`
	Credentials   CredentialsConfig    `yaml:"credentials"`
	Publish       PublishConfig        `yaml:"publish"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Inbound       InboundConfig        `yaml:"inbound"`
	Retry         RetryConfig          `yaml:"retry"`
	Database      DatabaseConfig       `yaml:"database"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	API           APIConfig            `yaml:"api"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// DeviceConfig identifies the device to the broker.
type DeviceConfig struct {
	// ProjectID is the cloud project the device belongs to. It becomes the
	// audience of every minted token.
	ProjectID string `yaml:"project_id"`

	// DevicePath is the full device resource path, used as the MQTT client id.
	// Format: projects/{p}/locations/{l}/registries/{r}/devices/{d}
	DevicePath string `yaml:"device_path"`
}

// DeviceID returns the last segment of the device path.
func (d DeviceConfig) DeviceID() string {
	if d.DevicePath == "" {
		return ""
	}
	return path.Base(d.DevicePath)
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`

	// Username is sent on CONNECT. The broker ignores it; the token is the
	// credential.
	Username string `yaml:"username"`

	// ConnectTimeout bounds the CONNECT/CONNACK exchange (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAlive is the MQTT keepalive interval (seconds).
	KeepAlive int `yaml:"keepalive"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	TLS    bool   `yaml:"tls"`
	CAFile string `yaml:"ca_file"`
}

// CredentialsConfig describes where the private key lives and how tokens are minted.
type CredentialsConfig struct {
	// Backend is "fs" or "sqlite".
	Backend string `yaml:"backend"`

	// Directory is the directory the fs backend resolves relative key names against.
	Directory string `yaml:"directory"`

	// PrivateKeyFile is the name of the PEM-encoded private key resource.
	PrivateKeyFile string `yaml:"private_key_file"`

	// BufferSize is the capacity of the in-memory credential buffer (bytes).
	BufferSize int `yaml:"buffer_size"`

	// TokenValidity is the lifetime of each minted token (seconds).
	TokenValidity int `yaml:"token_validity"`

	// Watch reloads the key when the file changes (fs backend only).
	Watch bool `yaml:"watch"`
}

// PublishConfig describes the periodic outbound message.
type PublishConfig struct {
	Topic        string `yaml:"topic"`
	Message      string `yaml:"message"`
	QoS          int    `yaml:"qos"`
	Interval     int    `yaml:"interval"`
	InitialDelay int    `yaml:"initial_delay"`
}

// SubscriptionConfig is a topic pattern established after every successful connect.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// InboundConfig bounds inbound message handling.
type InboundConfig struct {
	// MaxPayload is the size of the local copy buffer (bytes).
	MaxPayload int `yaml:"max_payload"`

	// Overflow is "truncate" or "reject".
	Overflow string `yaml:"overflow"`
}

// RetryConfig controls reconnection after a failed open.
// MaxAttempts of 0 halts on the first failed open.
type RetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite settings for the sqlite credential backend.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for lifecycle telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// envOverrides lists the environment variables that override file values.
// Unset variables leave the zero value, which is skipped when applying.
type envOverrides struct {
	ProjectID      string `env:"DEVICELINK_PROJECT_ID"`
	DevicePath     string `env:"DEVICELINK_DEVICE_PATH"`
	MQTTHost       string `env:"DEVICELINK_MQTT_HOST"`
	MQTTPort       int    `env:"DEVICELINK_MQTT_PORT"`
	PrivateKeyFile string `env:"DEVICELINK_PRIVATE_KEY_FILE"`
	PublishTopic   string `env:"DEVICELINK_PUBLISH_TOPIC"`
	DatabasePath   string `env:"DEVICELINK_DATABASE_PATH"`
	InfluxDBToken  string `env:"DEVICELINK_INFLUXDB_TOKEN"`
	LogLevel       string `env:"DEVICELINK_LOG_LEVEL"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// An empty path skips step 2. Load does not validate: flags may still supply
// required values, so callers run Validate once everything is merged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a Config with the reference device defaults.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "mqtt.googleapis.com",
				Port: 8883,
				TLS:  true,
			},
			Username:       "unused",
			ConnectTimeout: 10,
			KeepAlive:      20,
		},
		Credentials: CredentialsConfig{
			Backend:        "fs",
			Directory:      ".",
			PrivateKeyFile: "ec_private.pem",
			BufferSize:     2048,
			TokenValidity:  3600,
		},
		Publish: PublishConfig{
			Message:      "Hello From Your IoTC client!",
			QoS:          1,
			Interval:     5,
			InitialDelay: 15,
		},
		Inbound: InboundConfig{
			MaxPayload: 128,
			Overflow:   "truncate",
		},
		Retry: RetryConfig{
			MaxAttempts:  0,
			InitialDelay: 1,
			MaxDelay:     60,
		},
		Database: DatabaseConfig{
			Path:        "./data/devicelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies DEVICELINK_* environment variables to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decoding environment overrides: %w", err)
	}

	setString(&cfg.Device.ProjectID, env.ProjectID)
	setString(&cfg.Device.DevicePath, env.DevicePath)
	setString(&cfg.MQTT.Broker.Host, env.MQTTHost)
	if env.MQTTPort != 0 {
		cfg.MQTT.Broker.Port = env.MQTTPort
	}
	setString(&cfg.Credentials.PrivateKeyFile, env.PrivateKeyFile)
	setString(&cfg.Publish.Topic, env.PublishTopic)
	setString(&cfg.Database.Path, env.DatabasePath)
	setString(&cfg.InfluxDB.Token, env.InfluxDBToken)
	setString(&cfg.Logging.Level, env.LogLevel)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyDerivedDefaults fills values that depend on other settings.
// With no subscriptions configured the device listens on its command topic.
func (c *Config) ApplyDerivedDefaults() {
	if len(c.Subscriptions) == 0 && c.Device.DeviceID() != "" {
		c.Subscriptions = []SubscriptionConfig{{
			Topic: mqtt.Topics{}.AllDeviceCommands(c.Device.DeviceID()),
			QoS:   1,
		}}
	}
}

// MissingRequired reports the command-line flags for every required value
// that is still empty. The order matches the usage text.
func (c *Config) MissingRequired() []string {
	var missing []string
	if c.Device.ProjectID == "" {
		missing = append(missing, "-p --project_id")
	}
	if c.Device.DevicePath == "" {
		missing = append(missing, "-d --device_path")
	}
	if c.Publish.Topic == "" {
		missing = append(missing, "-t --publish_topic")
	}
	return missing
}

// Validate checks the configuration for errors.
//
// Missing required values produce an error wrapping ErrMissingConfiguration
// that names each flag; other problems are collected and reported together.
func (c *Config) Validate() error {
	if missing := c.MissingRequired(); len(missing) > 0 {
		lines := make([]string, len(missing))
		for i, flag := range missing {
			lines[i] = flag + " is required"
		}
		return fmt.Errorf("%w: %s", ErrMissingConfiguration, strings.Join(lines, "; "))
	}

	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keepalive must be positive")
	}

	switch c.Credentials.Backend {
	case "fs", "sqlite":
	default:
		errs = append(errs, "credentials.backend must be fs or sqlite")
	}
	if c.Credentials.PrivateKeyFile == "" {
		errs = append(errs, "credentials.private_key_file is required")
	}
	if c.Credentials.BufferSize <= 0 {
		errs = append(errs, "credentials.buffer_size must be positive")
	}
	if c.Credentials.TokenValidity <= 0 || c.Credentials.TokenValidity > 86400 {
		errs = append(errs, "credentials.token_validity must be between 1 and 86400 seconds")
	}
	if c.Credentials.Watch && c.Credentials.Backend != "fs" {
		errs = append(errs, "credentials.watch requires the fs backend")
	}

	if !validQoS(c.Publish.QoS) {
		errs = append(errs, "publish.qos must be 0, 1, or 2")
	}
	if c.Publish.Interval <= 0 {
		errs = append(errs, "publish.interval must be positive")
	}
	if c.Publish.InitialDelay < 0 {
		errs = append(errs, "publish.initial_delay must not be negative")
	}

	for i, sub := range c.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		}
		if !validQoS(sub.QoS) {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	if c.Inbound.MaxPayload <= 0 {
		errs = append(errs, "inbound.max_payload must be positive")
	}
	switch c.Inbound.Overflow {
	case "truncate", "reject":
	default:
		errs = append(errs, "inbound.overflow must be truncate or reject")
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, "retry.max_attempts must not be negative")
	}
	if c.Retry.MaxAttempts > 0 && (c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay) {
		errs = append(errs, "retry delays must satisfy 0 < initial_delay <= max_delay")
	}

	if c.Credentials.Backend == "sqlite" && c.Database.Path == "" {
		errs = append(errs, "database.path is required for the sqlite backend")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validQoS(q int) bool {
	return q >= 0 && q <= 2
}

// ConnectTimeoutDuration returns the connect timeout as a Duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// KeepAliveDuration returns the keepalive interval as a Duration.
func (c *Config) KeepAliveDuration() time.Duration {
	return time.Duration(c.MQTT.KeepAlive) * time.Second
}

// TokenValidityDuration returns the token lifetime as a Duration.
func (c *Config) TokenValidityDuration() time.Duration {
	return time.Duration(c.Credentials.TokenValidity) * time.Second
}

// PublishInterval returns the periodic publish interval as a Duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Publish.Interval) * time.Second
}

// PublishInitialDelay returns the delay before the first periodic publish.
func (c *Config) PublishInitialDelay() time.Duration {
	return time.Duration(c.Publish.InitialDelay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
