package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for drivelink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dev       DevConfig       `yaml:"dev"`
}

// SiteConfig identifies this drivelink instance on the broker and in telemetry.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DeviceConfig holds every tunable of the connection supervisor.
// Defaults come from defaultConfig.
type DeviceConfig struct {
	// ProbeProperty is the lightweight, always-available property read by
	// the health probe.
	ProbeProperty string `yaml:"probe_property"`

	// ConnectTimeout bounds discovery during an explicit connect.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReconnectTimeout bounds each background discovery after an ordinary loss.
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`

	// RebootReconnectTimeout bounds each background discovery after a reboot.
	RebootReconnectTimeout time.Duration `yaml:"reboot_reconnect_timeout"`

	// RebootGracePeriod is how long the supervisor waits after a protected
	// operation before the first discovery attempt.
	RebootGracePeriod time.Duration `yaml:"reboot_grace_period"`

	// RebootCheckGrace is how long CheckConnection refuses to probe a
	// rebooting device.
	RebootCheckGrace time.Duration `yaml:"reboot_check_grace"`

	// RetryDelay is the pause between failed attempts after an ordinary loss.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// RebootRetryDelay is the pause between failed attempts while rebooting.
	RebootRetryDelay time.Duration `yaml:"reboot_retry_delay"`

	// MaxReconnectAttempts is the attempt ceiling for one loss episode.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// PollInterval is how often the watchdog runs CheckConnection. 0 disables it.
	PollInterval time.Duration `yaml:"poll_interval"`

	// USBReset configures the optional USB reset recovery action.
	USBReset USBResetConfig `yaml:"usb_reset"`
}

// USBResetConfig configures the usbreset recovery hook.
type USBResetConfig struct {
	Enabled bool `yaml:"enabled"`

	// VendorID and ProductID select the device for lsusb/usbreset ("1209", "0d32").
	VendorID  string `yaml:"vendor_id"`
	ProductID string `yaml:"product_id"`

	// AfterAttempts is the number of failed attempts in one episode before
	// the reset is issued (once per episode).
	AfterAttempts int `yaml:"after_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long journalled connection events are kept.
	// Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
//
// Write must exceed the save-and-reboot wait, otherwise the protected
// operation handlers are cut off mid-sequence.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DevConfig controls the in-process device simulator.
type DevConfig struct {
	// Simulate replaces the vendor driver with the simulated bus.
	Simulate bool `yaml:"simulate"`

	// Serials are the devices plugged into the simulated bus at startup.
	Serials []string `yaml:"serials"`

	// BootDelay is how long a simulated device stays off the bus after a reboot.
	BootDelay time.Duration `yaml:"boot_delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DRIVELINK_SECTION_KEY
// For example: DRIVELINK_DATABASE_PATH, DRIVELINK_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "drivelink-01",
			Name: "drivelink",
		},
		Device: DeviceConfig{
			ProbeProperty:          "vbus_voltage",
			ConnectTimeout:         10 * time.Second,
			ReconnectTimeout:       2 * time.Second,
			RebootReconnectTimeout: 3 * time.Second,
			RebootGracePeriod:      5 * time.Second,
			RebootCheckGrace:       8 * time.Second,
			RetryDelay:             1 * time.Second,
			RebootRetryDelay:       2 * time.Second,
			MaxReconnectAttempts:   10,
			PollInterval:           2 * time.Second,
			USBReset: USBResetConfig{
				VendorID:      "1209",
				ProductID:     "0d32",
				AfterAttempts: 5,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/drivelink.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "drivelink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Dev: DevConfig{
			Serials:   []string{"0x3a1f2b3c4d5e"},
			BootDelay: 3 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DRIVELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DRIVELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DRIVELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DRIVELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DRIVELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("DRIVELINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DRIVELINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("DRIVELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Device
	if v := os.Getenv("DRIVELINK_DEVICE_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.MaxReconnectAttempts = n
		}
	}

	// Dev
	if v := os.Getenv("DRIVELINK_DEV_SIMULATE"); v != "" {
		cfg.Dev.Simulate = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Device
	if c.Device.ProbeProperty == "" {
		errs = append(errs, "device.probe_property is required")
	}
	if c.Device.MaxReconnectAttempts < 1 {
		errs = append(errs, "device.max_reconnect_attempts must be at least 1")
	}
	if c.Device.ConnectTimeout <= 0 {
		errs = append(errs, "device.connect_timeout must be positive")
	}
	if c.Device.ReconnectTimeout <= 0 || c.Device.RebootReconnectTimeout <= 0 {
		errs = append(errs, "device reconnect timeouts must be positive")
	}
	if c.Device.RebootGracePeriod < 0 || c.Device.RebootCheckGrace < 0 {
		errs = append(errs, "device grace periods cannot be negative")
	}
	if c.Device.RetryDelay < 0 || c.Device.RebootRetryDelay < 0 {
		errs = append(errs, "device retry delays cannot be negative")
	}
	if c.Device.PollInterval < 0 {
		errs = append(errs, "device.poll_interval cannot be negative")
	}
	if c.Device.USBReset.Enabled {
		if c.Device.USBReset.VendorID == "" || c.Device.USBReset.ProductID == "" {
			errs = append(errs, "device.usb_reset requires vendor_id and product_id")
		}
		if c.Device.USBReset.AfterAttempts < 1 {
			errs = append(errs, "device.usb_reset.after_attempts must be at least 1")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if c.Dev.Simulate && len(c.Dev.Serials) == 0 {
		errs = append(errs, "dev.serials must list at least one device when simulating")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
