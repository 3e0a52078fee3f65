package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Benchtop Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Bench       BenchConfig       `yaml:"bench"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Serial      SerialConfig      `yaml:"serial"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SiteConfig identifies the bench.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BenchConfig contains the coordination settings.
type BenchConfig struct {
	// PollInterval is the telemetry cycle period. Default: 500ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SessionTimeout bounds every instrument exchange. Default: 5s.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// SettleDelay is the pause between configuring and reading the meter.
	// Default: 100ms.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// MeterRange is the DC voltage range used by the poll sequence.
	MeterRange float64 `yaml:"meter_range"`

	// PassBand is the inclusive acceptance range for meter readings.
	PassBand BandConfig `yaml:"pass_band"`

	// SupplyCurrentLimit is applied when the supply is configured.
	SupplyCurrentLimit float64 `yaml:"supply_current_limit"`

	// PreviewSamples is the number of points in a waveform preview.
	PreviewSamples int `yaml:"preview_samples"`

	// CommandQueue is the dispatcher request buffer.
	CommandQueue int `yaml:"command_queue"`

	// ConfigureOnStart runs the bench configuration sequences after
	// the instruments are opened.
	ConfigureOnStart bool `yaml:"configure_on_start"`
}

// BandConfig is an inclusive [Low, High] range.
type BandConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// InstrumentsConfig holds one address per role. An empty address means the
// instrument was not found.
type InstrumentsConfig struct {
	PowerSupply string `yaml:"power_supply"`
	Meter       string `yaml:"meter"`
	Generator   string `yaml:"generator"`
	Scope       string `yaml:"scope"`
}

// SerialConfig contains line defaults for serial instruments.
type SerialConfig struct {
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
	Terminator string `yaml:"terminator"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BENCHTOP_SECTION_KEY
// For example: BENCHTOP_DATABASE_PATH, BENCHTOP_INSTRUMENT_METER
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "bench-001",
			Name: "Benchtop",
		},
		Bench: BenchConfig{
			PollInterval:       500 * time.Millisecond,
			SessionTimeout:     5000 * time.Millisecond,
			SettleDelay:        100 * time.Millisecond,
			MeterRange:         10,
			PassBand:           BandConfig{Low: 5.0, High: 10.0},
			SupplyCurrentLimit: 2.0,
			PreviewSamples:     500,
			CommandQueue:       32,
			ConfigureOnStart:   true,
		},
		Serial: SerialConfig{
			BaudRate:   9600,
			DataBits:   8,
			StopBits:   1,
			Parity:     "N",
			Terminator: "lf",
		},
		Database: DatabaseConfig{
			Path:        "./data/benchtop.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "benchtop-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "benchtop",
			BatchSize:     100,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BENCHTOP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Instruments
	if v := os.Getenv("BENCHTOP_INSTRUMENT_POWER_SUPPLY"); v != "" {
		cfg.Instruments.PowerSupply = v
	}
	if v := os.Getenv("BENCHTOP_INSTRUMENT_METER"); v != "" {
		cfg.Instruments.Meter = v
	}
	if v := os.Getenv("BENCHTOP_INSTRUMENT_GENERATOR"); v != "" {
		cfg.Instruments.Generator = v
	}
	if v := os.Getenv("BENCHTOP_INSTRUMENT_SCOPE"); v != "" {
		cfg.Instruments.Scope = v
	}

	// Bench
	if v := os.Getenv("BENCHTOP_BENCH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bench.PollInterval = d
		}
	}
	if v := os.Getenv("BENCHTOP_BENCH_PASS_LOW"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Bench.PassBand.Low = f
		}
	}
	if v := os.Getenv("BENCHTOP_BENCH_PASS_HIGH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Bench.PassBand.High = f
		}
	}

	// Database
	if v := os.Getenv("BENCHTOP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BENCHTOP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BENCHTOP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BENCHTOP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BENCHTOP_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("BENCHTOP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("BENCHTOP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Instrument addresses are not checked here: a missing address is reported
// by the instrument registry as a missing device.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Bench validation
	if c.Bench.PollInterval <= 0 {
		errs = append(errs, "bench.poll_interval must be positive")
	}
	if c.Bench.SessionTimeout <= 0 {
		errs = append(errs, "bench.session_timeout must be positive")
	}
	if c.Bench.SettleDelay < 0 {
		errs = append(errs, "bench.settle_delay must not be negative")
	}
	if !positive(c.Bench.MeterRange) {
		errs = append(errs, "bench.meter_range must be positive")
	}
	switch {
	case math.IsNaN(c.Bench.PassBand.Low) || math.IsNaN(c.Bench.PassBand.High):
		errs = append(errs, "bench.pass_band bounds must be numbers")
	case c.Bench.PassBand.Low > c.Bench.PassBand.High:
		errs = append(errs, "bench.pass_band.low must not exceed bench.pass_band.high")
	}
	if !positive(c.Bench.SupplyCurrentLimit) {
		errs = append(errs, "bench.supply_current_limit must be positive")
	}
	if c.Bench.PreviewSamples < 1 {
		errs = append(errs, "bench.preview_samples must be at least 1")
	}
	if c.Bench.CommandQueue < 1 {
		errs = append(errs, "bench.command_queue must be at least 1")
	}

	// Serial validation
	switch strings.ToUpper(c.Serial.Parity) {
	case "N", "E", "O":
	default:
		errs = append(errs, "serial.parity must be N, E, or O")
	}
	switch strings.ToLower(c.Serial.Terminator) {
	case "lf", "crlf", "cr":
	default:
		errs = append(errs, "serial.terminator must be lf, crlf, or cr")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// positive reports whether v is a finite number above zero.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
