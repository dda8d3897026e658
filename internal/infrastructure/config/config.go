package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/spherolink/internal/protocol/command"
)

// Config is the root configuration structure for spherolink.
type Config struct {
	Service   ServiceConfig   `yaml:"service" toml:"service"`
	Adapter   AdapterConfig   `yaml:"adapter" toml:"adapter"`
	Protocol  ProtocolConfig  `yaml:"protocol" toml:"protocol"`
	Fleet     FleetConfig     `yaml:"fleet" toml:"fleet"`
	Toys      []ToyConfig     `yaml:"toys" toml:"toys"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	API       APIConfig       `yaml:"api" toml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" toml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Security  SecurityConfig  `yaml:"security" toml:"security"`
}

// ServiceConfig identifies this daemon instance.
type ServiceConfig struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name" toml:"name"`
}

// Adapter types.
const (
	AdapterTCP = "tcp"
	AdapterSim = "sim"
)

// AdapterConfig selects the transport adapter.
type AdapterConfig struct {
	// Type is "tcp" for a BLE-to-TCP bridge or "sim" for in-process
	// simulated toys built from the toys list.
	Type           string `yaml:"type" toml:"type"`
	Address        string `yaml:"address" toml:"address"`
	ConnectTimeout int    `yaml:"connect_timeout" toml:"connect_timeout"` // seconds
	ScanTimeout    int    `yaml:"scan_timeout" toml:"scan_timeout"`       // seconds

	// Process optionally launches and supervises the tcp adapter binary.
	Process AdapterProcessConfig `yaml:"process" toml:"process"`
}

// AdapterProcessConfig describes the adapter binary spherod supervises.
// An empty Binary means the adapter is managed elsewhere.
type AdapterProcessConfig struct {
	Binary       string   `yaml:"binary" toml:"binary"`
	Args         []string `yaml:"args" toml:"args"`
	ReadyTimeout int      `yaml:"ready_timeout" toml:"ready_timeout"` // seconds
	RestartDelay int      `yaml:"restart_delay" toml:"restart_delay"` // seconds
	MaxRestarts  int      `yaml:"max_restarts" toml:"max_restarts"`   // 0 = unlimited
}

// ProtocolConfig tunes the protocol engine.
type ProtocolConfig struct {
	CommandTimeout int `yaml:"command_timeout" toml:"command_timeout"` // milliseconds
	QueueSize      int `yaml:"queue_size" toml:"queue_size"`
}

// FleetConfig controls reconnection of configured toys.
type FleetConfig struct {
	ReconnectInitial int `yaml:"reconnect_initial" toml:"reconnect_initial"` // seconds
	ReconnectMax     int `yaml:"reconnect_max" toml:"reconnect_max"`         // seconds
}

// ToyConfig is one toy the daemon manages.
type ToyConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Kind        string `yaml:"kind" toml:"kind"`
	Address     string `yaml:"address" toml:"address"`
	AutoConnect bool   `yaml:"auto_connect" toml:"auto_connect"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled" toml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS         int                 `yaml:"qos" toml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix" toml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" toml:"enabled"`
	Host     string           `yaml:"host" toml:"host"`
	Port     int              `yaml:"port" toml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors" toml:"cors"`
	Panel    PanelConfig      `yaml:"panel" toml:"panel"`
}

// PanelConfig controls the browser console served under /panel/.
type PanelConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Dir serves console assets from disk instead of the embedded copy.
	Dir string `yaml:"dir" toml:"dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path" toml:"path"`
	MaxMessageSize int    `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout" toml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for session statistics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"` // seconds
	StatsInterval int    `yaml:"stats_interval" toml:"stats_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt" toml:"jwt"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" toml:"bootstrap"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret" toml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl" toml:"access_token_ttl"` // minutes
}

// BootstrapConfig creates the first admin operator when none exists.
type BootstrapConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// Load reads configuration from a YAML or TOML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are TOML, anything
//     else YAML
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SPHEROLINK_SECTION_KEY
// For example: SPHEROLINK_DATABASE_PATH, SPHEROLINK_ADAPTER_ADDRESS
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("parsing config file: unknown keys %s", strings.Join(keys, ", "))
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "spherolink-01",
			Name: "spherolink",
		},
		Adapter: AdapterConfig{
			Type:           AdapterTCP,
			Address:        "127.0.0.1:50004",
			ConnectTimeout: 10,
			ScanTimeout:    5,
		},
		Protocol: ProtocolConfig{
			CommandTimeout: 10000,
			QueueSize:      100,
		},
		Fleet: FleetConfig{
			ReconnectInitial: 2,
			ReconnectMax:     60,
		},
		Database: DatabaseConfig{
			Path:        "./data/spherolink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "spherolink",
			},
			QoS:         1,
			TopicPrefix: "spherolink",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8480,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Panel: PanelConfig{Enabled: true},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "spherolink",
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SPHEROLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"SPHEROLINK_ADAPTER_TYPE":       &cfg.Adapter.Type,
		"SPHEROLINK_ADAPTER_ADDRESS":    &cfg.Adapter.Address,
		"SPHEROLINK_DATABASE_PATH":      &cfg.Database.Path,
		"SPHEROLINK_MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"SPHEROLINK_MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"SPHEROLINK_MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"SPHEROLINK_API_HOST":           &cfg.API.Host,
		"SPHEROLINK_INFLUXDB_URL":       &cfg.InfluxDB.URL,
		"SPHEROLINK_INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"SPHEROLINK_JWT_SECRET":         &cfg.Security.JWT.Secret,
		"SPHEROLINK_BOOTSTRAP_USERNAME": &cfg.Security.Bootstrap.Username,
		"SPHEROLINK_BOOTSTRAP_PASSWORD": &cfg.Security.Bootstrap.Password,
		"SPHEROLINK_LOGGING_LEVEL":      &cfg.Logging.Level,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SPHEROLINK_API_PORT":                 &cfg.API.Port,
		"SPHEROLINK_MQTT_PORT":                &cfg.MQTT.Broker.Port,
		"SPHEROLINK_PROTOCOL_COMMAND_TIMEOUT": &cfg.Protocol.CommandTimeout,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"SPHEROLINK_MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"SPHEROLINK_API_ENABLED":      &cfg.API.Enabled,
		"SPHEROLINK_INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	for name, dst := range bools {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
// Every problem found is reported, not just the first.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Service.ID == "" {
		add("service.id is required")
	}

	switch c.Adapter.Type {
	case AdapterTCP:
		if c.Adapter.Address == "" {
			add("adapter.address is required for the tcp adapter")
		}
	case AdapterSim:
		if c.Adapter.Process.Binary != "" {
			add("adapter.process requires the tcp adapter")
		}
	default:
		add("adapter.type must be %q or %q", AdapterTCP, AdapterSim)
	}

	if c.Adapter.Process.ReadyTimeout < 0 || c.Adapter.Process.RestartDelay < 0 || c.Adapter.Process.MaxRestarts < 0 {
		add("adapter.process timings and max_restarts must not be negative")
	}

	if c.Protocol.CommandTimeout <= 0 {
		add("protocol.command_timeout must be positive")
	}
	if c.Protocol.QueueSize <= 0 {
		add("protocol.queue_size must be positive")
	}
	if c.Fleet.ReconnectInitial <= 0 || c.Fleet.ReconnectMax < c.Fleet.ReconnectInitial {
		add("fleet.reconnect_initial must be positive and not exceed fleet.reconnect_max")
	}

	seen := make(map[string]bool, len(c.Toys))
	for i, t := range c.Toys {
		if t.Name == "" {
			add("toys[%d].name is required", i)
		} else if seen[t.Name] {
			add("toys[%d].name %q is duplicated", i, t.Name)
		}
		seen[t.Name] = true
		if _, err := command.ParseKind(t.Kind); err != nil {
			add("toys[%d].kind: %w", i, err)
		}
		if t.Address == "" {
			add("toys[%d].address is required", i)
		}
	}

	if c.Database.Path == "" {
		add("database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		add("mqtt.topic_prefix is required")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			add("api.port must be between 1 and 65535")
		}
		// Tokens signed with a short secret can be forged.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			add("security.jwt.secret is required (set SPHEROLINK_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			add("security.jwt.secret must be at least 32 characters")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		add("influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// ToyKind returns the parsed kind of a validated toy entry.
func (t ToyConfig) ToyKind() command.Kind {
	k, _ := command.ParseKind(t.Kind)
	return k
}

// CommandTimeout returns the default command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Protocol.CommandTimeout) * time.Millisecond
}

// ConnectTimeout returns the adapter connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Adapter.ConnectTimeout) * time.Second
}

// ScanTimeout returns the adapter scan timeout.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Adapter.ScanTimeout) * time.Second
}

// ReconnectBackoff returns the initial and maximum reconnect delays.
func (c *Config) ReconnectBackoff() (initial, maxDelay time.Duration) {
	return time.Duration(c.Fleet.ReconnectInitial) * time.Second, time.Duration(c.Fleet.ReconnectMax) * time.Second
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
