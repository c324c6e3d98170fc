// Package config loads the mqttc command's configuration.
//
// Values come from, in increasing precedence: defaults, a YAML file, .env
// files and MQTTC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "MQTTC_"

// Config is the root configuration structure.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker" envPrefix:"BROKER_"`
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// BrokerConfig describes the connection to the broker.
type BrokerConfig struct {
	URL      string `yaml:"url" env:"URL"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`

	KeepAlive      Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	ConnectTimeout Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`

	AutoReconnect     bool     `yaml:"auto_reconnect" env:"AUTO_RECONNECT"`
	MinReconnectDelay Duration `yaml:"min_reconnect_delay" env:"MIN_RECONNECT_DELAY"`
	MaxReconnectDelay Duration `yaml:"max_reconnect_delay" env:"MAX_RECONNECT_DELAY"`

	// InsecureSkipVerify disables certificate checks for TLS brokers.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// Session store types.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// SessionConfig selects session persistence.
type SessionConfig struct {
	Clean bool `yaml:"clean" env:"CLEAN"`

	// Store is one of memory, file, sqlite or mongo.
	Store string `yaml:"store" env:"STORE"`
	// Path is the directory (file) or database file (sqlite).
	Path string `yaml:"path" env:"PATH"`

	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// MetricsConfig controls the HTTP listener for /metrics and /healthz.
// An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
}

// Load reads configuration from a YAML file and applies overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values, when path is not empty
//  3. Variables from envFiles (missing files are skipped)
//  4. MQTTC_* environment variables
func Load(path string, envFiles ...string) (*Config, error) {
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

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults matching the client library.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:               "tcp://localhost:1883",
			KeepAlive:         Duration(60 * time.Second),
			ConnectTimeout:    Duration(30 * time.Second),
			MinReconnectDelay: Duration(time.Second),
			MaxReconnectDelay: Duration(2 * time.Minute),
		},
		Session: SessionConfig{
			Clean:         true,
			Store:         StoreMemory,
			MongoDatabase: "mqttc",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.URL == "" {
		errs = append(errs, "broker.url is required")
	} else if u, err := url.Parse(c.Broker.URL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("broker.url %q is not a valid URL", c.Broker.URL))
	}
	if c.Broker.KeepAlive < 0 {
		errs = append(errs, "broker.keep_alive must not be negative")
	}
	if c.Broker.ConnectTimeout < 0 {
		errs = append(errs, "broker.connect_timeout must not be negative")
	}
	if c.Broker.MinReconnectDelay > c.Broker.MaxReconnectDelay {
		errs = append(errs, "broker.min_reconnect_delay exceeds max_reconnect_delay")
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.Session.Path == "" {
			errs = append(errs, fmt.Sprintf("session.path is required for store %q", c.Session.Store))
		}
	case StoreMongo:
		if c.Session.MongoURI == "" {
			errs = append(errs, "session.mongo_uri is required for store \"mongo\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.store %q is not one of memory, file, sqlite, mongo", c.Session.Store))
	}
	if c.Session.Store != StoreMemory && c.Broker.ClientID == "" {
		errs = append(errs, "broker.client_id is required with a persistent session store")
	}
	if c.Session.Store != StoreMemory && c.Session.Clean {
		errs = append(errs, "session.store has no effect with session.clean; set clean: false")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Duration is a time.Duration that parses Go syntax ("90s") or ISO 8601
// ("PT1M30S").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration parses s as a Go duration or, failing that, ISO 8601.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if td, err := time.ParseDuration(s); err == nil {
		return Duration(td), nil
	}
	iso, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(iso.ToTimeDuration()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for environment values.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
