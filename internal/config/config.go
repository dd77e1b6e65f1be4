package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SHUKKU_SERVER_PORT
const EnvPrefix = "SHUKKU"

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	JWT      JWTConfig      `yaml:"jwt" envconfig:"JWT"`
	Push     PushConfig     `yaml:"push" envconfig:"PUSH"`
	Pairs    PairsConfig    `yaml:"pairs" envconfig:"PAIRS"`
	Sync     SyncConfig     `yaml:"sync" envconfig:"SYNC"`
	Notify   NotifyConfig   `yaml:"notify" envconfig:"NOTIFY"`
	Metadata MetadataConfig `yaml:"metadata" envconfig:"METADATA"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	Host            string        `yaml:"host" envconfig:"HOST"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds database configuration.
// An empty Host selects the in-memory store.
type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	User     string `yaml:"user" envconfig:"USER"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DBName   string `yaml:"dbname" envconfig:"DBNAME"`
	SSLMode  string `yaml:"sslmode" envconfig:"SSLMODE"`
	Migrate  bool   `yaml:"migrate" envconfig:"MIGRATE"`
}

// RedisConfig holds the preview cache backend. An empty Addr keeps the cache in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret" envconfig:"SECRET"`
}

// PushConfig selects and configures the push provider
type PushConfig struct {
	Provider string     `yaml:"provider" envconfig:"PROVIDER"` // fcm, apns or log
	FCM      FCMConfig  `yaml:"fcm" envconfig:"FCM"`
	APNs     APNsConfig `yaml:"apns" envconfig:"APNS"`
}

// FCMConfig holds Firebase Cloud Messaging credentials
type FCMConfig struct {
	ProjectID       string `yaml:"project_id" envconfig:"PROJECT_ID"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	CredentialsJSON string `yaml:"credentials_json" envconfig:"CREDENTIALS_JSON"`
}

// APNsConfig holds Apple Push Notification service credentials.
// KeyFile (.p8) selects token auth, CertFile (.p12) selects certificate auth.
type APNsConfig struct {
	KeyFile      string `yaml:"key_file" envconfig:"KEY_FILE"`
	KeyID        string `yaml:"key_id" envconfig:"KEY_ID"`
	TeamID       string `yaml:"team_id" envconfig:"TEAM_ID"`
	CertFile     string `yaml:"cert_file" envconfig:"CERT_FILE"`
	CertPassword string `yaml:"cert_password" envconfig:"CERT_PASSWORD"`
	Topic        string `yaml:"topic" envconfig:"TOPIC"`
	Production   bool   `yaml:"production" envconfig:"PRODUCTION"`
}

// PairsConfig holds shared list membership settings
type PairsConfig struct {
	MaxMembers int `yaml:"max_members" envconfig:"MAX_MEMBERS"` // 0 means unlimited
}

// SyncConfig holds list sync engine settings
type SyncConfig struct {
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" envconfig:"RECONNECT_DELAY"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay" envconfig:"MAX_RECONNECT_DELAY"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
	MaxWriteAttempts     int           `yaml:"max_write_attempts" envconfig:"MAX_WRITE_ATTEMPTS"`
	PreviewDebounce      time.Duration `yaml:"preview_debounce" envconfig:"PREVIEW_DEBOUNCE"`
}

// NotifyConfig holds notification dispatch settings
type NotifyConfig struct {
	Workers     int           `yaml:"workers" envconfig:"WORKERS"`
	QueueSize   int           `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	TaskTimeout time.Duration `yaml:"task_timeout" envconfig:"TASK_TIMEOUT"`
}

// MetadataConfig holds product preview settings
type MetadataConfig struct {
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
			Migrate: true,
		},
		Push:  PushConfig{Provider: "log"},
		Pairs: PairsConfig{MaxMembers: 2},
		Sync: SyncConfig{
			ReconnectDelay:    5 * time.Second,
			MaxReconnectDelay: time.Minute,
			MaxWriteAttempts:  5,
			PreviewDebounce:   700 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Workers:     2,
			QueueSize:   256,
			TaskTimeout: 10 * time.Second,
		},
		Metadata: MetadataConfig{
			Timeout:  8 * time.Second,
			CacheTTL: time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file on top of the defaults and then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Push.Provider {
	case "log", "fcm", "apns":
	default:
		return fmt.Errorf("unknown push provider %q", c.Push.Provider)
	}
	if c.Sync.MaxWriteAttempts < 1 {
		return fmt.Errorf("sync.max_write_attempts must be at least 1")
	}
	if c.Pairs.MaxMembers < 0 {
		return fmt.Errorf("pairs.max_members must not be negative")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("notify.workers must be at least 1")
	}
	return nil
}

// Address returns the listen address in host:port format
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Enabled reports whether a PostgreSQL database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// URL returns the PostgreSQL connection URL
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
