package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage" json:"storage"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" json:"auth"`
	Trash     TrashConfig     `yaml:"trash" toml:"trash" json:"trash"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" json:"rate_limit"`
	Log       LogConfig       `yaml:"log" toml:"log" json:"log"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" toml:"addr" json:"addr"`
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	Env     string `yaml:"env" toml:"env" json:"env"`
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type StorageConfig struct {
	Backend        string `yaml:"backend" toml:"backend" json:"backend"`
	RedisURL       string `yaml:"redis_url" toml:"redis_url" json:"redis_url"`
	RedisNamespace string `yaml:"redis_namespace" toml:"redis_namespace" json:"redis_namespace"`
	PostgresDSN    string `yaml:"postgres_dsn" toml:"postgres_dsn" json:"postgres_dsn"`
}

type AuthConfig struct {
	CookieName     string        `yaml:"cookie_name" toml:"cookie_name" json:"cookie_name"`
	CookieSecure   string        `yaml:"cookie_secure" toml:"cookie_secure" json:"cookie_secure"` // auto, true, false
	CookieSameSite string        `yaml:"cookie_same_site" toml:"cookie_same_site" json:"cookie_same_site"`
	SessionTTL     time.Duration `yaml:"session_ttl" toml:"session_ttl" json:"session_ttl"`
	OTPTTL         time.Duration `yaml:"otp_ttl" toml:"otp_ttl" json:"otp_ttl"`
	OTPMaxAttempts int           `yaml:"otp_max_attempts" toml:"otp_max_attempts" json:"otp_max_attempts"`
}

type TrashConfig struct {
	RetentionDays int `yaml:"retention_days" toml:"retention_days" json:"retention_days"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests" toml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" toml:"window" json:"window"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

func (s *ServerConfig) ApplyDefaults() {
	if s.Addr == "" {
		s.Addr = ":42069"
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.Env == "" {
		s.Env = "development"
	}
}

func (s *StorageConfig) ApplyDefaults() {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendFile
	}
	if s.RedisNamespace == "" {
		s.RedisNamespace = "taskhive"
	}
}

func (a *AuthConfig) ApplyDefaults() {
	if a.CookieName == "" {
		a.CookieName = "taskhive_session"
	}
	if a.CookieSecure == "" {
		a.CookieSecure = "auto"
	}
	if a.CookieSameSite == "" {
		a.CookieSameSite = "lax"
	}
	if a.SessionTTL == 0 {
		a.SessionTTL = 7 * 24 * time.Hour
	}
	if a.OTPTTL == 0 {
		a.OTPTTL = 10 * time.Minute
	}
	if a.OTPMaxAttempts == 0 {
		a.OTPMaxAttempts = 5
	}
}

func (c *Config) ApplyDefaults() {
	c.Server.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.Auth.ApplyDefaults()
	if c.Trash.RetentionDays == 0 {
		c.Trash.RetentionDays = 30
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("config: storage.redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.Auth.CookieSecure) {
	case "auto", "true", "false":
	default:
		return fmt.Errorf("config: auth.cookie_secure must be auto, true or false")
	}
	if c.Trash.RetentionDays < 1 {
		return fmt.Errorf("config: trash.retention_days must be positive")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("config: rate_limit.requests must not be negative")
	}
	return nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

// Load reads a YAML file, or TOML when the name ends in .toml, and applies
// defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	r.ApplyDefaults()
	return &r, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}
