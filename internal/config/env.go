package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overrides cfg with TASKHIVE_* environment variables. Unset or
// unparsable values leave the field alone.
func FromEnv(cfg *Config) *Config {
	return fromLookup(cfg, os.LookupEnv)
}

func fromLookup(cfg *Config, lookup func(string) (string, bool)) *Config {
	if cfg == nil {
		cfg = Default()
	}
	get := func(key string) string {
		v, _ := lookup("TASKHIVE_" + key)
		return strings.TrimSpace(v)
	}

	if v := get("ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := get("DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := get("ENV"); v != "" {
		cfg.Server.Env = v
	}

	if v := get("STORAGE"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := get("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := get("REDIS_NAMESPACE"); v != "" {
		cfg.Storage.RedisNamespace = v
	}
	if v := get("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	if v := get("COOKIE_SECURE"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			cfg.Auth.CookieSecure = "true"
		case "0", "false", "no":
			cfg.Auth.CookieSecure = "false"
		}
	}
	if d := getEnvDuration(get("SESSION_TTL")); d > 0 {
		cfg.Auth.SessionTTL = d
	}
	if d := getEnvDuration(get("OTP_TTL")); d > 0 {
		cfg.Auth.OTPTTL = d
	}

	if n := getEnvInt(get("TRASH_RETENTION_DAYS")); n > 0 {
		cfg.Trash.RetentionDays = n
	}
	if n := getEnvInt(get("RATE_LIMIT_REQUESTS")); n > 0 {
		cfg.RateLimit.Requests = n
	}
	if d := getEnvDuration(get("RATE_LIMIT_WINDOW")); d > 0 {
		cfg.RateLimit.Window = d
	}

	if v := get("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := get("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return cfg
}

func getEnvInt(val string) int {
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}

func getEnvDuration(val string) time.Duration {
	if val == "" {
		return 0
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0
	}
	return d
}
