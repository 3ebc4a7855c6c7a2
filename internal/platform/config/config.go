package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName    string
	HTTPPort       string
	PostgresDSN    string
	MigrateOnStart bool
	SeedFile       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SummaryCacheTTL    time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	AuditLogPath       string

	EnableSummaryInvalidation bool
	EnableNotifications       bool
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		ServiceName:               "escrowline",
		HTTPPort:                  "8080",
		MigrateOnStart:            true,
		SummaryCacheTTL:           5 * time.Minute,
		OutboxPollInterval:        2 * time.Second,
		OutboxBatchSize:           100,
		EnableSummaryInvalidation: true,
		EnableNotifications:       true,
	}
}

// Load starts from Defaults, overlays CONFIG_FILE when set, then applies
// environment variables. Environment always wins.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	if path, ok := lookup("CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, strings.TrimSpace(path)); err != nil {
			return Config{}, err
		}
	}

	env := envReader{lookup: lookup}
	cfg.ServiceName = env.stringValue("SERVICE_NAME", cfg.ServiceName)
	cfg.HTTPPort = env.stringValue("HTTP_PORT", cfg.HTTPPort)
	cfg.PostgresDSN = env.stringValue("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.MigrateOnStart = env.boolValue("POSTGRES_MIGRATE", cfg.MigrateOnStart)
	cfg.SeedFile = env.stringValue("SEED_FILE", cfg.SeedFile)
	cfg.RedisAddr = env.stringValue("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = env.stringValue("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = env.intValue("REDIS_DB", cfg.RedisDB)
	cfg.SummaryCacheTTL = env.durationValue("SUMMARY_CACHE_TTL", cfg.SummaryCacheTTL)
	cfg.OutboxPollInterval = env.durationValue("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = env.intValue("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.AuditLogPath = env.stringValue("AUDIT_LOG_PATH", cfg.AuditLogPath)
	cfg.EnableSummaryInvalidation = env.boolValue("ENABLE_SUMMARY_INVALIDATION", cfg.EnableSummaryInvalidation)
	cfg.EnableNotifications = env.boolValue("ENABLE_NOTIFICATIONS", cfg.EnableNotifications)
	if env.err != nil {
		return Config{}, env.err
	}

	if cfg.OutboxBatchSize <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", cfg.OutboxBatchSize)
	}
	if cfg.OutboxPollInterval <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive, got %s", cfg.OutboxPollInterval)
	}
	return cfg, nil
}

// UsesPostgres reports whether durable adapters should be wired.
func (c Config) UsesPostgres() bool {
	return strings.TrimSpace(c.PostgresDSN) != ""
}

// UsesRedis reports whether the summary cache should live in redis.
func (c Config) UsesRedis() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// fileConfig mirrors Config with string durations so YAML can say "30s".
type fileConfig struct {
	ServiceName               *string `yaml:"service_name"`
	HTTPPort                  *string `yaml:"http_port"`
	PostgresDSN               *string `yaml:"postgres_dsn"`
	MigrateOnStart            *bool   `yaml:"postgres_migrate"`
	SeedFile                  *string `yaml:"seed_file"`
	RedisAddr                 *string `yaml:"redis_addr"`
	RedisPassword             *string `yaml:"redis_password"`
	RedisDB                   *int    `yaml:"redis_db"`
	SummaryCacheTTL           *string `yaml:"summary_cache_ttl"`
	OutboxPollInterval        *string `yaml:"outbox_poll_interval"`
	OutboxBatchSize           *int    `yaml:"outbox_batch_size"`
	AuditLogPath              *string `yaml:"audit_log_path"`
	EnableSummaryInvalidation *bool   `yaml:"enable_summary_invalidation"`
	EnableNotifications       *bool   `yaml:"enable_notifications"`
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	setString(&cfg.ServiceName, file.ServiceName)
	setString(&cfg.HTTPPort, file.HTTPPort)
	setString(&cfg.PostgresDSN, file.PostgresDSN)
	setString(&cfg.RedisAddr, file.RedisAddr)
	setString(&cfg.RedisPassword, file.RedisPassword)
	setString(&cfg.AuditLogPath, file.AuditLogPath)
	setString(&cfg.SeedFile, file.SeedFile)
	if file.MigrateOnStart != nil {
		cfg.MigrateOnStart = *file.MigrateOnStart
	}
	if file.RedisDB != nil {
		cfg.RedisDB = *file.RedisDB
	}
	if file.OutboxBatchSize != nil {
		cfg.OutboxBatchSize = *file.OutboxBatchSize
	}
	if file.EnableSummaryInvalidation != nil {
		cfg.EnableSummaryInvalidation = *file.EnableSummaryInvalidation
	}
	if file.EnableNotifications != nil {
		cfg.EnableNotifications = *file.EnableNotifications
	}
	if err := setDuration(&cfg.SummaryCacheTTL, file.SummaryCacheTTL, "summary_cache_ttl"); err != nil {
		return err
	}
	return setDuration(&cfg.OutboxPollInterval, file.OutboxPollInterval, "outbox_poll_interval")
}

func setString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func setDuration(target *time.Duration, value *string, field string) error {
	if value == nil {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(*value))
	if err != nil {
		return fmt.Errorf("config file field %s: %w", field, err)
	}
	*target = parsed
	return nil
}

// envReader keeps the first parse error so Load reports it once.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(name string) (string, bool) {
	value, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (e *envReader) stringValue(name string, fallback string) string {
	if value, ok := e.raw(name); ok {
		return value
	}
	return fallback
}

func (e *envReader) intValue(name string, fallback int) int {
	value, ok := e.raw(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(fmt.Errorf("%s must be an integer: %w", name, err))
		return fallback
	}
	return parsed
}

func (e *envReader) durationValue(name string, fallback time.Duration) time.Duration {
	value, ok := e.raw(name)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(fmt.Errorf("%s must be a duration: %w", name, err))
		return fallback
	}
	return parsed
}

func (e *envReader) boolValue(name string, fallback bool) bool {
	value, ok := e.raw(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
