// Package config provides configuration parsing for snaprotate.
//
// Values come from command-line flags, environment variables, an optional
// YAML file and built-in defaults, in that order of precedence:
//  1. Command-line flags
//  2. Environment variables
//  3. YAML file (-config / CONFIG_FILE)
//  4. Default values
//
// Malformed retention windows never fail the run: a non-numeric or negative
// value falls back to the YAML file's value (or the built-in default when the
// file sets none) and a warning is recorded. An explicit 0 is honoured.
//
// Backend-specific options for the HTTP store are read from STORE_*
// environment variables, converted to lowerCamelCase keys
// (STORE_SNAPSHOTS_PATH → snapshotsPath).
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	warnings, err := cfg.Validate()
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HatiCode/snaprotate/pkg/retention"
	"github.com/HatiCode/snaprotate/pkg/rotation"
)

const (
	DefaultBackupDays   = 14
	DefaultBackupWeeks  = 12
	DefaultBackupMonths = 12
)

// Config holds all snaprotate configuration.
type Config struct {
	ConfigFile string

	Listen    string
	LogFormat string
	LogLevel  string

	Store       string
	Region      string
	HTTPURL     string
	HTTPToken   string
	StoreConfig map[string]string

	BackupDays   int
	BackupWeeks  int
	BackupMonths int
	Instances    []string
	Timezone     string
	Location     *time.Location

	DryRun        bool
	Concurrency   int
	RetryAttempts int
	RetryBase     time.Duration
	RateLimit     float64
	RateBurst     int

	Lock          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	Schedule       string
	PushgatewayURL string

	// Warnings collects non-fatal problems found while parsing.
	Warnings []string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Listen:        ":8080",
		LogFormat:     "text",
		LogLevel:      "info",
		Store:         "lightsail",
		StoreConfig:   map[string]string{},
		BackupDays:    DefaultBackupDays,
		BackupWeeks:   DefaultBackupWeeks,
		BackupMonths:  DefaultBackupMonths,
		Timezone:      "UTC",
		Concurrency:   rotation.DefaultConcurrency,
		RetryAttempts: 3,
		RetryBase:     500 * time.Millisecond,
		RateLimit:     5,
		RateBurst:     5,
		Lock:          "none",
		RedisAddr:     "localhost:6379",
		LockTTL:       30 * time.Minute,
	}
}

// ParseFlags parses os.Args and the environment. It exits the process on a
// flag error, as a CLI entry point would.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	return cfg
}

// Parse builds a Config from args, the environment and the optional YAML
// file named by -config or CONFIG_FILE.
func Parse(args []string) (*Config, error) {
	base := Defaults()

	path := configPath(args)
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		f.apply(base)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("snaprotate", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", path, "YAML configuration file")

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", base.Listen), "HTTP listen address (schedule mode)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", base.LogFormat), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", base.LogLevel), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Store, "store", getEnv("STORE", base.Store), "Snapshot store: lightsail, http, or memory")
	fs.StringVar(&cfg.Region, "region", getEnv("AWS_REGION", base.Region), "Store region (empty uses the SDK default chain)")
	fs.StringVar(&cfg.HTTPURL, "http-url", getEnv("HTTP_STORE_URL", base.HTTPURL), "Base URL of the HTTP store")
	fs.StringVar(&cfg.HTTPToken, "http-token", getEnv("HTTP_STORE_TOKEN", base.HTTPToken), "Bearer token for the HTTP store")

	var days, weeks, months, instances string
	fs.StringVar(&days, "backup-days", getEnv("BACKUP_DAYS", strconv.Itoa(base.BackupDays)), "Daily retention window in days")
	fs.StringVar(&weeks, "backup-weeks", getEnv("BACKUP_WEEKS", strconv.Itoa(base.BackupWeeks)), "Weekly retention window in weeks")
	fs.StringVar(&months, "backup-months", getEnv("BACKUP_MONTHS", strconv.Itoa(base.BackupMonths)), "Monthly retention window in months (30 days each)")
	fs.StringVar(&instances, "instances", getEnv("BACKUP_INSTANCES", strings.Join(base.Instances, ",")), "Comma-separated instance allowlist (empty discovers all)")
	fs.StringVar(&cfg.Timezone, "timezone", getEnv("TIMEZONE", base.Timezone), "IANA time zone for calendar decisions")

	fs.BoolVar(&cfg.DryRun, "dry-run", getEnvBool("DRY_RUN", base.DryRun), "Log decisions without creating or deleting")
	fs.IntVar(&cfg.Concurrency, "concurrency", getEnvInt("CONCURRENCY", base.Concurrency), "Instances rotated in parallel")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", getEnvInt("RETRY_ATTEMPTS", base.RetryAttempts), "Attempts per store call (1 disables retries)")
	fs.DurationVar(&cfg.RetryBase, "retry-base", getEnvDuration("RETRY_BASE", base.RetryBase), "Initial retry backoff")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", getEnvFloat("RATE_LIMIT", base.RateLimit), "Store calls per second (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", getEnvInt("RATE_BURST", base.RateBurst), "Store call burst size")

	fs.StringVar(&cfg.Lock, "lock", getEnv("LOCK", base.Lock), "Run lease: none or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", base.RedisAddr), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", base.RedisPassword), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", base.RedisDB), "Redis database number")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", getEnvDuration("LOCK_TTL", base.LockTTL), "Run lease TTL")

	fs.StringVar(&cfg.Schedule, "schedule", getEnv("SCHEDULE", base.Schedule), "Cron expression; empty runs once and exits")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway-url", getEnv("PUSHGATEWAY_URL", base.PushgatewayURL), "Pushgateway URL for one-shot runs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.BackupDays = parseWindow("backup-days", days, windowFallback(base.BackupDays, DefaultBackupDays), &cfg.Warnings)
	cfg.BackupWeeks = parseWindow("backup-weeks", weeks, windowFallback(base.BackupWeeks, DefaultBackupWeeks), &cfg.Warnings)
	cfg.BackupMonths = parseWindow("backup-months", months, windowFallback(base.BackupMonths, DefaultBackupMonths), &cfg.Warnings)
	cfg.Instances = ParseInstances(instances)

	cfg.StoreConfig = make(map[string]string, len(base.StoreConfig))
	for k, v := range base.StoreConfig {
		cfg.StoreConfig[k] = v
	}
	for k, v := range parseStoreConfig() {
		cfg.StoreConfig[k] = v
	}

	return cfg, nil
}

// Retention returns the policy configuration in days. Location is nil until
// Validate has run.
func (c *Config) Retention() retention.Config {
	return retention.Config{
		DailyDays:   c.BackupDays,
		WeeklyDays:  c.BackupWeeks * 7,
		MonthlyDays: c.BackupMonths * 30,
		Location:    c.Location,
	}
}

// StoreOptions returns the generic option map passed to store.New.
func (c *Config) StoreOptions() map[string]string {
	opts := make(map[string]string, len(c.StoreConfig)+3)
	for k, v := range c.StoreConfig {
		opts[k] = v
	}
	if c.Region != "" {
		opts["region"] = c.Region
	}
	if c.HTTPURL != "" {
		opts["url"] = c.HTTPURL
	}
	if c.HTTPToken != "" {
		opts["token"] = c.HTTPToken
	}
	return opts
}

var instanceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,253}[a-zA-Z0-9])?$`)

// Validate checks the configuration and resolves Location. It returns
// non-fatal warnings alongside the first fatal error.
func (c *Config) Validate() ([]string, error) {
	warnings := append([]string(nil), c.Warnings...)

	switch c.Store {
	case "lightsail", "memory":
	case "http":
		if c.HTTPURL == "" && c.StoreConfig["url"] == "" {
			return warnings, errors.New("store=http requires -http-url")
		}
	default:
		return warnings, fmt.Errorf("invalid store %q (must be lightsail, http, or memory)", c.Store)
	}

	switch c.Lock {
	case "none":
	case "redis":
		if c.RedisAddr == "" {
			return warnings, errors.New("lock=redis requires -redis-addr")
		}
		if c.LockTTL <= 0 {
			return warnings, errors.New("lock-ttl must be > 0")
		}
	default:
		return warnings, fmt.Errorf("invalid lock %q (must be none or redis)", c.Lock)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return warnings, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return warnings, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}

	for _, name := range c.Instances {
		if !instanceNameRegex.MatchString(name) {
			return warnings, fmt.Errorf("invalid instance name %q", name)
		}
	}

	if c.Concurrency < 1 {
		return warnings, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.RetryAttempts < 1 {
		return warnings, fmt.Errorf("retry-attempts must be >= 1, got %d", c.RetryAttempts)
	}
	if c.RateLimit < 0 {
		return warnings, fmt.Errorf("rate-limit cannot be negative")
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		warnings = append(warnings, fmt.Sprintf("unknown log format %q, using text", c.LogFormat))
	}

	warnings = append(warnings, c.Retention().Validate()...)
	return warnings, nil
}

// ParseInstances splits a comma-separated allowlist, trimming blanks and
// dropping duplicates while keeping first-seen order.
func ParseInstances(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// parseWindow reads a non-negative retention window. Anything else falls back
// to def with a warning.
func parseWindow(name, value string, def int, warnings *[]string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		*warnings = append(*warnings, fmt.Sprintf("invalid %s %q, using default %d", name, value, def))
		return def
	}
	return n
}

// windowFallback is the value a malformed window falls back to: the file's
// value when it is usable, otherwise the built-in default.
func windowFallback(base, def int) int {
	if base < 0 {
		return def
	}
	return base
}

// configPath finds the YAML file before flags are defined, since the file
// supplies their defaults.
func configPath(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return os.Getenv("CONFIG_FILE")
}

// parseStoreConfig parses STORE_* environment variables into a generic
// configuration map.
func parseStoreConfig() map[string]string {
	const prefix = "STORE_"
	config := make(map[string]string)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
			continue
		}
		config[toLowerCamelCase(key[len(prefix):])] = value
	}

	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
