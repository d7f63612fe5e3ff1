package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{name: "valid integer", envValue: "42", defaultValue: 10, want: 42},
		{name: "invalid integer", envValue: "not-a-number", defaultValue: 10, want: 10},
		{name: "trailing garbage", envValue: "12abc", defaultValue: 10, want: 10},
		{name: "not set", envValue: "", defaultValue: 99, want: 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			if got := getEnvInt("TEST_INT", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue string
		want     bool
	}{
		{envValue: "true", want: true},
		{envValue: "1", want: true},
		{envValue: "false", want: false},
		{envValue: "maybe", want: false},
		{envValue: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", false); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Store != "lightsail" {
		t.Errorf("Store = %q, want lightsail", cfg.Store)
	}
	if cfg.BackupDays != 14 || cfg.BackupWeeks != 12 || cfg.BackupMonths != 12 {
		t.Errorf("windows = %d/%d/%d, want 14/12/12", cfg.BackupDays, cfg.BackupWeeks, cfg.BackupMonths)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Timezone)
	}
	if len(cfg.Instances) != 0 {
		t.Errorf("Instances = %v, want empty", cfg.Instances)
	}
	if cfg.Concurrency != 4 || cfg.RetryAttempts != 3 || cfg.RetryBase != 500*time.Millisecond {
		t.Errorf("concurrency/retry = %d/%d/%v", cfg.Concurrency, cfg.RetryAttempts, cfg.RetryBase)
	}
	if cfg.Lock != "none" || cfg.LockTTL != 30*time.Minute {
		t.Errorf("lock = %s/%v", cfg.Lock, cfg.LockTTL)
	}
	if cfg.Listen != ":8080" || cfg.LogFormat != "text" || cfg.LogLevel != "info" {
		t.Errorf("listen/log = %s/%s/%s", cfg.Listen, cfg.LogFormat, cfg.LogLevel)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", cfg.Warnings)
	}

	r := cfg.Retention()
	if r.DailyDays != 14 || r.WeeklyDays != 84 || r.MonthlyDays != 360 {
		t.Errorf("Retention() = %+v, want 14/84/360", r)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-3")
	t.Setenv("BACKUP_DAYS", "7")
	t.Setenv("BACKUP_WEEKS", "4")
	t.Setenv("BACKUP_MONTHS", "6")
	t.Setenv("BACKUP_INSTANCES", " web-1, db-1 ,,web-1 ")
	t.Setenv("TIMEZONE", "Europe/Paris")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Region != "eu-west-3" {
		t.Errorf("Region = %q", cfg.Region)
	}
	if cfg.BackupDays != 7 || cfg.BackupWeeks != 4 || cfg.BackupMonths != 6 {
		t.Errorf("windows = %d/%d/%d, want 7/4/6", cfg.BackupDays, cfg.BackupWeeks, cfg.BackupMonths)
	}
	if len(cfg.Instances) != 2 || cfg.Instances[0] != "web-1" || cfg.Instances[1] != "db-1" {
		t.Errorf("Instances = %v, want [web-1 db-1]", cfg.Instances)
	}
	if cfg.Timezone != "Europe/Paris" || !cfg.DryRun {
		t.Errorf("Timezone/DryRun = %s/%v", cfg.Timezone, cfg.DryRun)
	}
}

func TestParse_FlagsBeatEnv(t *testing.T) {
	t.Setenv("BACKUP_DAYS", "7")
	t.Setenv("STORE", "http")

	cfg, err := Parse([]string{"-backup-days=3", "-store=memory", "-concurrency=8", "-lock-ttl=5m"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.BackupDays != 3 {
		t.Errorf("BackupDays = %d, want 3", cfg.BackupDays)
	}
	if cfg.Store != "memory" {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.Concurrency != 8 || cfg.LockTTL != 5*time.Minute {
		t.Errorf("Concurrency/LockTTL = %d/%v", cfg.Concurrency, cfg.LockTTL)
	}
}

func TestParse_MalformedWindowsFallBack(t *testing.T) {
	tests := []struct {
		name      string
		days      string
		wantDays  int
		wantWarns int
	}{
		{name: "non-numeric", days: "two weeks", wantDays: 14, wantWarns: 1},
		{name: "negative", days: "-3", wantDays: 14, wantWarns: 1},
		{name: "explicit zero honoured", days: "0", wantDays: 0, wantWarns: 0},
		{name: "padded", days: " 9 ", wantDays: 9, wantWarns: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BACKUP_DAYS", tt.days)

			cfg, err := Parse(nil)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.BackupDays != tt.wantDays {
				t.Errorf("BackupDays = %d, want %d", cfg.BackupDays, tt.wantDays)
			}
			if len(cfg.Warnings) != tt.wantWarns {
				t.Errorf("Warnings = %v, want %d", cfg.Warnings, tt.wantWarns)
			}
		})
	}
}

func TestParse_StoreConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_SNAPSHOTS_PATH", "data.items")
	t.Setenv("STORE_TIMESTAMP_FORMAT", "unix")

	cfg, err := Parse([]string{"-store=http", "-http-url=http://api", "-http-token=t"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts := cfg.StoreOptions()
	if opts["snapshotsPath"] != "data.items" || opts["timestampFormat"] != "unix" {
		t.Errorf("StoreOptions() = %v", opts)
	}
	if opts["url"] != "http://api" || opts["token"] != "t" {
		t.Errorf("StoreOptions() = %v, want url and token", opts)
	}
}

func TestParse_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaprotate.yaml")
	content := `
store: memory
region: ap-south-1
timezone: Asia/Tokyo
instances: [alpha, beta]
backup:
  days: 10
  weeks: 0
lock:
  kind: redis
  ttl: 10m
  redis:
    addr: redis:6379
retry:
  base: 2s
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AWS_REGION", "us-east-1")

	cfg, err := Parse([]string{"-config", path, "-backup-days=5"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.Store != "memory" || cfg.Timezone != "Asia/Tokyo" {
		t.Errorf("Store/Timezone = %s/%s", cfg.Store, cfg.Timezone)
	}
	if cfg.Region != "us-east-1" {
		t.Errorf("Region = %q, env should beat file", cfg.Region)
	}
	if cfg.BackupDays != 5 {
		t.Errorf("BackupDays = %d, flag should beat file", cfg.BackupDays)
	}
	if cfg.BackupWeeks != 0 {
		t.Errorf("BackupWeeks = %d, explicit 0 in file should be honoured", cfg.BackupWeeks)
	}
	if cfg.BackupMonths != 12 {
		t.Errorf("BackupMonths = %d, want default 12", cfg.BackupMonths)
	}
	if len(cfg.Instances) != 2 || cfg.Instances[0] != "alpha" {
		t.Errorf("Instances = %v", cfg.Instances)
	}
	if cfg.Lock != "redis" || cfg.LockTTL != 10*time.Minute || cfg.RedisAddr != "redis:6379" {
		t.Errorf("lock = %s/%v/%s", cfg.Lock, cfg.LockTTL, cfg.RedisAddr)
	}
	if cfg.RetryBase != 2*time.Second || cfg.LogFormat != "json" {
		t.Errorf("RetryBase/LogFormat = %v/%s", cfg.RetryBase, cfg.LogFormat)
	}
}

func TestParse_MalformedWindowKeepsFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaprotate.yaml")
	content := `
backup:
  days: 30
  weeks: 6
  months: -2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BACKUP_DAYS", "abc")
	t.Setenv("BACKUP_WEEKS", "-1")

	cfg, err := Parse([]string{"-config", path})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.BackupDays != 30 {
		t.Errorf("BackupDays = %d, want file value 30", cfg.BackupDays)
	}
	if cfg.BackupWeeks != 6 {
		t.Errorf("BackupWeeks = %d, want file value 6", cfg.BackupWeeks)
	}
	if cfg.BackupMonths != DefaultBackupMonths {
		t.Errorf("BackupMonths = %d, negative file value should fall back to %d", cfg.BackupMonths, DefaultBackupMonths)
	}
	if len(cfg.Warnings) != 3 {
		t.Errorf("Warnings = %v, want 3", cfg.Warnings)
	}
}

func TestParse_YAMLFileErrors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("stroe: lightsail\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	badTTL := filepath.Join(dir, "ttl.yaml")
	if err := os.WriteFile(badTTL, []byte("lock:\n  ttl: forever\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing file", args: []string{"-config=" + filepath.Join(dir, "nope.yaml")}},
		{name: "unknown key", args: []string{"-config", unknown}},
		{name: "bad duration", args: []string{"--config=" + badTTL}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_ConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("store: http\nhttp:\n  url: http://x\n  options:\n    nameField: id\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Store != "http" || cfg.HTTPURL != "http://x" || cfg.StoreConfig["nameField"] != "id" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   string
		wantWarns int
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "gcp" }, wantErr: "invalid store"},
		{name: "http without url", mutate: func(c *Config) { c.Store = "http" }, wantErr: "requires -http-url"},
		{name: "unknown lock", mutate: func(c *Config) { c.Lock = "etcd" }, wantErr: "invalid lock"},
		{name: "redis lock zero ttl", mutate: func(c *Config) { c.Lock = "redis"; c.LockTTL = 0 }, wantErr: "lock-ttl"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "invalid timezone"},
		{name: "bad schedule", mutate: func(c *Config) { c.Schedule = "every day" }, wantErr: "invalid schedule"},
		{name: "valid schedule", mutate: func(c *Config) { c.Schedule = "0 3 * * *" }},
		{name: "bad instance name", mutate: func(c *Config) { c.Instances = []string{"web 1"} }, wantErr: "invalid instance name"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "zero retry attempts", mutate: func(c *Config) { c.RetryAttempts = 0 }, wantErr: "retry-attempts"},
		{name: "non-monotonic windows", mutate: func(c *Config) { c.BackupDays = 100 }, wantWarns: 1},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantWarns: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			warnings, err := cfg.Validate()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if len(warnings) != tt.wantWarns {
				t.Errorf("warnings = %v, want %d", warnings, tt.wantWarns)
			}
			if cfg.Location == nil {
				t.Error("Location not resolved")
			}
		})
	}
}

func TestParseInstances(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "web", want: []string{"web"}},
		{in: "a, b ,c", want: []string{"a", "b", "c"}},
		{in: "a,,a, ,b", want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseInstances(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseInstances(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ParseInstances(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestToLowerCamelCase(t *testing.T) {
	tests := map[string]string{
		"URL":              "url",
		"SNAPSHOTS_PATH":   "snapshotsPath",
		"CREATED_AT_FIELD": "createdAtField",
	}
	for in, want := range tests {
		if got := toLowerCamelCase(in); got != want {
			t.Errorf("toLowerCamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}
