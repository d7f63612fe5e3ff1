package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration. Unset fields keep the built-in
// defaults, and environment variables and flags override whatever it sets.
//
//	store: lightsail
//	region: eu-west-1
//	timezone: Europe/Paris
//	instances: [web-1, db-1]
//	backup:
//	  days: 14
//	  weeks: 12
//	  months: 12
//	lock:
//	  kind: redis
//	  ttl: 30m
//	  redis:
//	    addr: redis:6379
type File struct {
	Store     string   `yaml:"store"`
	Region    string   `yaml:"region"`
	Timezone  string   `yaml:"timezone"`
	Instances []string `yaml:"instances"`
	DryRun    *bool    `yaml:"dryRun"`

	Backup struct {
		Days   *int `yaml:"days"`
		Weeks  *int `yaml:"weeks"`
		Months *int `yaml:"months"`
	} `yaml:"backup"`

	HTTP struct {
		URL     string            `yaml:"url"`
		Token   string            `yaml:"token"`
		Options map[string]string `yaml:"options"`
	} `yaml:"http"`

	Concurrency *int `yaml:"concurrency"`

	Retry struct {
		Attempts *int   `yaml:"attempts"`
		Base     string `yaml:"base"`
	} `yaml:"retry"`

	RateLimit struct {
		RPS   *float64 `yaml:"rps"`
		Burst *int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Lock struct {
		Kind  string `yaml:"kind"`
		TTL   string `yaml:"ttl"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       *int   `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"lock"`

	Schedule       string `yaml:"schedule"`
	Listen         string `yaml:"listen"`
	PushgatewayURL string `yaml:"pushgatewayUrl"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadFile reads and decodes a YAML configuration file. Unknown keys are
// rejected so typos surface at startup.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if _, err := cfg.durations(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

type fileDurations struct {
	retryBase time.Duration
	lockTTL   time.Duration
}

func (f *File) durations() (fileDurations, error) {
	var d fileDurations
	var err error
	if f.Retry.Base != "" {
		if d.retryBase, err = time.ParseDuration(f.Retry.Base); err != nil {
			return d, fmt.Errorf("retry.base: %w", err)
		}
	}
	if f.Lock.TTL != "" {
		if d.lockTTL, err = time.ParseDuration(f.Lock.TTL); err != nil {
			return d, fmt.Errorf("lock.ttl: %w", err)
		}
	}
	return d, nil
}

// apply overlays the fields set in f onto cfg.
func (f *File) apply(cfg *Config) {
	setString(&cfg.Store, f.Store)
	setString(&cfg.Region, f.Region)
	setString(&cfg.Timezone, f.Timezone)
	if len(f.Instances) > 0 {
		cfg.Instances = append([]string(nil), f.Instances...)
	}
	if f.DryRun != nil {
		cfg.DryRun = *f.DryRun
	}

	setInt(&cfg.BackupDays, f.Backup.Days)
	setInt(&cfg.BackupWeeks, f.Backup.Weeks)
	setInt(&cfg.BackupMonths, f.Backup.Months)

	setString(&cfg.HTTPURL, f.HTTP.URL)
	setString(&cfg.HTTPToken, f.HTTP.Token)
	for k, v := range f.HTTP.Options {
		cfg.StoreConfig[k] = v
	}

	setInt(&cfg.Concurrency, f.Concurrency)
	setInt(&cfg.RetryAttempts, f.Retry.Attempts)
	if f.RateLimit.RPS != nil {
		cfg.RateLimit = *f.RateLimit.RPS
	}
	setInt(&cfg.RateBurst, f.RateLimit.Burst)

	setString(&cfg.Lock, f.Lock.Kind)
	setString(&cfg.RedisAddr, f.Lock.Redis.Addr)
	setString(&cfg.RedisPassword, f.Lock.Redis.Password)
	setInt(&cfg.RedisDB, f.Lock.Redis.DB)

	if d, err := f.durations(); err == nil {
		if d.retryBase > 0 {
			cfg.RetryBase = d.retryBase
		}
		if d.lockTTL > 0 {
			cfg.LockTTL = d.lockTTL
		}
	}

	setString(&cfg.Schedule, f.Schedule)
	setString(&cfg.Listen, f.Listen)
	setString(&cfg.PushgatewayURL, f.PushgatewayURL)
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
