// Package config loads service configuration from an optional TOML
// file, applies defaults, and lets DROPBIN_* environment variables
// override individual values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"

	"dropbin/internal/drop"
)

// Config is the root configuration document.
type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Storage  Storage  `toml:"storage"`
	Limits   Limits   `toml:"limits"`
	Sweeper  Sweeper  `toml:"sweeper"`
}

type Server struct {
	Addr        string `toml:"addr"`
	BaseURL     string `toml:"base_url"`
	BehindProxy bool   `toml:"behind_proxy"`
}

type Database struct {
	URL string `toml:"url"`
}

type Storage struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
}

// Limits gathers the deployment knobs: a hard per-request
// ceiling, per-origin cumulative limits, a global cap, and the size to
// lifetime threshold table. Sizes are human strings ("512MB", "1GiB").
type Limits struct {
	MaxUploadSize  string   `toml:"max_upload_size"`
	OriginMaxSize  string   `toml:"origin_max_size"`
	OriginMaxDrops int      `toml:"origin_max_drops"`
	GlobalMaxSize  string   `toml:"global_max_size"`
	Thresholds     []string `toml:"thresholds"`
}

// Sweeper.Enabled is a pointer so an explicit `enabled = false` in the
// file survives defaulting.
type Sweeper struct {
	Enabled           *bool  `toml:"enabled"`
	Interval          string `toml:"interval"`
	ReconcileInterval string `toml:"reconcile_interval"`
}

// Load reads path (skipped when empty or missing), fills defaults,
// applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Config file is optional; env vars may carry everything.
		default:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	cfg.loadDefaults()
	cfg.loadEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	if c.Limits.MaxUploadSize == "" {
		c.Limits.MaxUploadSize = "512MiB"
	}
	if c.Sweeper.Enabled == nil {
		enabled := true
		c.Sweeper.Enabled = &enabled
	}
	if c.Sweeper.Interval == "" {
		c.Sweeper.Interval = "1m"
	}
	if c.Sweeper.ReconcileInterval == "" {
		c.Sweeper.ReconcileInterval = "6h"
	}
}

func (c *Config) loadEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Server.Addr, "DROPBIN_ADDR")
	setString(&c.Server.BaseURL, "DROPBIN_BASE_URL")
	if v := os.Getenv("DROPBIN_BEHIND_PROXY"); v != "" {
		c.Server.BehindProxy = v == "true"
	}
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Storage.Endpoint, "DROPBIN_S3_ENDPOINT")
	setString(&c.Storage.AccessKey, "DROPBIN_S3_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "DROPBIN_S3_SECRET_KEY")
	setString(&c.Storage.Bucket, "DROPBIN_BUCKET")
	setString(&c.Limits.MaxUploadSize, "DROPBIN_MAX_UPLOAD_SIZE")
	setString(&c.Limits.OriginMaxSize, "DROPBIN_ORIGIN_MAX_SIZE")
	if v := os.Getenv("DROPBIN_ORIGIN_MAX_DROPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.OriginMaxDrops = n
		}
	}
	setString(&c.Limits.GlobalMaxSize, "DROPBIN_GLOBAL_MAX_SIZE")
	if v := os.Getenv("DROPBIN_THRESHOLDS"); v != "" {
		c.Limits.Thresholds = strings.Split(v, ",")
	}
	if v := os.Getenv("DROPBIN_SWEEP_ENABLED"); v != "" {
		enabled := v == "true"
		c.Sweeper.Enabled = &enabled
	}
	setString(&c.Sweeper.Interval, "DROPBIN_SWEEP_INTERVAL")
	setString(&c.Sweeper.ReconcileInterval, "DROPBIN_RECONCILE_INTERVAL")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (database.url or DATABASE_URL)")
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if _, err := c.EngineLimits(); err != nil {
		return err
	}
	if _, err := c.SweepInterval(); err != nil {
		return err
	}
	if _, err := c.ReconcileInterval(); err != nil {
		return err
	}
	return nil
}

// SweepEnabled reports whether the expiry sweeper should run.
func (c *Config) SweepEnabled() bool {
	return c.Sweeper.Enabled != nil && *c.Sweeper.Enabled
}

// MaxUploadBytes returns the per-request body ceiling, 0 for unlimited.
func (c *Config) MaxUploadBytes() (int64, error) {
	return parseSize(c.Limits.MaxUploadSize, "limits.max_upload_size")
}

// SweepInterval returns the parsed sweeper cadence.
func (c *Config) SweepInterval() (time.Duration, error) {
	return parseDuration(c.Sweeper.Interval, "sweeper.interval")
}

// ReconcileInterval returns the parsed orphan-reconciliation cadence.
func (c *Config) ReconcileInterval() (time.Duration, error) {
	return parseDuration(c.Sweeper.ReconcileInterval, "sweeper.reconcile_interval")
}

// EngineLimits converts the configured limit strings into the engine's
// typed form.
func (c *Config) EngineLimits() (drop.Limits, error) {
	var l drop.Limits
	var err error

	if l.OriginMaxBytes, err = parseSize(c.Limits.OriginMaxSize, "limits.origin_max_size"); err != nil {
		return l, err
	}
	if l.GlobalMaxBytes, err = parseSize(c.Limits.GlobalMaxSize, "limits.global_max_size"); err != nil {
		return l, err
	}
	l.OriginMaxDrops = c.Limits.OriginMaxDrops

	var prevSize int64 = -1
	prevTTL := time.Duration(0)
	for i, raw := range c.Limits.Thresholds {
		t, err := ParseThreshold(raw)
		if err != nil {
			return l, err
		}
		// Thresholds must grow in size and shrink in lifetime so the
		// first match is always the right one.
		if t.MaxSize <= prevSize {
			return l, fmt.Errorf("limits.thresholds[%d]: sizes must be strictly increasing", i)
		}
		if prevTTL != 0 && t.TTL >= prevTTL {
			return l, fmt.Errorf("limits.thresholds[%d]: durations must be strictly decreasing", i)
		}
		prevSize, prevTTL = t.MaxSize, t.TTL
		l.Thresholds = append(l.Thresholds, t)
	}
	return l, nil
}

// ParseThreshold parses a "size:duration" pair such as "64MiB:24h".
func ParseThreshold(raw string) (drop.Threshold, error) {
	var t drop.Threshold
	sizeStr, ttlStr, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return t, fmt.Errorf("threshold %q: want size:duration", raw)
	}
	size, err := units.RAMInBytes(sizeStr)
	if err != nil {
		return t, fmt.Errorf("threshold %q: %w", raw, err)
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		return t, fmt.Errorf("threshold %q: %w", raw, err)
	}
	if size <= 0 || ttl <= 0 {
		return t, fmt.Errorf("threshold %q: size and duration must be positive", raw)
	}
	t.MaxSize = size
	t.TTL = ttl
	return t, nil
}

func parseSize(s, field string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
