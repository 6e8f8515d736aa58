package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dropbin.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropbin")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if !cfg.SweepEnabled() {
		t.Error("sweeper should default to enabled")
	}
	if iv, _ := cfg.SweepInterval(); iv != time.Minute {
		t.Errorf("sweep interval = %s, want 1m", iv)
	}
	if n, _ := cfg.MaxUploadBytes(); n != 512*1024*1024 {
		t.Errorf("max upload = %d, want 512MiB", n)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9090"

[database]
url = "postgres://file/db"

[limits]
max_upload_size = "64MiB"
origin_max_drops = 16
thresholds = ["10MiB:24h", "100MiB:1h"]
`)
	t.Setenv("DROPBIN_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("env override lost: addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.URL != "postgres://file/db" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}

	limits, err := cfg.EngineLimits()
	if err != nil {
		t.Fatalf("engine limits: %v", err)
	}
	if limits.OriginMaxDrops != 16 {
		t.Errorf("origin max drops = %d", limits.OriginMaxDrops)
	}
	if len(limits.Thresholds) != 2 {
		t.Fatalf("thresholds = %d, want 2", len(limits.Thresholds))
	}
	if limits.Thresholds[0].MaxSize != 10*1024*1024 || limits.Thresholds[0].TTL != 24*time.Hour {
		t.Errorf("threshold[0] = %+v", limits.Thresholds[0])
	}
}

func TestSweeperExplicitDisableSurvivesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropbin")

	// No interval set: the interval gets its default, but the explicit
	// disable must not be turned back on with it.
	path := writeConfig(t, `
[sweeper]
enabled = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SweepEnabled() {
		t.Error("explicit enabled = false was overridden by defaults")
	}
	if iv, _ := cfg.SweepInterval(); iv != time.Minute {
		t.Errorf("sweep interval = %s, want default 1m", iv)
	}

	// Env override can still re-enable it.
	t.Setenv("DROPBIN_SWEEP_ENABLED", "true")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.SweepEnabled() {
		t.Error("DROPBIN_SWEEP_ENABLED=true did not re-enable the sweeper")
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without database url")
	}
}

func TestLoadMissingFileIsOptional(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropbin")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("missing file should be skipped: %v", err)
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		in      string
		size    int64
		ttl     time.Duration
		wantErr bool
	}{
		{"64MiB:24h", 64 * 1024 * 1024, 24 * time.Hour, false},
		{" 1GiB:30m ", 1024 * 1024 * 1024, 30 * time.Minute, false},
		{"64MiB", 0, 0, true},
		{"banana:1h", 0, 0, true},
		{"64MiB:soon", 0, 0, true},
		{"0:1h", 0, 0, true},
	}

	for _, tt := range tests {
		th, err := ParseThreshold(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseThreshold(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseThreshold(%q): %v", tt.in, err)
			continue
		}
		if th.MaxSize != tt.size || th.TTL != tt.ttl {
			t.Errorf("ParseThreshold(%q) = %+v", tt.in, th)
		}
	}
}

func TestThresholdOrderingEnforced(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropbin")

	// Sizes must increase.
	t.Setenv("DROPBIN_THRESHOLDS", "100MiB:1h,10MiB:24h")
	if _, err := Load(""); err == nil {
		t.Error("expected error for decreasing sizes")
	}

	// Durations must decrease.
	t.Setenv("DROPBIN_THRESHOLDS", "10MiB:1h,100MiB:24h")
	if _, err := Load(""); err == nil {
		t.Error("expected error for increasing durations")
	}

	t.Setenv("DROPBIN_THRESHOLDS", "10MiB:24h,100MiB:1h")
	if _, err := Load(""); err != nil {
		t.Errorf("well-ordered thresholds rejected: %v", err)
	}
}
