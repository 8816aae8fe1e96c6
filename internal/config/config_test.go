package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/laibrary/courier/internal/appdir"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Reconnect.InitialDelay() != time.Second {
		t.Errorf("initial delay = %v, want 1s", cfg.Reconnect.InitialDelay())
	}
	if cfg.Reconnect.MaxDelay() != 30*time.Second {
		t.Errorf("max delay = %v, want 30s", cfg.Reconnect.MaxDelay())
	}
	if cfg.Reconnect.Multiplier != 1.5 {
		t.Errorf("multiplier = %v, want 1.5", cfg.Reconnect.Multiplier)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("max attempts = %d, want 10", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.PollInterval() != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.Reconnect.PollInterval())
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://example.test:8000
reconnect:
  initial_delay_ms: 500
  multiplier: 2.0
  max_attempts: 5
cache:
  version: v7
  manifest: /etc/courier/manifest.txt
  watch_manifest: true
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != "http://example.test:8000" {
		t.Errorf("server url = %q", cfg.Server.URL)
	}
	if cfg.Reconnect.InitialDelay() != 500*time.Millisecond {
		t.Errorf("initial delay = %v", cfg.Reconnect.InitialDelay())
	}
	if cfg.Reconnect.Multiplier != 2.0 {
		t.Errorf("multiplier = %v", cfg.Reconnect.Multiplier)
	}
	// Omitted fields keep their defaults.
	if cfg.Reconnect.MaxDelay() != 30*time.Second {
		t.Errorf("max delay = %v, want default 30s", cfg.Reconnect.MaxDelay())
	}
	if cfg.Reconnect.PollInterval() != time.Second {
		t.Errorf("poll interval = %v, want default 1s", cfg.Reconnect.PollInterval())
	}
	if cfg.Cache.Version != "v7" || !cfg.Cache.WatchManifest {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_SparseFileKeepsSchedule(t *testing.T) {
	path := writeConfig(t, "server:\n  url: http://localhost:9999\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reconnect.InitialDelayMS != 1000 || cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("sparse config lost the reconnect defaults: %+v", cfg.Reconnect)
	}
	if cfg.Cache.Version != "v1" {
		t.Errorf("cache version = %q, want default v1", cfg.Cache.Version)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing server url",
			content: "server:\n  url: \"\"\n",
			wantErr: ErrMissingServerURL,
		},
		{
			name:    "multiplier too small",
			content: "server:\n  url: http://x\nreconnect:\n  multiplier: 0.9\n",
			wantErr: ErrBadMultiplier,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := Load(path)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadOrDefault_NoFile(t *testing.T) {
	t.Setenv(appdir.CourierDirEnv, t.TempDir())
	appdir.ResetCache()

	cfg, err := LoadOrDefault()
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Server.URL != Default().Server.URL {
		t.Errorf("server url = %q, want built-in default", cfg.Server.URL)
	}
}

func TestValidate_BadMaxAttempts(t *testing.T) {
	cfg := Default()
	cfg.Reconnect.MaxAttempts = 0
	if err := cfg.Validate(); !errors.Is(err, ErrBadMaxAttempts) {
		t.Fatalf("error = %v, want ErrBadMaxAttempts", err)
	}
}
