package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitialize_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.log")

	err := Initialize(Config{
		Level:   "debug",
		FileLog: &FileLogConfig{Path: path},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer Close()

	Get().Info("hello from test", "key", "value")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestWithComponent_Attribute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.log")
	if err := Initialize(Config{FileLog: &FileLogConfig{Path: path}}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer Close()

	Transport().Info("dialing")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "component=transport") {
		t.Errorf("component attribute missing: %q", data)
	}
}

func TestComponentFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.log")
	err := Initialize(Config{
		FileLog:    &FileLogConfig{Path: path},
		Components: []string{"reconnect"},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		Close()
		// Restore the pass-all filter for other tests.
		Initialize(Config{})
	}()

	Reconnect().Info("retry scheduled")
	Transport().Info("must be filtered out")

	data, _ := os.ReadFile(path)
	out := string(data)
	if !strings.Contains(out, "retry scheduled") {
		t.Errorf("allowed component filtered: %q", out)
	}
	if strings.Contains(out, "must be filtered out") {
		t.Errorf("disallowed component logged: %q", out)
	}
}

func TestWithClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.log")
	if err := Initialize(Config{FileLog: &FileLogConfig{Path: path}}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer Close()

	WithClient(Session(), "abc-123").Info("session event")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "client_id=abc-123") {
		t.Errorf("client id missing: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
