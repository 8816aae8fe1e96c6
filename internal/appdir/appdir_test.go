package appdir

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	want := t.TempDir()
	t.Setenv(CourierDirEnv, want)
	ResetCache()

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if dir != want {
		t.Errorf("Dir() = %q, want %q", dir, want)
	}
}

func TestDir_XDGDataHome(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG data dir applies to unix-like platforms only")
	}
	t.Setenv(CourierDirEnv, "")
	xdg := t.TempDir()
	t.Setenv("XDG_DATA_HOME", xdg)
	ResetCache()

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if want := filepath.Join(xdg, "courier"); dir != want {
		t.Errorf("Dir() = %q, want %q", dir, want)
	}
	ResetCache()
}

func TestDir_Cached(t *testing.T) {
	first := t.TempDir()
	t.Setenv(CourierDirEnv, first)
	ResetCache()

	if _, err := Dir(); err != nil {
		t.Fatalf("Dir failed: %v", err)
	}

	// The resolved path sticks even if the environment changes afterward.
	t.Setenv(CourierDirEnv, t.TempDir())
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if dir != first {
		t.Errorf("Dir() = %q, want cached %q", dir, first)
	}

	ResetCache()
}

func TestEnsureDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "courier")
	t.Setenv(CourierDirEnv, base)
	ResetCache()

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if fi, err := os.Stat(base); err != nil || !fi.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(base, CacheDirName)); err != nil || !fi.IsDir() {
		t.Errorf("cache dir not created: %v", err)
	}
}

func TestPaths(t *testing.T) {
	base := t.TempDir()
	t.Setenv(CourierDirEnv, base)
	ResetCache()

	cfg, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath failed: %v", err)
	}
	if cfg != filepath.Join(base, ConfigFileName) {
		t.Errorf("ConfigPath = %q", cfg)
	}

	cache, err := CacheDir()
	if err != nil {
		t.Fatalf("CacheDir failed: %v", err)
	}
	if cache != filepath.Join(base, CacheDirName) {
		t.Errorf("CacheDir = %q", cache)
	}

	logPath, err := LogPath()
	if err != nil {
		t.Fatalf("LogPath failed: %v", err)
	}
	if logPath != filepath.Join(base, LogFileName) {
		t.Errorf("LogPath = %q", logPath)
	}
}
