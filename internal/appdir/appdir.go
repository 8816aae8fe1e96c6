// Package appdir provides platform-native directory management for Courier.
// It handles locating and creating the Courier data directory, which stores
// the configuration file, logs, and the resource cache stores.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// CourierDirEnv is the environment variable to override the Courier directory.
	CourierDirEnv = "COURIER_DIR"

	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "config.yaml"

	// CacheDirName is the name of the resource cache subdirectory.
	CacheDirName = "cache"

	// LogFileName is the default log file name.
	LogFileName = "courier.log"
)

var (
	// cachedDir stores the resolved Courier directory to avoid repeated lookups.
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the Courier data directory path: COURIER_DIR when set,
// otherwise the platform default ($XDG_DATA_HOME/courier or
// ~/.local/share/courier on Linux, ~/Library/Application Support/Courier
// on macOS, %APPDATA%\Courier on Windows).
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the Courier directory path.
func resolveDir() (string, error) {
	if envDir := os.Getenv(CourierDirEnv); envDir != "" {
		return envDir, nil
	}

	// macOS and Windows keep application data under the same root the
	// standard library reports as the user config directory.
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve data directory: %w", err)
		}
		return filepath.Join(base, "Courier"), nil
	}

	// Everything else follows the XDG base directory spec for data, which
	// os.UserConfigDir does not cover.
	if dataDir := os.Getenv("XDG_DATA_HOME"); dataDir != "" {
		return filepath.Join(dataDir, "courier"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "courier"), nil
}

// EnsureDir creates the Courier data directory if it doesn't exist.
// It also creates the cache subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create Courier directory %s: %w", dir, err)
	}

	cacheDir := filepath.Join(dir, CacheDirName)
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}

	return nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// CacheDir returns the full path to the resource cache directory.
func CacheDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CacheDirName), nil
}

// LogPath returns the default log file path.
func LogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogFileName), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
