package cache

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadManifest reads a resource manifest file: one resource path per
// line, blank lines and '#' comments ignored. Paths must be absolute
// (start with '/').
func LoadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			return nil, fmt.Errorf("manifest %s:%d: resource path must start with '/': %q", path, lineNo, line)
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return paths, nil
}
