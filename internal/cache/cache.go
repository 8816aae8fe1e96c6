// Package cache provides an offline store for the service's static
// resources, following a stale-while-revalidate policy.
//
// Each store is a SQLite database file whose name embeds a version tag;
// bumping the tag is the only supported invalidation mechanism. Install
// populates a new store atomically from a resource manifest, and Activate
// deletes every store carrying a different tag. Requests for live-channel
// paths are never cached: their responses are session-specific and must
// not be replayed.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Pure-Go SQLite driver; no cgo required.
	_ "modernc.org/sqlite"
)

const (
	storePrefix = "store-"
	storeSuffix = ".db"
)

// livePrefixes are request paths that always pass through to the network,
// uncached: the push-channel upgrade path and the API.
var livePrefixes = []string{"/ws", "/api/"}

// Errors returned by the cache.
var (
	ErrNotInstalled = errors.New("resource store not installed")
	ErrNotActivated = errors.New("resource store not activated")
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	path         TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	body         BLOB NOT NULL,
	fetched_at   TIMESTAMP NOT NULL
);
`

// Cache serves static resources from a versioned local store.
type Cache struct {
	dir      string
	version  string
	baseURL  string
	manifest []string

	httpClient *http.Client
	logger     *slog.Logger

	// syncRefresh makes background refreshes synchronous; used in tests.
	syncRefresh bool

	mu sync.Mutex
	db *sql.DB // nil until Activate succeeds

	refreshWG sync.WaitGroup
}

// Option configures the cache.
type Option func(*Cache)

// WithHTTPClient sets a custom HTTP client for resource fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(ca *Cache) {
		ca.httpClient = c
	}
}

// WithSynchronousRefresh makes stale-while-revalidate refreshes complete
// before Fetch returns. Intended for tests.
func WithSynchronousRefresh() Option {
	return func(ca *Cache) {
		ca.syncRefresh = true
	}
}

// New creates a cache over the store directory dir, versioned by version,
// fetching resources from the service at baseURL. The manifest lists the
// resource paths pre-populated at install time.
func New(dir, version, baseURL string, manifest []string, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		dir:      dir,
		version:  version,
		baseURL:  baseURL,
		manifest: manifest,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// storePath returns the store file path for the given version tag.
func (c *Cache) storePath(version string) string {
	return filepath.Join(c.dir, storePrefix+version+storeSuffix)
}

// SetManifest replaces the resource list used by the next Install. Used
// when the manifest file changes on disk.
func (c *Cache) SetManifest(paths []string) {
	c.mu.Lock()
	c.manifest = paths
	c.mu.Unlock()
}

// Install pre-populates a fresh store with every manifest resource. The
// store is committed only if all fetches succeed: the new file is built
// under a temporary name and renamed into place, so a partial population
// is never visible and any previous store remains authoritative.
func (c *Cache) Install(ctx context.Context) error {
	type fetched struct {
		path        string
		contentType string
		body        []byte
	}

	c.mu.Lock()
	manifest := c.manifest
	c.mu.Unlock()

	resources := make([]fetched, 0, len(manifest))
	for _, p := range manifest {
		body, contentType, err := c.fetchNetwork(ctx, p)
		if err != nil {
			return fmt.Errorf("install: fetch %s: %w", p, err)
		}
		resources = append(resources, fetched{path: p, contentType: contentType, body: body})
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	tmp := c.storePath(c.version) + ".tmp"
	// A leftover tmp file from an interrupted install is stale.
	os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("install: open store: %w", err)
	}

	err = func() error {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		for _, r := range resources {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO resources (path, content_type, body, fetched_at) VALUES (?, ?, ?, ?)`,
				r.path, r.contentType, r.body, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("store %s: %w", r.path, err)
			}
		}
		return tx.Commit()
	}()
	db.Close()

	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install: %w", err)
	}

	if err := os.Rename(tmp, c.storePath(c.version)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install: commit store: %w", err)
	}

	if c.logger != nil {
		c.logger.Info("Resource store installed",
			"version", c.version, "resources", len(resources))
	}
	return nil
}

// Activate deletes every store whose version tag differs from the current
// one and opens the current store for serving. It fails if the current
// store was never installed, leaving older stores untouched.
func (c *Cache) Activate() error {
	current := c.storePath(c.version)
	if _, err := os.Stat(current); err != nil {
		if os.IsNotExist(err) {
			return ErrNotInstalled
		}
		return fmt.Errorf("activate: %w", err)
	}

	stale, err := filepath.Glob(filepath.Join(c.dir, storePrefix+"*"+storeSuffix))
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	for _, path := range stale {
		if path == current {
			continue
		}
		if err := os.Remove(path); err != nil {
			if c.logger != nil {
				c.logger.Warn("Failed to delete stale store", "path", path, "error", err)
			}
			continue
		}
		if c.logger != nil {
			c.logger.Info("Deleted stale store", "path", path)
		}
	}

	db, err := sql.Open("sqlite", current+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("activate: open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("activate: init store: %w", err)
	}

	c.mu.Lock()
	old := c.db
	c.db = db
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Fetch serves one resource request. Live-channel paths pass through to
// the network untouched. For everything else: a cached copy is returned
// immediately while the store refreshes in the background; a miss goes to
// the network and is stored only on success.
func (c *Cache) Fetch(ctx context.Context, path string) ([]byte, string, error) {
	for _, prefix := range livePrefixes {
		if strings.HasPrefix(path, prefix) {
			return c.fetchNetwork(ctx, path)
		}
	}

	c.mu.Lock()
	db := c.db
	c.mu.Unlock()

	if db == nil {
		// Not activated: network-only behavior.
		return c.fetchNetwork(ctx, path)
	}

	var (
		body        []byte
		contentType string
	)
	err := db.QueryRowContext(ctx,
		`SELECT body, content_type FROM resources WHERE path = ?`, path).
		Scan(&body, &contentType)
	switch {
	case err == nil:
		// Hit: the cached copy satisfies the request; refresh for next
		// time and swallow any refresh failure.
		c.refreshWG.Add(1)
		if c.syncRefresh {
			c.refresh(path)
		} else {
			go c.refresh(path)
		}
		return body, contentType, nil

	case errors.Is(err, sql.ErrNoRows):
		body, contentType, ferr := c.fetchNetwork(ctx, path)
		if ferr != nil {
			return nil, "", ferr
		}
		if _, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO resources (path, content_type, body, fetched_at) VALUES (?, ?, ?, ?)`,
			path, contentType, body, time.Now().UTC()); err != nil {
			if c.logger != nil {
				c.logger.Warn("Failed to store fetched resource", "path", path, "error", err)
			}
		}
		return body, contentType, nil

	default:
		return nil, "", fmt.Errorf("fetch %s: %w", path, err)
	}
}

// refresh re-fetches one resource and updates the store. Failures are
// swallowed: the cache hit already satisfied the request.
func (c *Cache) refresh(path string) {
	defer c.refreshWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, contentType, err := c.fetchNetwork(ctx, path)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("Background refresh failed", "path", path, "error", err)
		}
		return
	}

	c.mu.Lock()
	db := c.db
	c.mu.Unlock()
	if db == nil {
		return
	}

	if _, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO resources (path, content_type, body, fetched_at) VALUES (?, ?, ?, ?)`,
		path, contentType, body, time.Now().UTC()); err != nil {
		if c.logger != nil {
			c.logger.Debug("Background refresh store failed", "path", path, "error", err)
		}
	}
}

// fetchNetwork performs a plain network fetch of one resource.
func (c *Cache) fetchNetwork(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: read: %w", path, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Cached reports whether the given path is present in the active store.
func (c *Cache) Cached(ctx context.Context, path string) (bool, error) {
	c.mu.Lock()
	db := c.db
	c.mu.Unlock()
	if db == nil {
		return false, ErrNotActivated
	}

	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM resources WHERE path = ?`, path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("cached %s: %w", path, err)
	}
	return n > 0, nil
}

// Close waits for in-flight refreshes and closes the active store.
func (c *Cache) Close() error {
	c.refreshWG.Wait()

	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()

	if db != nil {
		return db.Close()
	}
	return nil
}
