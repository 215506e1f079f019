// Package cachestore implements the key→blob JSON cache with per-entry
// expiry that backs ReleaseSource and PrereleaseHistory: atomic writes,
// URL-based keying for the releases cache, and a small in-memory mirror to
// avoid re-reading within a single run.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meshtastic/fetchtastic/internal/fileops"
)

// Store is a directory of JSON cache files plus a short-lived in-memory
// mirror of the most recently read blob (keyed by path), matching §4.3's
// "short-lived in-memory mirror... kept on the component instance."
type Store struct {
	Dir string

	mu     sync.Mutex
	mirror map[string]json.RawMessage
}

// New creates a Store rooted at dir. dir is created lazily on first write.
func New(dir string) *Store {
	return &Store{Dir: dir, mirror: make(map[string]json.RawMessage)}
}

// DefaultDir returns the platform user-cache directory for Fetchtastic,
// creating it if necessary.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	dir := filepath.Join(base, "fetchtastic")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	return dir, nil
}

// WriteWithExpiry writes {cached_at, [expires_at], <dataKey>: data} to path
// atomically. now is injectable for tests; pass time.Now in production.
func (s *Store) WriteWithExpiry(path, dataKey string, data any, ttl time.Duration, now time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	out := map[string]json.RawMessage{}
	cachedAt, _ := json.Marshal(now)
	out["cached_at"] = cachedAt
	if ttl > 0 {
		expiresAt, _ := json.Marshal(now.Add(ttl))
		out["expires_at"] = expiresAt
	}
	out[dataKey] = payload

	blob, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	if err := fileops.AtomicWriteJSON(path, blob); err != nil {
		return err
	}

	s.mu.Lock()
	s.mirror[path] = payload
	s.mu.Unlock()
	return nil
}

// ReadWithExpiry reads path and, if not a miss, unmarshals the dataKey
// field into out. A miss (invalid JSON, non-object root, missing
// cached_at, unparsable timestamp, or age >= ttl) returns (false, nil).
// Read failures are also reported as a miss; the error result is always
// nil.
func (s *Store) ReadWithExpiry(path, dataKey string, ttl time.Duration, now time.Time, out any) (bool, error) {
	raw := map[string]json.RawMessage{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nil // treat any read failure as a miss, never fatal
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, nil
	}

	cachedAtRaw, ok := raw["cached_at"]
	if !ok {
		return false, nil
	}
	var cachedAt time.Time
	if err := json.Unmarshal(cachedAtRaw, &cachedAt); err != nil {
		return false, nil
	}
	if ttl > 0 && now.Sub(cachedAt) >= ttl {
		return false, nil
	}

	payload, ok := raw[dataKey]
	if !ok {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return false, nil
		}
	}

	s.mu.Lock()
	s.mirror[path] = payload
	s.mu.Unlock()
	return true, nil
}

// ForceRefresh deletes the cache file at path, so a subsequent
// ReadWithExpiry unconditionally misses. Matches §4.3's "force-refresh
// deletes the file before miss handling."
func (s *Store) ForceRefresh(path string) {
	os.Remove(path)
	s.mu.Lock()
	delete(s.mirror, path)
	s.mu.Unlock()
}

// Clear removes every cache file under Dir (used by the orchestrator's
// force-refresh path, grounded on original_source's
// DownloadMigration.run_migration(force_refresh)).
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			os.Remove(filepath.Join(s.Dir, e.Name()))
		}
	}
	s.mu.Lock()
	s.mirror = make(map[string]json.RawMessage)
	s.mu.Unlock()
	return nil
}

// MirrorGet returns the in-memory mirror for path, if present, without
// touching disk. No reader in this module consults it: PrereleaseHistory
// and ReleaseSource read through ReadWithExpiry, which always reads the
// file.
func (s *Store) MirrorGet(path string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.mirror[path]
	return v, ok
}

// ReleasesCachePath returns the deterministic path for the URL-keyed
// releases cache entry for rawURL+params, e.g. "releases_<hash>.json".
func (s *Store) ReleasesCachePath(rawURL string, params map[string]string) string {
	return filepath.Join(s.Dir, "releases_"+ReleasesCacheKey(rawURL, params)+".json")
}

// ReleasesCacheKey derives a stable identifier from a URL and its query
// params, sorted by key so param order never changes the identifier.
func ReleasesCacheKey(rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// BuildURL joins rawURL with query params in a canonical (sorted) order,
// used by ReleaseSource when issuing the actual HTTP request.
func BuildURL(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
